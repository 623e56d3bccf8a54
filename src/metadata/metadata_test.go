//go:build unit

/*
Copyright (c) YugabyteDB, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metadata

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeCodeOf(t *testing.T) {
	tests := []struct {
		dataType string
		want     TypeCode
	}{
		{"int", INTEGER},
		{"BIGINT", INTEGER},
		{"int(10) unsigned", INTEGER},
		{"INTEGER", INTEGER},
		{"numeric(10,2)", DECIMAL},
		{"character varying", STRING},
		{"VARCHAR2", STRING},
		{"timestamp with time zone", TEMPORAL},
		{"bytea", BINARY},
		{"boolean", BOOLEAN},
		{"geometry", OTHER},
		{"", UNKNOWN},
	}
	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeCodeOf(tt.dataType))
		})
	}
}

func TestIsSingleIntegerKey(t *testing.T) {
	cols := []ColumnMetaData{{Name: "order_id", DataType: "int"}, {Name: "status", DataType: "varchar"}}
	assert.True(t, NewTableMetaData("public", "t_order", cols, []string{"order_id"}).IsSingleIntegerKey())

	cols = []ColumnMetaData{{Name: "order_id", DataType: "varchar"}}
	assert.False(t, NewTableMetaData("public", "t_order", cols, []string{"order_id"}).IsSingleIntegerKey())

	cols = []ColumnMetaData{{Name: "a", DataType: "int"}, {Name: "b", DataType: "int"}}
	assert.False(t, NewTableMetaData("public", "t", cols, []string{"a", "b"}).IsSingleIntegerKey())
	assert.False(t, NewTableMetaData("public", "t", cols, nil).IsSingleIntegerKey())
}

func TestNewTableMetaDataFillsDefaults(t *testing.T) {
	table := NewTableMetaData("public", "t_order",
		[]ColumnMetaData{{Name: "order_id", DataType: "int"}, {Name: "status", DataType: "text"}},
		[]string{"order_id"})

	col, ok := table.ColumnAt(2)
	require.True(t, ok)
	assert.Equal(t, "status", col.Name)
	assert.Equal(t, 2, col.Ordinal)
	assert.Equal(t, STRING, col.TypeCode)
	assert.False(t, col.IsPrimaryKey)

	col, ok = table.Column("ORDER_ID")
	require.True(t, ok)
	assert.True(t, col.IsPrimaryKey)

	_, ok = table.ColumnAt(3)
	assert.False(t, ok)
}

func TestCatalogLoaderPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("public", "t_order").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "ordinal_position", "data_type"}).
			AddRow("order_id", 1, "integer").
			AddRow("user_id", 2, "integer").
			AddRow("status", 3, "character varying"))
	mock.ExpectQuery(regexp.QuoteMeta("constraint_type = 'PRIMARY KEY'")).
		WithArgs("public", "t_order").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("order_id"))

	loader, err := NewCatalogLoader(db, "postgresql")
	require.NoError(t, err)
	table, err := loader.LoadTableMetaData(context.Background(), "public", "t_order")
	require.NoError(t, err)

	assert.Equal(t, []string{"order_id"}, table.PrimaryKeyColumns)
	assert.Len(t, table.Columns, 3)
	assert.True(t, table.IsSingleIntegerKey())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogLoaderMissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "ORDINAL_POSITION", "DATA_TYPE"}))

	loader, err := NewCatalogLoader(db, "mysql")
	require.NoError(t, err)
	_, err = loader.LoadTableMetaData(context.Background(), "shop", "missing")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestNewCatalogLoaderUnknownDBType(t *testing.T) {
	_, err := NewCatalogLoader(nil, "db2")
	assert.Error(t, err)
}

type countingLoader struct {
	calls int
	table *TableMetaData
}

func (l *countingLoader) LoadTableMetaData(_ context.Context, schema, table string) (*TableMetaData, error) {
	l.calls++
	if table != l.table.Name {
		return nil, errors.New("boom")
	}
	return l.table, nil
}

func TestCachingLoader(t *testing.T) {
	delegate := &countingLoader{table: NewTableMetaData("public", "t_order", []ColumnMetaData{{Name: "id", DataType: "int"}}, []string{"id"})}
	loader := NewCachingLoader(delegate)

	for i := 0; i < 3; i++ {
		table, err := loader.LoadTableMetaData(context.Background(), "public", "t_order")
		require.NoError(t, err)
		assert.Equal(t, "t_order", table.Name)
	}
	assert.Equal(t, 1, delegate.calls)

	_, err := loader.LoadTableMetaData(context.Background(), "public", "other")
	assert.Error(t, err)
	_, err = loader.LoadTableMetaData(context.Background(), "public", "other")
	assert.Error(t, err)
	assert.Equal(t, 3, delegate.calls)
}

func TestStaticLoader(t *testing.T) {
	loader := NewStaticLoader(NewTableMetaData("public", "t_order", nil, nil))
	_, err := loader.LoadTableMetaData(context.Background(), "PUBLIC", "T_ORDER")
	assert.NoError(t, err)
	_, err = loader.LoadTableMetaData(context.Background(), "public", "t_user")
	assert.ErrorIs(t, err, ErrTableNotFound)
}
