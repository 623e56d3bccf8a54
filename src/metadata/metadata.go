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
	"database/sql"
	"errors"
	"strings"

	"github.com/samber/lo"
)

var ErrTableNotFound = errors.New("table metadata not found")

// Querier is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Loader provides column and primary key metadata. It must be callable before
// splitting a table and before the first row of that table is converted.
type Loader interface {
	LoadTableMetaData(ctx context.Context, schema, table string) (*TableMetaData, error)
}

type TableMetaData struct {
	Schema            string
	Name              string
	Columns           []ColumnMetaData // ordered by Ordinal
	PrimaryKeyColumns []string         // in key order
}

type ColumnMetaData struct {
	Name         string
	Ordinal      int // 1-based
	DataType     string
	TypeCode     TypeCode
	IsPrimaryKey bool
}

func NewTableMetaData(schema, name string, columns []ColumnMetaData, primaryKeyColumns []string) *TableMetaData {
	for i := range columns {
		if columns[i].Ordinal == 0 {
			columns[i].Ordinal = i + 1
		}
		if columns[i].TypeCode == UNKNOWN {
			columns[i].TypeCode = TypeCodeOf(columns[i].DataType)
		}
		columns[i].IsPrimaryKey = lo.Contains(primaryKeyColumns, columns[i].Name)
	}
	return &TableMetaData{
		Schema:            schema,
		Name:              name,
		Columns:           columns,
		PrimaryKeyColumns: primaryKeyColumns,
	}
}

func (t *TableMetaData) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

func (t *TableMetaData) Column(name string) (ColumnMetaData, bool) {
	return lo.Find(t.Columns, func(c ColumnMetaData) bool { return strings.EqualFold(c.Name, name) })
}

// ColumnAt returns the column with the given 1-based ordinal.
func (t *TableMetaData) ColumnAt(ordinal int) (ColumnMetaData, bool) {
	if ordinal < 1 || ordinal > len(t.Columns) {
		return ColumnMetaData{}, false
	}
	return t.Columns[ordinal-1], true
}

// IsSingleIntegerKey reports whether the table has exactly one primary key column of an
// integer family type, the precondition for range splitting.
func (t *TableMetaData) IsSingleIntegerKey() bool {
	if len(t.PrimaryKeyColumns) != 1 {
		return false
	}
	col, ok := t.Column(t.PrimaryKeyColumns[0])
	return ok && col.TypeCode == INTEGER
}

//=====================================================================================

// StaticLoader serves metadata that was gathered up front.
type StaticLoader struct {
	tables map[string]*TableMetaData
}

func NewStaticLoader(tables ...*TableMetaData) *StaticLoader {
	l := &StaticLoader{tables: make(map[string]*TableMetaData)}
	for _, t := range tables {
		l.tables[cacheKey(t.Schema, t.Name)] = t
	}
	return l
}

func (l *StaticLoader) LoadTableMetaData(_ context.Context, schema, table string) (*TableMetaData, error) {
	t, ok := l.tables[cacheKey(schema, table)]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

func cacheKey(schema, table string) string {
	return strings.ToLower(schema + "." + table)
}
