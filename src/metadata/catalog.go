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
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

type catalogQueries struct {
	columns    string
	primaryKey string
}

var catalogQueriesByDBType = map[string]catalogQueries{
	"mysql": {
		columns: `SELECT COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS ` +
			`WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`,
		primaryKey: `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE ` +
			`WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY' ORDER BY ORDINAL_POSITION`,
	},
	"postgresql": {
		columns: `SELECT column_name, ordinal_position, data_type FROM information_schema.columns ` +
			`WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		primaryKey: `SELECT kcu.column_name FROM information_schema.table_constraints tc ` +
			`JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name ` +
			`AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name ` +
			`WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2 ` +
			`ORDER BY kcu.ordinal_position`,
	},
	"oracle": {
		// NUMBER columns without scale hold integers.
		columns: `SELECT COLUMN_NAME, COLUMN_ID, CASE WHEN DATA_TYPE = 'NUMBER' AND DATA_SCALE = 0 ` +
			`THEN 'INTEGER' ELSE DATA_TYPE END FROM ALL_TAB_COLUMNS ` +
			`WHERE OWNER = :1 AND TABLE_NAME = :2 ORDER BY COLUMN_ID`,
		primaryKey: `SELECT cols.COLUMN_NAME FROM ALL_CONSTRAINTS cons JOIN ALL_CONS_COLUMNS cols ` +
			`ON cons.CONSTRAINT_NAME = cols.CONSTRAINT_NAME AND cons.OWNER = cols.OWNER ` +
			`WHERE cons.CONSTRAINT_TYPE = 'P' AND cons.OWNER = :1 AND cons.TABLE_NAME = :2 ORDER BY cols.POSITION`,
	},
}

// CatalogLoader reads metadata from the source database catalog.
type CatalogLoader struct {
	db      Querier
	dbType  string
	queries catalogQueries
}

func NewCatalogLoader(db Querier, dbType string) (*CatalogLoader, error) {
	queries, ok := catalogQueriesByDBType[strings.ToLower(dbType)]
	if !ok {
		return nil, goerrors.Errorf("no catalog queries for database type %q", dbType)
	}
	return &CatalogLoader{db: db, dbType: dbType, queries: queries}, nil
}

func (l *CatalogLoader) LoadTableMetaData(ctx context.Context, schema, table string) (*TableMetaData, error) {
	rows, err := l.db.QueryContext(ctx, l.queries.columns, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s.%s: %w", schema, table, err)
	}
	var columns []ColumnMetaData
	for rows.Next() {
		var col ColumnMetaData
		if err := rows.Scan(&col.Name, &col.Ordinal, &col.DataType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column of %s.%s: %w", schema, table, err)
		}
		columns = append(columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %s.%s: %w", schema, table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%s.%s: %w", schema, table, ErrTableNotFound)
	}

	pkRows, err := l.db.QueryContext(ctx, l.queries.primaryKey, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query primary key of %s.%s: %w", schema, table, err)
	}
	defer pkRows.Close()
	var pkColumns []string
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan primary key of %s.%s: %w", schema, table, err)
		}
		pkColumns = append(pkColumns, name)
	}
	if err := pkRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key of %s.%s: %w", schema, table, err)
	}

	log.Infof("loaded metadata of %s.%s: %d columns, primary key %v", schema, table, len(columns), pkColumns)
	return NewTableMetaData(schema, table, columns, pkColumns), nil
}

//=====================================================================================

// CachingLoader memoizes another Loader. Metadata is assumed immutable for the job lifetime.
type CachingLoader struct {
	delegate Loader
	cache    sync.Map // cacheKey -> *TableMetaData
}

func NewCachingLoader(delegate Loader) *CachingLoader {
	return &CachingLoader{delegate: delegate}
}

func (l *CachingLoader) LoadTableMetaData(ctx context.Context, schema, table string) (*TableMetaData, error) {
	key := cacheKey(schema, table)
	if t, ok := l.cache.Load(key); ok {
		return t.(*TableMetaData), nil
	}
	t, err := l.delegate.LoadTableMetaData(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	actual, _ := l.cache.LoadOrStore(key, t)
	return actual.(*TableMetaData), nil
}
