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

package metadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

const (
	PROGRESS_TABLE_NAME     = "progress"
	JSON_OBJECTS_TABLE_NAME = "json_objects"

	SQLITE_OPTIONS = "?_txlock=exclusive&_timeout=30000"
)

// migrations[i] moves the schema from user_version i to i+1. Append only.
var migrations = []string{
	fmt.Sprintf(`CREATE TABLE %s (
		key TEXT PRIMARY KEY,
		position TEXT NOT NULL,
		updated_at INTEGER);`, PROGRESS_TABLE_NAME),
	fmt.Sprintf(`CREATE TABLE %s (
		key TEXT PRIMARY KEY,
		json_text TEXT);`, JSON_OBJECTS_TABLE_NAME),
}

func GetMetaDBPath(exportDir string) string {
	return filepath.Join(exportDir, "metainfo", "meta.db")
}

// CreateAndInitMetaDBIfRequired creates the meta db under exportDir and brings its schema
// up to date. Safe to call on every command start.
func CreateAndInitMetaDBIfRequired(exportDir string) error {
	path := GetMetaDBPath(exportDir)
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("create metainfo dir: %w", err)
	}
	db, err := openSqlite(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrate(context.Background(), db)
}

func openSqlite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+SQLITE_OPTIONS)
	if err != nil {
		return nil, fmt.Errorf("open meta db %s: %w", path, err)
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read meta db schema version: %w", err)
	}
	for ; version < len(migrations); version++ {
		stmt := migrations[version]
		_, err = db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("migrate meta db to version %d: %w", version+1, err)
		}
		// PRAGMA does not take bind parameters.
		_, err = db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, version+1))
		if err != nil {
			return fmt.Errorf("set meta db schema version %d: %w", version+1, err)
		}
		log.Infof("meta db migrated to version %d: %s", version+1, stmt)
	}
	return nil
}

// =====================================================================================================================

type MetaDB struct {
	db        *sql.DB
	exportDir string
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewMetaDB(exportDir string) (*MetaDB, error) {
	path := GetMetaDBPath(exportDir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("meta db not initialised in %s: %w", exportDir, err)
	}
	db, err := openSqlite(path)
	if err != nil {
		return nil, err
	}
	return &MetaDB{db: db, exportDir: exportDir}, nil
}

func (m *MetaDB) ExportDir() string {
	return m.exportDir
}

func (m *MetaDB) Close() error {
	return m.db.Close()
}

func (m *MetaDB) or(q querier) querier {
	if q == nil {
		return m.db
	}
	return q
}

// PutJsonObject stores obj under key, replacing any earlier value. q may be nil.
func (m *MetaDB) PutJsonObject(q querier, key string, obj any) error {
	jsonText, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, json_text) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET json_text = excluded.json_text`, JSON_OBJECTS_TABLE_NAME)
	_, err = m.or(q).ExecContext(context.Background(), query, key, string(jsonText))
	if err != nil {
		return fmt.Errorf("store json object %s: %w", key, err)
	}
	log.Debugf("stored json object %s", key)
	return nil
}

// GetJsonObject decodes the value under key into obj and reports whether it was found.
func (m *MetaDB) GetJsonObject(q querier, key string, obj any) (bool, error) {
	query := fmt.Sprintf(`SELECT json_text FROM %s WHERE key = ?`, JSON_OBJECTS_TABLE_NAME)
	var jsonText string
	err := m.or(q).QueryRowContext(context.Background(), query, key).Scan(&jsonText)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read json object %s: %w", key, err)
	}
	err = json.Unmarshal([]byte(jsonText), obj)
	if err != nil {
		return true, fmt.Errorf("unmarshal json object %s: %w", key, err)
	}
	return true, nil
}

func (m *MetaDB) DeleteJsonObject(key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, JSON_OBJECTS_TABLE_NAME)
	_, err := m.db.Exec(query, key)
	if err != nil {
		return fmt.Errorf("delete json object %s: %w", key, err)
	}
	return nil
}

// withTx runs fn in a transaction that is committed only if fn succeeds.
func (m *MetaDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction on meta db: %w", err)
	}
	defer func() {
		err := tx.Rollback()
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Errorf("rollback transaction on meta db: %v", err)
		}
	}()
	err = fn(tx)
	if err != nil {
		return err
	}
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit transaction on meta db: %w", err)
	}
	return nil
}

// UpdateJsonObjectInMetaDB applies updateFn to the object under key as one read-modify-write.
// A missing object starts out as the zero value of T.
func UpdateJsonObjectInMetaDB[T any](m *MetaDB, key string, updateFn func(obj *T)) error {
	return m.withTx(context.Background(), func(tx *sql.Tx) error {
		obj := new(T)
		_, err := m.GetJsonObject(tx, key, obj)
		if err != nil {
			return err
		}
		updateFn(obj)
		return m.PutJsonObject(tx, key, obj)
	})
}
