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

package tgtdb

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// TargetWriter applies statements in order. Write returns only once every statement is
// durable on the target; a failed Write may have applied a prefix of the batch.
type TargetWriter interface {
	Write(ctx context.Context, stmts []Statement) error
}

// DBWriter executes each batch in one transaction on a target database.
type DBWriter struct {
	db *sql.DB
}

func NewDBWriter(db *sql.DB) *DBWriter {
	return &DBWriter{db: db}
}

func (w *DBWriter) Write(ctx context.Context, stmts []Statement) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction on target: %w", err)
	}
	defer func() {
		err := tx.Rollback()
		if err != nil && err != sql.ErrTxDone {
			log.Errorf("rollback transaction on target: %v", err)
		}
	}()
	executed := 0
	for _, stmt := range stmts {
		if stmt.IsPositionOnly() {
			continue
		}
		_, err = tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return fmt.Errorf("execute %s: %w", stmt, err)
		}
		executed++
	}
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit batch of %d statements: %w", executed, err)
	}
	log.Debugf("applied batch of %d statements on target", executed)
	return nil
}
