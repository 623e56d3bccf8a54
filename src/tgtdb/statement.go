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
	"fmt"

	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"

	"github.com/yugabyte/yb-reshard/src/dialect"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
)

// Statement is one parameterised DML statement for the target. An empty SQL carries only
// a position: it has to be acknowledged but nothing is executed.
type Statement struct {
	SQL      string
	Args     []any
	Table    string // logical schema.table, empty for position-only statements
	Op       record.OperationType
	Position position.Position
}

func (s Statement) IsPositionOnly() bool {
	return s.SQL == ""
}

func (s Statement) String() string {
	if s.IsPositionOnly() {
		return fmt.Sprintf("Statement{position=%s}", s.Position)
	}
	return fmt.Sprintf("Statement{table=%s, op=%s, sql=%q, args=%v, position=%s}", s.Table, s.Op, s.SQL, s.Args, s.Position)
}

type StatementGenerator struct {
	builder      dialect.SQLBuilder
	targetSchema string
}

// NewStatementGenerator builds statements in the target's dialect. A non-empty targetSchema
// replaces the schema of every record.
func NewStatementGenerator(builder dialect.SQLBuilder, targetSchema string) *StatementGenerator {
	return &StatementGenerator{builder: builder, targetSchema: targetSchema}
}

// Generate returns the statement applying rec and whether it has SQL to execute.
func (g *StatementGenerator) Generate(rec record.Record) (Statement, bool, error) {
	dr, ok := rec.(*record.DataRecord)
	if !ok {
		return Statement{Position: rec.Position()}, false, nil
	}
	schema := lo.Ternary(g.targetSchema != "", g.targetSchema, dr.Schema)
	stmt := Statement{
		Table:    dr.QualifiedTableName(),
		Op:       dr.Type,
		Position: dr.Position(),
	}
	switch dr.Type {
	case record.INSERT:
		stmt.SQL = g.builder.BuildInsertSQL(schema, dr.TableName, dr.Columns)
		stmt.Args = values(dr.Columns)
	case record.UPDATE:
		keys := dr.PrimaryKeyColumns()
		if len(keys) == 0 {
			return Statement{}, false, goerrors.Errorf("update on %s without primary key", dr.QualifiedTableName())
		}
		updated := dr.UpdatedColumns()
		if len(updated) == 0 {
			// nothing changed, the position still has to move
			return Statement{Position: dr.Position()}, false, nil
		}
		stmt.SQL = g.builder.BuildUpdateSQL(schema, dr.TableName, keys, updated)
		stmt.Args = append(values(updated), keyValues(keys)...)
	case record.DELETE:
		keys := dr.PrimaryKeyColumns()
		if len(keys) == 0 {
			return Statement{}, false, goerrors.Errorf("delete on %s without primary key", dr.QualifiedTableName())
		}
		stmt.SQL = g.builder.BuildDeleteSQL(schema, dr.TableName, keys)
		stmt.Args = keyValues(keys)
	case record.TRUNCATE:
		stmt.SQL = g.builder.BuildDeleteSQL(schema, dr.TableName, nil)
	default:
		return Statement{}, false, goerrors.Errorf("unknown operation %s on %s", dr.Type, dr.QualifiedTableName())
	}
	return stmt, true, nil
}

func values(columns []record.Column) []any {
	return lo.Map(columns, func(c record.Column, _ int) any { return c.Value })
}

// keyValues locates the row by its old key when the key itself was updated.
func keyValues(keys []record.Column) []any {
	return lo.Map(keys, func(c record.Column, _ int) any {
		if c.OldValue != nil {
			return c.OldValue
		}
		return c.Value
	})
}
