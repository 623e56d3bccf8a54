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

package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/yugabyte/yb-reshard/src/position"
)

type OperationType string

const (
	INSERT OperationType = "INSERT"
	UPDATE OperationType = "UPDATE"
	DELETE OperationType = "DELETE"
	// TRUNCATE removes every row of the table.
	TRUNCATE OperationType = "TRUNCATE"
)

// Record is the unit flowing through both the inventory and the incremental phase.
// Implementations: *DataRecord, *PlaceholderRecord, *FinishedRecord.
type Record interface {
	Position() position.Position
	isRecord()
}

type Column struct {
	Name  string
	Value any
	// OldValue is the before-image value for UPDATE records, nil when unknown.
	OldValue     any
	IsPrimaryKey bool
	// IsUpdated marks the columns changed by an UPDATE.
	IsUpdated bool
}

func (c Column) String() string {
	pk := lo.Ternary(c.IsPrimaryKey, "(PK)", "")
	return fmt.Sprintf("%s=%v%s", c.Name, c.Value, pk)
}

//=====================================================================================

type DataRecord struct {
	Schema     string
	TableName  string
	Type       OperationType
	Columns    []Column
	CommitTime time.Time

	position position.Position
}

func NewDataRecord(schema, tableName string, opType OperationType, pos position.Position) *DataRecord {
	mustHavePosition(pos)
	return &DataRecord{
		Schema:    schema,
		TableName: tableName,
		Type:      opType,
		position:  pos,
	}
}

func (r *DataRecord) Position() position.Position { return r.position }
func (r *DataRecord) isRecord()                   {}

func (r *DataRecord) AddColumn(col Column) {
	r.Columns = append(r.Columns, col)
}

func (r *DataRecord) PrimaryKeyColumns() []Column {
	return lo.Filter(r.Columns, func(c Column, _ int) bool { return c.IsPrimaryKey })
}

func (r *DataRecord) UpdatedColumns() []Column {
	return lo.Filter(r.Columns, func(c Column, _ int) bool { return c.IsUpdated })
}

func (r *DataRecord) Column(name string) (Column, bool) {
	return lo.Find(r.Columns, func(c Column) bool { return c.Name == name })
}

// Key identifies the row a record applies to: logical table plus primary key values.
// For UPDATEs that change the key, the old key value is used.
func (r *DataRecord) Key() string {
	parts := lo.Map(r.PrimaryKeyColumns(), func(c Column, _ int) string {
		v := c.Value
		if r.Type == UPDATE && c.OldValue != nil {
			v = c.OldValue
		}
		return fmt.Sprintf("%v", v)
	})
	return r.QualifiedTableName() + "/" + strings.Join(parts, ",")
}

func (r *DataRecord) QualifiedTableName() string {
	if r.Schema == "" {
		return r.TableName
	}
	return r.Schema + "." + r.TableName
}

func (r *DataRecord) String() string {
	return fmt.Sprintf("DataRecord{table=%s, type=%s, columns=%v, position=%s}",
		r.QualifiedTableName(), r.Type, r.Columns, r.position)
}

//=====================================================================================

// PlaceholderRecord carries only a position: transaction boundaries and events for
// tables outside the migration scope still have to advance progress.
type PlaceholderRecord struct {
	position position.Position
}

func NewPlaceholderRecord(pos position.Position) *PlaceholderRecord {
	mustHavePosition(pos)
	return &PlaceholderRecord{position: pos}
}

func (r *PlaceholderRecord) Position() position.Position { return r.position }
func (r *PlaceholderRecord) isRecord()                   {}

func (r *PlaceholderRecord) String() string {
	return fmt.Sprintf("PlaceholderRecord{position=%s}", r.position)
}

// FinishedRecord is the last record of an inventory task.
type FinishedRecord struct {
	position position.Position
}

func NewFinishedRecord(pos position.Position) *FinishedRecord {
	mustHavePosition(pos)
	return &FinishedRecord{position: pos}
}

func (r *FinishedRecord) Position() position.Position { return r.position }
func (r *FinishedRecord) isRecord()                   {}

func (r *FinishedRecord) String() string {
	return fmt.Sprintf("FinishedRecord{position=%s}", r.position)
}

func mustHavePosition(pos position.Position) {
	if pos == nil {
		panic("record position must not be nil")
	}
}
