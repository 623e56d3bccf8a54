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

package incremental

import (
	"context"
	"fmt"
	"time"

	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
)

// Event is a vendor-neutral change event, in source commit order.
// Implementations: *BeginEvent, *CommitEvent, *RowEvent, *IgnoredEvent.
type Event interface {
	Position() position.LogPosition
	isEvent()
}

type BeginEvent struct {
	Pos        position.LogPosition
	Xid        uint32
	CommitTime time.Time
}

type CommitEvent struct {
	Pos        position.LogPosition
	CommitTime time.Time
}

const TRUNCATE = record.TRUNCATE

// RowEvent carries raw values in column ordinal order.
type RowEvent struct {
	Pos    position.LogPosition
	Op     record.OperationType
	Schema string
	Table  string
	// Before is the before-image (UPDATE, DELETE). HasBefore is false when the source
	// did not send one.
	Before    []any
	HasBefore bool
	After     []any
}

// IgnoredEvent is anything that does not change rows: heartbeats, DDL, relation
// metadata, events of other databases.
type IgnoredEvent struct {
	Pos    position.LogPosition
	Reason string
}

func (e *BeginEvent) Position() position.LogPosition   { return e.Pos }
func (e *CommitEvent) Position() position.LogPosition  { return e.Pos }
func (e *RowEvent) Position() position.LogPosition     { return e.Pos }
func (e *IgnoredEvent) Position() position.LogPosition { return e.Pos }

func (*BeginEvent) isEvent()   {}
func (*CommitEvent) isEvent()  {}
func (*RowEvent) isEvent()     {}
func (*IgnoredEvent) isEvent() {}

func (e *RowEvent) String() string {
	return fmt.Sprintf("RowEvent{op=%s, table=%s.%s, position=%s}", e.Op, e.Schema, e.Table, e.Pos)
}

// unchangedValue marks a column whose value the source did not resend, such as an
// unchanged TOASTed column in a PostgreSQL update.
type unchangedValue struct{}

var Unchanged any = unchangedValue{}

func IsUnchanged(v any) bool {
	_, ok := v.(unchangedValue)
	return ok
}

// EventReader is implemented per source vendor.
type EventReader interface {
	// Start (re)opens the stream so that the next event read follows from. Any previously
	// open stream is closed first.
	Start(ctx context.Context, from position.LogPosition) error
	// ReadEvent blocks until the next event arrives or ctx is done. io.EOF means the
	// source ended the stream for good.
	ReadEvent(ctx context.Context) (Event, error)
	Close() error
}

// PositionAnchor reports the current end of the source's change log. A stream started at
// the returned position sees every change committed after the call returned.
type PositionAnchor interface {
	CurrentPosition(ctx context.Context) (position.LogPosition, error)
}
