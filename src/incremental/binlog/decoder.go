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

package binlog

import (
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/replication"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
)

// EventDecoder turns binlog events into events.
//
// A binlog stream can only be resumed at an event boundary outside a half-read transaction
// (row events need their table map events). Events inside a transaction therefore carry
// the position of the transaction's BEGIN; the commit carries the position after the XID
// event.
type EventDecoder struct {
	file       string
	inTx       bool
	txBeginPos uint32
}

func NewEventDecoder(file string) *EventDecoder {
	return &EventDecoder{file: file}
}

func (d *EventDecoder) position(offset uint32) position.BinlogPosition {
	if d.inTx {
		return position.NewBinlogPosition(d.file, d.txBeginPos)
	}
	return position.NewBinlogPosition(d.file, offset)
}

func (d *EventDecoder) Decode(ev *replication.BinlogEvent) []incremental.Event {
	header := ev.Header
	switch e := ev.Event.(type) {
	case *replication.RotateEvent:
		d.file = string(e.NextLogName)
		return []incremental.Event{&incremental.IgnoredEvent{
			Pos:    position.NewBinlogPosition(d.file, uint32(e.Position)),
			Reason: "rotate to " + d.file,
		}}

	case *replication.QueryEvent:
		query := strings.ToUpper(strings.TrimSpace(string(e.Query)))
		switch query {
		case "BEGIN":
			d.inTx = true
			d.txBeginPos = header.LogPos - header.EventSize
			return []incremental.Event{&incremental.BeginEvent{
				Pos:        position.NewBinlogPosition(d.file, d.txBeginPos),
				CommitTime: time.Unix(int64(header.Timestamp), 0),
			}}
		case "COMMIT":
			// Non-transactional engines end with a COMMIT query instead of an XID event.
			d.inTx = false
			return []incremental.Event{&incremental.CommitEvent{
				Pos:        position.NewBinlogPosition(d.file, header.LogPos),
				CommitTime: time.Unix(int64(header.Timestamp), 0),
			}}
		default:
			log.Debugf("ignoring query event in schema %s: %s", e.Schema, e.Query)
			return []incremental.Event{&incremental.IgnoredEvent{Pos: d.position(header.LogPos), Reason: "query"}}
		}

	case *replication.XIDEvent:
		d.inTx = false
		return []incremental.Event{&incremental.CommitEvent{
			Pos:        position.NewBinlogPosition(d.file, header.LogPos),
			CommitTime: time.Unix(int64(header.Timestamp), 0),
		}}

	case *replication.RowsEvent:
		return d.decodeRows(header, e)

	default:
		return []incremental.Event{&incremental.IgnoredEvent{Pos: d.position(header.LogPos), Reason: header.EventType.String()}}
	}
}

func (d *EventDecoder) decodeRows(header *replication.EventHeader, e *replication.RowsEvent) []incremental.Event {
	pos := d.position(header.LogPos)
	schema, table := string(e.Table.Schema), string(e.Table.Table)
	var events []incremental.Event
	switch header.EventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		for _, row := range e.Rows {
			events = append(events, &incremental.RowEvent{
				Pos: pos, Op: record.INSERT, Schema: schema, Table: table, After: row,
			})
		}
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		// Rows alternate before-image, after-image.
		for i := 0; i+1 < len(e.Rows); i += 2 {
			events = append(events, &incremental.RowEvent{
				Pos: pos, Op: record.UPDATE, Schema: schema, Table: table,
				Before: e.Rows[i], HasBefore: true, After: e.Rows[i+1],
			})
		}
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		for _, row := range e.Rows {
			events = append(events, &incremental.RowEvent{
				Pos: pos, Op: record.DELETE, Schema: schema, Table: table, Before: row, HasBefore: true,
			})
		}
	default:
		events = append(events, &incremental.IgnoredEvent{Pos: pos, Reason: header.EventType.String()})
	}
	return events
}
