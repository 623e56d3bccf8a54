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

package pgwal

import (
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
)

// MessageDecoder turns pgoutput messages into events.
//
// pgoutput sends transactions in commit order but each change carries the WAL location of
// the change itself, which can be older than an already streamed commit. Events inside a
// transaction therefore carry the transaction's commit LSN and the commit event carries
// its end LSN. Resuming from a commit LSN replays the whole transaction; resuming from an
// end LSN skips it.
type MessageDecoder struct {
	relations map[uint32]*pglogrepl.RelationMessage
	typeMap   *pgtype.Map

	inTx       bool
	txFinalLSN pglogrepl.LSN
}

func NewMessageDecoder() *MessageDecoder {
	return &MessageDecoder{
		relations: make(map[uint32]*pglogrepl.RelationMessage),
		typeMap:   pgtype.NewMap(),
	}
}

func (d *MessageDecoder) Decode(walStart pglogrepl.LSN, walData []byte) ([]incremental.Event, error) {
	msg, err := pglogrepl.Parse(walData)
	if err != nil {
		return nil, fmt.Errorf("parse logical replication message at %s: %w", walStart, err)
	}
	return d.DecodeMessage(walStart, msg)
}

func (d *MessageDecoder) position(walStart pglogrepl.LSN) position.LSNPosition {
	if d.inTx {
		return position.NewLSNPosition(d.txFinalLSN)
	}
	return position.NewLSNPosition(walStart)
}

func (d *MessageDecoder) DecodeMessage(walStart pglogrepl.LSN, msg pglogrepl.Message) ([]incremental.Event, error) {
	switch msg := msg.(type) {
	case *pglogrepl.RelationMessage:
		d.relations[msg.RelationID] = msg
		return []incremental.Event{&incremental.IgnoredEvent{Pos: d.position(walStart), Reason: "relation " + msg.RelationName}}, nil

	case *pglogrepl.BeginMessage:
		d.inTx = true
		d.txFinalLSN = msg.FinalLSN
		return []incremental.Event{&incremental.BeginEvent{
			Pos:        position.NewLSNPosition(msg.FinalLSN),
			Xid:        msg.Xid,
			CommitTime: msg.CommitTime,
		}}, nil

	case *pglogrepl.CommitMessage:
		d.inTx = false
		return []incremental.Event{&incremental.CommitEvent{
			Pos:        position.NewLSNPosition(msg.TransactionEndLSN),
			CommitTime: msg.CommitTime,
		}}, nil

	case *pglogrepl.InsertMessage:
		rel, err := d.relation(msg.RelationID)
		if err != nil {
			return nil, err
		}
		after, err := d.decodeTuple(rel, msg.Tuple, false)
		if err != nil {
			return nil, err
		}
		return []incremental.Event{d.rowEvent(walStart, rel, record.INSERT, nil, after)}, nil

	case *pglogrepl.UpdateMessage:
		rel, err := d.relation(msg.RelationID)
		if err != nil {
			return nil, err
		}
		after, err := d.decodeTuple(rel, msg.NewTuple, false)
		if err != nil {
			return nil, err
		}
		var before []any
		if msg.OldTuple != nil {
			keyOnly := msg.OldTupleType == pglogrepl.UpdateMessageTupleTypeKey
			before, err = d.decodeTuple(rel, msg.OldTuple, keyOnly)
			if err != nil {
				return nil, err
			}
		}
		return []incremental.Event{d.rowEvent(walStart, rel, record.UPDATE, before, after)}, nil

	case *pglogrepl.DeleteMessage:
		rel, err := d.relation(msg.RelationID)
		if err != nil {
			return nil, err
		}
		var before []any
		if msg.OldTuple != nil {
			before, err = d.decodeTuple(rel, msg.OldTuple, false)
			if err != nil {
				return nil, err
			}
		}
		return []incremental.Event{d.rowEvent(walStart, rel, record.DELETE, before, nil)}, nil

	case *pglogrepl.TruncateMessage:
		var events []incremental.Event
		for _, relID := range msg.RelationIDs {
			rel, err := d.relation(relID)
			if err != nil {
				return nil, err
			}
			events = append(events, d.rowEvent(walStart, rel, incremental.TRUNCATE, nil, nil))
		}
		return events, nil

	default:
		log.Debugf("ignoring logical replication message %s at %s", msg.Type(), walStart)
		return []incremental.Event{&incremental.IgnoredEvent{Pos: d.position(walStart), Reason: msg.Type().String()}}, nil
	}
}

func (d *MessageDecoder) relation(id uint32) (*pglogrepl.RelationMessage, error) {
	rel, ok := d.relations[id]
	if !ok {
		return nil, fmt.Errorf("unknown relation ID %d", id)
	}
	return rel, nil
}

func (d *MessageDecoder) rowEvent(walStart pglogrepl.LSN, rel *pglogrepl.RelationMessage,
	op record.OperationType, before, after []any) *incremental.RowEvent {

	return &incremental.RowEvent{
		Pos:       d.position(walStart),
		Op:        op,
		Schema:    rel.Namespace,
		Table:     rel.RelationName,
		Before:    before,
		HasBefore: before != nil,
		After:     after,
	}
}

// decodeTuple returns values in relation column order. In a key-only tuple the non-key
// columns are not sent and are reported as unchanged.
func (d *MessageDecoder) decodeTuple(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData, keyOnly bool) ([]any, error) {
	if tuple == nil {
		return nil, nil
	}
	if len(tuple.Columns) != len(rel.Columns) {
		return nil, fmt.Errorf("relation %s.%s: tuple has %d columns, relation %d",
			rel.Namespace, rel.RelationName, len(tuple.Columns), len(rel.Columns))
	}
	values := make([]any, len(tuple.Columns))
	for i, col := range tuple.Columns {
		relCol := rel.Columns[i]
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			if keyOnly && relCol.Flags&1 == 0 {
				values[i] = incremental.Unchanged
			} else {
				values[i] = nil
			}
		case pglogrepl.TupleDataTypeToast:
			values[i] = incremental.Unchanged
		case pglogrepl.TupleDataTypeText:
			v, err := d.decodeValue(col.Data, relCol.DataType, pgtype.TextFormatCode)
			if err != nil {
				return nil, fmt.Errorf("decode column %s: %w", relCol.Name, err)
			}
			values[i] = v
		case pglogrepl.TupleDataTypeBinary:
			v, err := d.decodeValue(col.Data, relCol.DataType, pgtype.BinaryFormatCode)
			if err != nil {
				return nil, fmt.Errorf("decode column %s: %w", relCol.Name, err)
			}
			values[i] = v
		default:
			return nil, fmt.Errorf("column %s: unknown tuple data type %q", relCol.Name, col.DataType)
		}
	}
	return values, nil
}

func (d *MessageDecoder) decodeValue(data []byte, oid uint32, format int16) (any, error) {
	if dt, ok := d.typeMap.TypeForOID(oid); ok {
		return dt.Codec.DecodeValue(d.typeMap, oid, format, data)
	}
	if format == pgtype.TextFormatCode {
		return string(data), nil
	}
	return data, nil
}
