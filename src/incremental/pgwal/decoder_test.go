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

package pgwal

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
)

var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func beginMessageBytes(finalLSN pglogrepl.LSN, commitTime time.Time, xid uint32) []byte {
	buf := []byte{'B'}
	buf = binary.BigEndian.AppendUint64(buf, uint64(finalLSN))
	buf = binary.BigEndian.AppendUint64(buf, uint64(commitTime.Sub(pgEpoch).Microseconds()))
	buf = binary.BigEndian.AppendUint32(buf, xid)
	return buf
}

func tOrderRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:      16384,
		Namespace:       "public",
		RelationName:    "t_order",
		ReplicaIdentity: 'd',
		ColumnNum:       3,
		Columns: []*pglogrepl.RelationMessageColumn{
			{Flags: 1, Name: "order_id", DataType: pgtype.Int4OID, TypeModifier: -1},
			{Flags: 0, Name: "user_id", DataType: pgtype.Int4OID, TypeModifier: -1},
			{Flags: 0, Name: "status", DataType: pgtype.VarcharOID, TypeModifier: -1},
		},
	}
}

func textColumn(s string) *pglogrepl.TupleDataColumn {
	return &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeText, Length: uint32(len(s)), Data: []byte(s)}
}

func nullColumn() *pglogrepl.TupleDataColumn {
	return &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeNull}
}

func tuple(cols ...*pglogrepl.TupleDataColumn) *pglogrepl.TupleData {
	return &pglogrepl.TupleData{ColumnNum: uint16(len(cols)), Columns: cols}
}

func decodeOne(t *testing.T, d *MessageDecoder, walStart pglogrepl.LSN, msg pglogrepl.Message) incremental.Event {
	events, err := d.DecodeMessage(walStart, msg)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func TestDecodeBeginBecomesPlaceholderAtCommitLSN(t *testing.T) {
	commitTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := NewMessageDecoder()
	events, err := d.Decode(pglogrepl.LSN(0x16B3748), beginMessageBytes(0x16B3800, commitTime, 731))
	require.NoError(t, err)
	require.Len(t, events, 1)
	begin, ok := events[0].(*incremental.BeginEvent)
	require.True(t, ok)
	assert.Equal(t, position.NewLSNPosition(0x16B3800), begin.Pos)
	assert.Equal(t, uint32(731), begin.Xid)
	assert.True(t, commitTime.Equal(begin.CommitTime))

	conv := incremental.NewConverter(nil, nil)
	rec, err := conv.Convert(context.Background(), begin)
	require.NoError(t, err)
	assert.IsType(t, &record.PlaceholderRecord{}, rec)
	assert.Equal(t, "lsn:0/16B3800", rec.Position().String())
}

func TestDecodeTransaction(t *testing.T) {
	d := NewMessageDecoder()
	decodeOne(t, d, 0x100, &pglogrepl.BeginMessage{FinalLSN: 0x500, Xid: 9})
	relEv := decodeOne(t, d, 0x110, tOrderRelation())
	assert.IsType(t, &incremental.IgnoredEvent{}, relEv)
	assert.Equal(t, position.NewLSNPosition(0x500), relEv.Position())

	ev := decodeOne(t, d, 0x120, &pglogrepl.InsertMessage{
		RelationID: 16384,
		Tuple:      tuple(textColumn("101"), textColumn("1"), textColumn("OK")),
	})
	row := ev.(*incremental.RowEvent)
	assert.Equal(t, record.INSERT, row.Op)
	assert.Equal(t, "public", row.Schema)
	assert.Equal(t, "t_order", row.Table)
	assert.Equal(t, []any{int32(101), int32(1), "OK"}, row.After)
	assert.False(t, row.HasBefore)
	assert.Equal(t, position.NewLSNPosition(0x500), row.Pos)

	commit := decodeOne(t, d, 0x130, &pglogrepl.CommitMessage{CommitLSN: 0x500, TransactionEndLSN: 0x530})
	assert.IsType(t, &incremental.CommitEvent{}, commit)
	assert.Equal(t, position.NewLSNPosition(0x530), commit.Position())
}

func TestDecodeUpdateWithKeyOnlyOldTuple(t *testing.T) {
	d := NewMessageDecoder()
	decodeOne(t, d, 0x100, tOrderRelation())
	ev := decodeOne(t, d, 0x120, &pglogrepl.UpdateMessage{
		RelationID:   16384,
		OldTupleType: pglogrepl.UpdateMessageTupleTypeKey,
		OldTuple:     tuple(textColumn("101"), nullColumn(), nullColumn()),
		NewTuple:     tuple(textColumn("102"), textColumn("1"), &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeToast}),
	})
	row := ev.(*incremental.RowEvent)
	assert.Equal(t, record.UPDATE, row.Op)
	require.True(t, row.HasBefore)
	assert.Equal(t, int32(101), row.Before[0])
	assert.True(t, incremental.IsUnchanged(row.Before[1]))
	assert.True(t, incremental.IsUnchanged(row.After[2]))
}

func TestDecodeUpdateWithoutOldTuple(t *testing.T) {
	d := NewMessageDecoder()
	decodeOne(t, d, 0x100, tOrderRelation())
	ev := decodeOne(t, d, 0x120, &pglogrepl.UpdateMessage{
		RelationID: 16384,
		NewTuple:   tuple(textColumn("101"), textColumn("1"), textColumn("SHIPPED")),
	})
	row := ev.(*incremental.RowEvent)
	assert.False(t, row.HasBefore)
	assert.Nil(t, row.Before)
}

func TestDecodeDeleteAndTruncate(t *testing.T) {
	d := NewMessageDecoder()
	decodeOne(t, d, 0x100, tOrderRelation())
	ev := decodeOne(t, d, 0x120, &pglogrepl.DeleteMessage{
		RelationID:   16384,
		OldTupleType: pglogrepl.UpdateMessageTupleTypeKey,
		OldTuple:     tuple(textColumn("101"), nullColumn(), nullColumn()),
	})
	row := ev.(*incremental.RowEvent)
	assert.Equal(t, record.DELETE, row.Op)
	assert.Equal(t, []any{int32(101), nil, nil}, row.Before)

	events, err := d.DecodeMessage(0x130, &pglogrepl.TruncateMessage{RelationNum: 1, RelationIDs: []uint32{16384}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, incremental.TRUNCATE, events[0].(*incremental.RowEvent).Op)
}

func TestDecodeUnknownRelation(t *testing.T) {
	d := NewMessageDecoder()
	_, err := d.DecodeMessage(0x120, &pglogrepl.InsertMessage{RelationID: 1, Tuple: tuple(textColumn("1"))})
	assert.Error(t, err)
}

func TestDecodeTupleShapeMismatch(t *testing.T) {
	d := NewMessageDecoder()
	decodeOne(t, d, 0x100, tOrderRelation())
	_, err := d.DecodeMessage(0x120, &pglogrepl.InsertMessage{RelationID: 16384, Tuple: tuple(textColumn("1"))})
	assert.Error(t, err)
}

func TestReaderConfirmOnlyAdvances(t *testing.T) {
	r := NewReader(ReaderConfig{SlotName: "yb_reshard", Publication: "yb_reshard_pub"})
	r.Confirm(position.NewLSNPosition(0x500))
	r.Confirm(position.NewLSNPosition(0x400))
	r.Confirm(position.NewBinlogPosition("mysql-bin.000001", 4))
	assert.Equal(t, pglogrepl.LSN(0x500), r.confirmed)
	assert.Equal(t, DEFAULT_STANDBY_MESSAGE_TIMEOUT, r.cfg.StandbyMessageTimeout)
}
