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

package tgtdb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
)

func readAll(t *testing.T, segment *Segment) []*QueuedStatement {
	require.NoError(t, segment.Open(context.Background()))
	defer segment.Close()
	var stmts []*QueuedStatement
	for {
		stmt, err := segment.NextStatement()
		require.NoError(t, err)
		if stmt == nil {
			break
		}
		stmts = append(stmts, stmt)
	}
	assert.True(t, segment.IsProcessed())
	return stmts
}

func TestSegmentWriterRoundTrip(t *testing.T) {
	ctx := context.Background()
	exportDir := t.TempDir()
	sw, err := NewSegmentWriter(exportDir, 0)
	require.NoError(t, err)

	err = sw.Write(ctx, []Statement{
		{SQL: "INSERT INTO t (a) VALUES ($1)", Args: []any{"x"}, Table: "public.t", Op: record.INSERT, Position: testPos},
		{Position: position.FinishedPosition{}},
	})
	require.NoError(t, err)
	require.NoError(t, sw.Close())
	require.NoError(t, sw.Close())

	segments, err := NewSegmentQueue(exportDir).GetSegments()
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, filepath.Join(exportDir, "data", "queue", "segment.0.ndjson"), segments[0].FilePath)

	stmts := readAll(t, segments[0])
	require.Len(t, stmts, 2)
	assert.EqualValues(t, 0, stmts[0].Vsn)
	assert.Equal(t, record.INSERT, stmts[0].Op)
	assert.Equal(t, []any{"x"}, stmts[0].Args)
	pos, err := stmts[0].ParsedPosition()
	require.NoError(t, err)
	assert.Equal(t, testPos, pos)
	assert.EqualValues(t, 1, stmts[1].Vsn)
	assert.Equal(t, "finished", stmts[1].Position)

	raw, err := os.ReadFile(segments[0].FilePath)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), EOFMarker+"\n"))
}

func TestSegmentWriterRotatesAndResumesNumbering(t *testing.T) {
	ctx := context.Background()
	exportDir := t.TempDir()
	sw, err := NewSegmentWriter(exportDir, 10)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, sw.Write(ctx, []Statement{{SQL: "DELETE FROM t", Position: testPos}}))
	}
	require.NoError(t, sw.Close())

	sw, err = NewSegmentWriter(exportDir, 10)
	require.NoError(t, err)
	require.NoError(t, sw.Close())

	segments, err := NewSegmentQueue(exportDir).GetSegments()
	require.NoError(t, err)
	// three full segments, the empty one opened after the last rotation, and one from the restart
	require.Len(t, segments, 5)
	for i, s := range segments {
		assert.EqualValues(t, i, s.SegmentNum)
	}
	assert.Len(t, readAll(t, segments[0]), 1)
	assert.Empty(t, readAll(t, segments[4]))
	assert.Equal(t, int64(3), sw.vsn)
}

func TestSegmentWriterSealsUnterminatedSegment(t *testing.T) {
	ctx := context.Background()
	exportDir := t.TempDir()
	sw, err := NewSegmentWriter(exportDir, 0)
	require.NoError(t, err)
	require.NoError(t, sw.Write(ctx, []Statement{{SQL: "DELETE FROM t", Position: testPos}}))
	require.NoError(t, sw.Write(ctx, []Statement{{SQL: "DELETE FROM u", Position: testPos}}))
	// simulate a crash in the middle of the next line
	_, err = sw.file.WriteString(`{"vsn":2,"sql":"DEL`)
	require.NoError(t, err)
	require.NoError(t, sw.file.Close())

	sw, err = NewSegmentWriter(exportDir, 0)
	require.NoError(t, err)
	require.NoError(t, sw.Write(ctx, []Statement{{SQL: "DELETE FROM v", Position: testPos}}))
	require.NoError(t, sw.Close())

	segments, err := NewSegmentQueue(exportDir).GetSegments()
	require.NoError(t, err)
	require.Len(t, segments, 2)
	first := readAll(t, segments[0])
	require.Len(t, first, 2)
	assert.Equal(t, "DELETE FROM u", first[1].SQL)
	second := readAll(t, segments[1])
	require.Len(t, second, 1)
	assert.EqualValues(t, 2, second[0].Vsn)
}

func TestQueuedArgsKeepTheirType(t *testing.T) {
	exportDir := t.TempDir()
	sw, err := NewSegmentWriter(exportDir, 0)
	require.NoError(t, err)
	args := []any{int64(9007199254740993), 1.5, []byte("OK"), []byte{0xff, 0x00}, nil, true}
	require.NoError(t, sw.Write(context.Background(), []Statement{{SQL: "INSERT", Args: args, Position: testPos}}))
	require.NoError(t, sw.Close())

	segments, err := NewSegmentQueue(exportDir).GetSegments()
	require.NoError(t, err)
	stmts := readAll(t, segments[0])
	require.Len(t, stmts, 1)
	assert.Equal(t, []any{int64(9007199254740993), 1.5, "OK", []byte{0xff, 0x00}, nil, true}, stmts[0].Args)
}

func TestSegmentWriterClosed(t *testing.T) {
	sw, err := NewSegmentWriter(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, sw.Close())
	assert.Error(t, sw.Write(context.Background(), []Statement{{Position: testPos}}))
}
