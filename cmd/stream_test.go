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

package cmd

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yugabyte/yb-reshard/src/config"
	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/metadata"
	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/record"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
)

func lsn(n uint64) position.LSNPosition {
	return position.NewLSNPosition(pglogrepl.LSN(n))
}

// replayReader hands out its events once, then ends the stream.
type replayReader struct {
	mu     sync.Mutex
	events []incremental.Event
	starts []position.LogPosition
}

func (r *replayReader) Start(_ context.Context, from position.LogPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, from)
	return nil
}

func (r *replayReader) ReadEvent(ctx context.Context) (incremental.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil, io.EOF
	}
	ev := r.events[0]
	r.events = r.events[1:]
	return ev, nil
}

func (r *replayReader) Close() error { return nil }

type recordingWriter struct {
	mu    sync.Mutex
	stmts []tgtdb.Statement
	err   error
}

func (w *recordingWriter) Write(_ context.Context, stmts []tgtdb.Statement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.stmts = append(w.stmts, stmts...)
	return nil
}

func newStreamTestJob(t *testing.T) *reshardJob {
	dir := t.TempDir()
	require.NoError(t, metadb.CreateAndInitMetaDBIfRequired(dir))
	m, err := metadb.NewMetaDB(dir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	cfg := &config.JobConfig{
		ExportDir:          dir,
		Source:             srcdb.Source{DBType: "postgresql", Host: "pg1", User: "u", DBName: "shop", Schema: "public"},
		TargetDBType:       "postgresql",
		Tables:             []string{"t_order_0", "t_order_1"},
		ShardSuffixPattern: `^(.+)_[0-9]+$`,
	}
	require.NoError(t, cfg.Validate())
	registry, err := buildNameRegistry(cfg)
	require.NoError(t, err)

	meta := func(table string) *metadata.TableMetaData {
		return metadata.NewTableMetaData("public", table, []metadata.ColumnMetaData{
			{Name: "order_id", DataType: "integer"},
			{Name: "user_id", DataType: "integer"},
			{Name: "status", DataType: "varchar"},
		}, []string{"order_id"})
	}
	return &reshardJob{
		cfg:      cfg,
		metaDB:   m,
		tracker:  progress.NewTracker(m.ProgressStore()),
		registry: registry,
		loader:   metadata.NewStaticLoader(meta("t_order_0"), meta("t_order_1")),
	}
}

func insertEvent(pos uint64, table string, orderID int64) *incremental.RowEvent {
	return &incremental.RowEvent{Pos: lsn(pos), Op: record.INSERT, Schema: "public", Table: table,
		After: []any{orderID, int64(1), "OK"}}
}

func TestStreamChangesAppliesAndRecordsPosition(t *testing.T) {
	rj := newStreamTestJob(t)
	ctx := context.Background()
	reader := &replayReader{events: []incremental.Event{
		&incremental.BeginEvent{Pos: lsn(10)},
		insertEvent(11, "t_order_0", 101),
		insertEvent(12, "t_order_1", 102),
		&incremental.CommitEvent{Pos: lsn(13)},
		&incremental.BeginEvent{Pos: lsn(20)},
		insertEvent(21, "t_audit", 1), // not a configured table
		&incremental.CommitEvent{Pos: lsn(22)},
	}}
	var confirmed []position.LogPosition
	var confirmMu sync.Mutex
	confirm := func(p position.LogPosition) {
		confirmMu.Lock()
		defer confirmMu.Unlock()
		confirmed = append(confirmed, p)
	}
	writer := &recordingWriter{}

	require.NoError(t, streamChanges(ctx, rj, reader, confirm, writer))

	require.Len(t, writer.stmts, 2)
	for i, stmt := range writer.stmts {
		assert.Equal(t, "public.t_order", stmt.Table)
		assert.Equal(t, int64(101+i), stmt.Args[0])
	}
	pos, found, err := rj.tracker.LoadProgress(ctx, progress.StreamKey(config.DEFAULT_STREAM_NAME))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, lsn(22), pos)
	require.NotEmpty(t, confirmed)
	assert.Equal(t, lsn(22), confirmed[len(confirmed)-1])
	assert.Equal(t, []position.LogPosition{nil}, reader.starts)

	// a second run resumes where the first one stopped
	again := &replayReader{events: []incremental.Event{insertEvent(30, "t_order_0", 103)}}
	require.NoError(t, streamChanges(ctx, rj, again, nil, writer))
	assert.Equal(t, []position.LogPosition{lsn(22)}, again.starts)
	assert.Len(t, writer.stmts, 3)
	pos, _, err = rj.tracker.LoadProgress(ctx, progress.StreamKey(config.DEFAULT_STREAM_NAME))
	require.NoError(t, err)
	assert.Equal(t, lsn(30), pos)
}

func TestStreamChangesTargetFailureKeepsPosition(t *testing.T) {
	rj := newStreamTestJob(t)
	ctx := context.Background()
	writeErr := errors.New("target is read only")
	reader := &replayReader{events: []incremental.Event{
		&incremental.BeginEvent{Pos: lsn(10)},
		insertEvent(11, "t_order_0", 101),
		&incremental.CommitEvent{Pos: lsn(12)},
	}}
	err := streamChanges(ctx, rj, reader, nil, &recordingWriter{err: writeErr})
	require.ErrorIs(t, err, writeErr)

	pos, found, err := rj.tracker.LoadProgress(ctx, progress.StreamKey(config.DEFAULT_STREAM_NAME))
	require.NoError(t, err)
	if found {
		// only the placeholder before the failed insert may have been recorded
		cmp, err := pos.(position.LogPosition).Compare(lsn(11))
		require.NoError(t, err)
		assert.Negative(t, cmp)
	}
}

func TestStreamChangesRejectsForeignPosition(t *testing.T) {
	rj := newStreamTestJob(t)
	ctx := context.Background()
	require.NoError(t, rj.tracker.RecordProgress(ctx, progress.StreamKey(config.DEFAULT_STREAM_NAME), position.NewRangePosition(1, 2)))
	err := streamChanges(ctx, rj, &replayReader{}, nil, &recordingWriter{})
	assert.Error(t, err)
}

func TestNewEventReader(t *testing.T) {
	job := &config.JobConfig{Source: srcdb.Source{DBType: "postgresql", Host: "pg1", User: "u", DBName: "shop"}}
	_, _, err := newEventReader(job)
	assert.Error(t, err, "publication is required")

	job.Replication.Publication = "pub"
	reader, confirm, err := newEventReader(job)
	require.NoError(t, err)
	assert.NotNil(t, reader)
	assert.NotNil(t, confirm)

	job.Source = srcdb.Source{DBType: "mariadb", Host: "db1", User: "root"}
	reader, confirm, err = newEventReader(job)
	require.NoError(t, err)
	assert.NotNil(t, reader)
	assert.Nil(t, confirm)

	job.Source = srcdb.Source{DBType: "oracle", Host: "ora", User: "system"}
	_, _, err = newEventReader(job)
	assert.Error(t, err)
}

type fixedAnchor struct {
	pos   position.LogPosition
	err   error
	calls int
}

func (a *fixedAnchor) CurrentPosition(context.Context) (position.LogPosition, error) {
	a.calls++
	return a.pos, a.err
}

func TestRecordStreamStartBeforeInventory(t *testing.T) {
	rj := newStreamTestJob(t)
	ctx := context.Background()
	key := progress.StreamKey(config.DEFAULT_STREAM_NAME)

	start, err := recordStreamStart(ctx, rj, &fixedAnchor{pos: lsn(50)})
	require.NoError(t, err)
	assert.Equal(t, lsn(50), start)
	pos, found, err := rj.tracker.LoadProgress(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, lsn(50), pos)
	status, err := rj.metaDB.GetJobStatusRecord()
	require.NoError(t, err)
	assert.Equal(t, config.DEFAULT_STREAM_NAME, status.StreamName)

	// a rerun of the inventory keeps the first start position
	later := &fixedAnchor{pos: lsn(90)}
	start, err = recordStreamStart(ctx, rj, later)
	require.NoError(t, err)
	assert.Equal(t, lsn(50), start)
	assert.Zero(t, later.calls)

	// the stream replays the changes made since the inventory started
	reader := &replayReader{events: []incremental.Event{insertEvent(60, "t_order_0", 101)}}
	writer := &recordingWriter{}
	require.NoError(t, streamChanges(ctx, rj, reader, nil, writer))
	assert.Equal(t, []position.LogPosition{lsn(50)}, reader.starts)
	assert.Len(t, writer.stmts, 1)
}

func TestRecordStreamStartFailure(t *testing.T) {
	rj := newStreamTestJob(t)
	ctx := context.Background()
	_, err := recordStreamStart(ctx, rj, &fixedAnchor{err: errors.New("binary logging is not enabled")})
	require.Error(t, err)
	_, found, err := rj.tracker.LoadProgress(ctx, progress.StreamKey(config.DEFAULT_STREAM_NAME))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewStreamAnchor(t *testing.T) {
	// no publication needed to create the slot
	job := &config.JobConfig{Source: srcdb.Source{DBType: "postgresql", Host: "pg1", User: "u", DBName: "shop"}}
	anchor, err := newStreamAnchor(job)
	require.NoError(t, err)
	assert.NotNil(t, anchor)

	job.Source = srcdb.Source{DBType: "mysql", Host: "db1", User: "root"}
	anchor, err = newStreamAnchor(job)
	require.NoError(t, err)
	assert.NotNil(t, anchor)

	job.Source = srcdb.Source{DBType: "oracle", Host: "ora", User: "system"}
	anchor, err = newStreamAnchor(job)
	require.NoError(t, err)
	assert.Nil(t, anchor)
}
