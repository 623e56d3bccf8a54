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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yugabyte/yb-reshard/src/config"
	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/splitter"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
	"github.com/yugabyte/yb-reshard/src/utils"
)

func newProgressTestMetaDB(t *testing.T) *metadb.MetaDB {
	dir := t.TempDir()
	require.NoError(t, metadb.CreateAndInitMetaDBIfRequired(dir))
	m, err := metadb.NewMetaDB(dir)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.InitJobStatusRecord())
	require.NoError(t, m.SaveSplitPlan([]*splitter.SplitTask{
		{Schema: "shop", TableName: "t_order_0", UniqueKeyColumn: "order_id", Position: position.NewRangePosition(1, 3), ShardIndex: 0},
		{Schema: "shop", TableName: "t_order_0", UniqueKeyColumn: "order_id", Position: position.NewRangePosition(3, 5), ShardIndex: 1},
		{Schema: "shop", TableName: "t_config", Position: position.UnboundedPosition{}},
	}))
	return m
}

func TestBuildProgressReport(t *testing.T) {
	m := newProgressTestMetaDB(t)
	ctx := context.Background()
	tracker := progress.NewTracker(m.ProgressStore())
	require.NoError(t, tracker.RecordProgress(ctx, progress.InventoryTaskKey("shop.t_order_0#0"), position.NewRangePosition(2, 3)))
	require.NoError(t, tracker.RecordProgress(ctx, progress.InventoryTaskKey("shop.t_order_0#0"), position.FinishedPosition{}))
	require.NoError(t, tracker.RecordProgress(ctx, progress.InventoryTaskKey("shop.t_order_0#1"), position.NewRangePosition(4, 5)))
	require.NoError(t, tracker.RecordProgress(ctx, progress.StreamKey("default"), lsn(42)))

	report, err := buildProgressReport(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, []taskProgress{
		{TaskID: "shop.t_config#0", Status: TASK_STATUS_PENDING, Position: position.UnboundedPosition{}.String()},
		{TaskID: "shop.t_order_0#0", Status: TASK_STATUS_DONE, Position: position.FinishedPosition{}.String()},
		{TaskID: "shop.t_order_0#1", Status: TASK_STATUS_IN_PROGRESS, Position: position.NewRangePosition(4, 5).String()},
	}, report.Tasks)
	assert.Equal(t, 1, report.countByStatus(TASK_STATUS_DONE))
	assert.Equal(t, map[string]position.Position{"default": lsn(42)}, report.Streams)
}

func TestResetRecordedProgress(t *testing.T) {
	m := newProgressTestMetaDB(t)
	ctx := context.Background()
	tracker := progress.NewTracker(m.ProgressStore())
	require.NoError(t, tracker.RecordProgress(ctx, progress.InventoryTaskKey("shop.t_order_0#0"), position.FinishedPosition{}))
	require.NoError(t, tracker.RecordProgress(ctx, progress.StreamKey("default"), lsn(42)))
	require.NoError(t, m.UpdateJobStatusRecord(func(r *metadb.JobStatusRecord) { r.InventoryDone = true }))

	utils.DoNotPrompt = true
	defer func() { utils.DoNotPrompt = false }()

	assert.Error(t, resetRecordedProgress(ctx, m, "everything"))
	require.NoError(t, resetRecordedProgress(ctx, m, "inventory"))

	report, err := buildProgressReport(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 3, report.countByStatus(TASK_STATUS_PENDING))
	assert.Len(t, report.Streams, 1)
	status, err := m.GetJobStatusRecord()
	require.NoError(t, err)
	assert.False(t, status.InventoryDone)

	require.NoError(t, resetRecordedProgress(ctx, m, "all"))
	report, err = buildProgressReport(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, report.Streams)
}

func TestQueueProgressAndReset(t *testing.T) {
	m := newProgressTestMetaDB(t)
	ctx := context.Background()

	report, err := buildProgressReport(ctx, m)
	require.NoError(t, err)
	assert.Nil(t, report.Queue)

	sw, err := tgtdb.NewSegmentWriter(m.ExportDir(), 0)
	require.NoError(t, err)
	require.NoError(t, sw.Write(ctx, []tgtdb.Statement{{SQL: "DELETE FROM t", Position: lsn(7)}}))
	require.NoError(t, sw.Close())
	require.NoError(t, m.SetLastAppliedVsn(0, 1))

	report, err = buildProgressReport(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, &queueProgress{Segments: 1, LastAppliedVsn: 0}, report.Queue)

	utils.DoNotPrompt = true
	defer func() { utils.DoNotPrompt = false }()
	require.NoError(t, resetRecordedProgress(ctx, m, "queue"))
	report, err = buildProgressReport(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, &queueProgress{Segments: 0, LastAppliedVsn: -1}, report.Queue)
	assert.Equal(t, 3, report.countByStatus(TASK_STATUS_PENDING))
}

func TestBuildNameRegistry(t *testing.T) {
	cfg := &config.JobConfig{
		ExportDir:    "/tmp/x",
		Source:       srcdb.Source{DBType: "mysql", Host: "db1", User: "root", DBName: "shop"},
		Tables:       []string{"t_order_0", "t_order_1", "t_user_a"},
		TableMapping: map[string]string{"t_user_a": "t_user"},
	}
	require.NoError(t, cfg.Validate())
	cfg.ShardSuffixPattern = `^(.+)_[0-9]+$`
	reg, err := buildNameRegistry(cfg)
	require.NoError(t, err)
	names := make([]string, 0)
	for _, n := range reg.ScopedTables() {
		names = append(names, n.Qualified())
	}
	assert.Equal(t, []string{"shop.t_order", "shop.t_user"}, names)

	logical, ok := reg.Lookup("shop", "t_order_7")
	assert.True(t, ok)
	assert.Equal(t, "t_order", logical.Name)
	_, ok = reg.Lookup("shop", "t_audit")
	assert.False(t, ok)

	cfg.ShardSuffixPattern = `^.+_[0-9]+$`
	_, err = buildNameRegistry(cfg)
	assert.Error(t, err)
}

func TestTableRefs(t *testing.T) {
	cfg := &config.JobConfig{
		Source: srcdb.Source{Schema: "public"},
		Tables: []string{"t_order", "sales.t_item"},
	}
	assert.Equal(t, []splitter.TableRef{{Schema: "public", Name: "t_order"}, {Schema: "sales", Name: "t_item"}}, tableRefs(cfg))
}
