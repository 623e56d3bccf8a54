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
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yugabyte/yb-reshard/src/config"
	"github.com/yugabyte/yb-reshard/src/inventory"
	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/splitter"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
	"github.com/yugabyte/yb-reshard/src/utils"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Copy the existing rows of the source tables to the target",
	Long: `Runs the inventory tasks of the split plan in parallel, splitting first if there is no plan
yet. Rows are written as upserts under their logical table names. Interrupted tasks resume
after the last key written; finished tasks are skipped. Before the first row is read, the
current end of the source's change log is recorded as the start of the stream (creating the
replication slot with --create-slot on PostgreSQL), so that the stream command replays the
changes made while the rows were copied.`,

	Run: func(cmd *cobra.Command, args []string) {
		job, err := buildJobConfig()
		if err != nil {
			utils.ErrExit("invalid configuration: %w", err)
		}
		err = job.RequireTarget()
		if err != nil {
			utils.ErrExit("invalid configuration: %w", err)
		}
		ctx := cmd.Context()
		rj, err := openJob(ctx, job, srcdb.NewPoolProvider(nil))
		if err != nil {
			utils.ErrExit("open job: %w", err)
		}
		defer rj.Close()
		_, err = rj.metaDB.StartRun(cmd.Name())
		if err != nil {
			utils.ErrExit("record run: %w", err)
		}
		anchor, err := newStreamAnchor(job)
		if err != nil {
			utils.ErrExit("stream start: %w", err)
		}
		if anchor == nil {
			utils.PrintAndLogWarning("Changes of %s sources cannot be streamed; only the existing rows are copied.", job.Source.DBType)
		} else {
			start, err := recordStreamStart(ctx, rj, anchor)
			if err != nil {
				utils.ErrExit("stream start: %w", err)
			}
			utils.PrintAndLog("Stream %q starts at %s", job.Replication.StreamName, start)
		}
		tasks, err := splitTables(ctx, rj, false)
		if err != nil {
			utils.ErrExit("split: %w", err)
		}
		failed, err := runInventory(ctx, rj, tasks)
		if err != nil {
			utils.ErrExit("inventory: %w", err)
		}
		printInventoryResult(tasks, failed)
		if len(failed) > 0 {
			utils.ErrExit("%d of %d inventory tasks failed, rerun the command to resume them", len(failed), len(tasks))
		}
		utils.PrintAndLog("Inventory of %d tables done.", len(job.Tables))
	},
}

// runInventory dumps all tasks and returns the errors of the failed ones by task ID.
func runInventory(ctx context.Context, rj *reshardJob, tasks []*splitter.SplitTask) (map[string]error, error) {
	writer, closeWriter, err := newTargetWriter(ctx, rj)
	if err != nil {
		return nil, err
	}
	defer func() {
		err := closeWriter()
		if err != nil {
			log.Warnf("closing target writer: %v", err)
		}
	}()

	generator := newStatementGenerator(rj.cfg)
	dumper := inventory.NewDumper(inventory.Config{BatchSize: rj.cfg.BatchSize, Concurrency: rj.cfg.Concurrency},
		rj.sourceDB, rj.builder, rj.loader, rj.registry, rj.tracker)
	failed := inventory.NewRunner(dumper).RunAll(ctx, tasks, func(task *splitter.SplitTask) (inventory.Sink, error) {
		return tgtdb.NewRecordSink(generator, writer), nil
	})
	if len(failed) == 0 {
		err = rj.metaDB.UpdateJobStatusRecord(func(record *metadb.JobStatusRecord) {
			record.InventoryDone = true
		})
		if err != nil {
			return nil, err
		}
	}
	return failed, nil
}

func printInventoryResult(tasks []*splitter.SplitTask, failed map[string]error) {
	ids := taskIDs(tasks)
	sort.Strings(ids)
	table := uitable.New()
	table.Wrap = true
	table.MaxColWidth = 80
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	table.AddRow(headerfmt("TASK"), headerfmt("STATUS"))
	for _, id := range ids {
		if err, ok := failed[id]; ok {
			table.AddRow(id, color.RedString("FAILED: %v", err))
			continue
		}
		table.AddRow(id, color.GreenString("DONE"))
	}
	fmt.Println(table)
}

func init() {
	rootCmd.AddCommand(inventoryCmd)
	registerSourceDBConnFlags(inventoryCmd)
	registerTargetDBConnFlags(inventoryCmd)
	registerTableFlags(inventoryCmd)
	registerQueueFlags(inventoryCmd)
	registerReplicationFlags(inventoryCmd)
	inventoryCmd.Flags().Int64Var(&shardSize, "shard-size", config.DEFAULT_SHARD_SIZE,
		"maximum number of rows per inventory task, used when there is no split plan yet")
	inventoryCmd.Flags().IntVar(&parallelJobs, "parallel-jobs", config.DEFAULT_CONCURRENCY,
		"number of inventory tasks run in parallel")
	inventoryCmd.Flags().IntVar(&batchSize, "batch-size", config.DEFAULT_BATCH_SIZE,
		"rows read from the source per page")
}
