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
	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/splitter"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/utils"
)

var startClean bool

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split the source tables into inventory tasks over unique key ranges",
	Long: `Inspects every source table for its single integer unique key and cuts the key domain into
ranges of at most --shard-size rows. Tables without such a key become one task each.
The plan is saved in the export directory and used by the inventory command.`,

	Run: func(cmd *cobra.Command, args []string) {
		job, err := buildJobConfig()
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
		tasks, err := splitTables(ctx, rj, startClean)
		if err != nil {
			utils.ErrExit("split: %w", err)
		}
		printSplitPlan(tasks)
	},
}

// splitTables plans the inventory tasks, or returns the saved plan. A new plan is only
// made when there is none yet or startClean is set, in which case inventory progress is
// reset as well.
func splitTables(ctx context.Context, rj *reshardJob, startClean bool) ([]*splitter.SplitTask, error) {
	saved, err := rj.metaDB.LoadSplitPlan()
	if err != nil {
		return nil, err
	}
	if saved != nil && !startClean {
		utils.PrintAndLog("Using the split plan saved in %s", rj.cfg.ExportDir)
		return saved, nil
	}
	if saved != nil {
		if !utils.AskPrompt("Discard the saved split plan and the inventory progress") {
			return nil, fmt.Errorf("aborted by user")
		}
		n, err := rj.metaDB.ProgressStore().Reset(ctx, progress.INVENTORY_KEY_PREFIX)
		if err != nil {
			return nil, err
		}
		log.Infof("reset progress of %d inventory tasks", n)
	}

	s, err := splitter.NewSplitter(splitter.Config{ShardSize: rj.cfg.ShardSize, Concurrency: rj.cfg.Concurrency},
		rj.builder, rj.loader)
	if err != nil {
		return nil, err
	}
	refs := tableRefs(rj.cfg)
	results := s.SplitAll(ctx, rj.sourceDB, refs)

	var tasks []*splitter.SplitTask
	var failed []string
	for _, ref := range refs {
		result := results[ref]
		if result.Err != nil {
			failed = append(failed, ref.String())
			utils.PrintAndLogWarning("failed to split %s: %v", ref, result.Err)
			continue
		}
		if len(result.Tasks) == 0 {
			empty, err := s.CheckEmpty(ctx, rj.sourceDB, ref)
			if err != nil {
				return nil, err
			}
			if !empty {
				return nil, fmt.Errorf("table %s produced no split tasks but is not empty", ref)
			}
			log.Infof("table %s is empty, nothing to dump", ref)
		}
		tasks = append(tasks, result.Tasks...)
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%d of %d tables could not be split: %v", len(failed), len(refs), failed)
	}

	err = rj.metaDB.SaveSplitPlan(tasks)
	if err != nil {
		return nil, err
	}
	err = rj.metaDB.UpdateJobStatusRecord(func(record *metadb.JobStatusRecord) {
		record.InventoryTaskIDs = taskIDs(tasks)
		record.InventoryDone = false
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func taskIDs(tasks []*splitter.SplitTask) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.TaskID())
	}
	return ids
}

func printSplitPlan(tasks []*splitter.SplitTask) {
	sorted := append([]*splitter.SplitTask(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Schema+"."+sorted[i].TableName != sorted[j].Schema+"."+sorted[j].TableName {
			return sorted[i].Schema+"."+sorted[i].TableName < sorted[j].Schema+"."+sorted[j].TableName
		}
		return sorted[i].ShardIndex < sorted[j].ShardIndex
	})
	table := uitable.New()
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	table.AddRow(headerfmt("TASK"), headerfmt("UNIQUE KEY"), headerfmt("RANGE"))
	for _, task := range sorted {
		key := task.UniqueKeyColumn
		if key == "" {
			key = "-"
		}
		table.AddRow(task.TaskID(), key, task.Position)
	}
	fmt.Println(table)
	fmt.Printf("\n%d tasks\n", len(tasks))
}

func init() {
	rootCmd.AddCommand(splitCmd)
	registerSourceDBConnFlags(splitCmd)
	registerTableFlags(splitCmd)
	splitCmd.Flags().Int64Var(&shardSize, "shard-size", config.DEFAULT_SHARD_SIZE,
		"maximum number of rows per inventory task")
	splitCmd.Flags().IntVar(&parallelJobs, "parallel-jobs", config.DEFAULT_CONCURRENCY,
		"number of tables split in parallel")
	splitCmd.Flags().BoolVar(&startClean, "start-clean", false,
		"discard a saved split plan and all inventory progress before splitting")
}
