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
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
	"github.com/yugabyte/yb-reshard/src/utils"
)

const (
	TASK_STATUS_PENDING     = "PENDING"
	TASK_STATUS_IN_PROGRESS = "IN PROGRESS"
	TASK_STATUS_DONE        = "DONE"
)

var resetProgress string

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the recorded progress of the inventory tasks and streams",

	Run: func(cmd *cobra.Command, args []string) {
		if exportDir == "" {
			utils.ErrExit(`required flag "export-dir" not set`)
		}
		if !utils.FileOrFolderExists(metadb.GetMetaDBPath(exportDir)) {
			utils.ErrExit("no job found in export-dir %s, run split or inventory first", exportDir)
		}
		metaDB, err := metadb.NewMetaDB(exportDir)
		if err != nil {
			utils.ErrExit("open meta db: %w", err)
		}
		defer metaDB.Close()
		ctx := cmd.Context()

		if resetProgress != "" {
			err = resetRecordedProgress(ctx, metaDB, resetProgress)
			if err != nil {
				utils.ErrExit("reset progress: %w", err)
			}
			return
		}
		report, err := buildProgressReport(ctx, metaDB)
		if err != nil {
			utils.ErrExit("read progress: %w", err)
		}
		printProgressReport(report)
	},
}

type taskProgress struct {
	TaskID   string
	Status   string
	Position string
}

type queueProgress struct {
	Segments       int
	LastAppliedVsn int64
}

type progressReport struct {
	Tasks   []taskProgress
	Streams map[string]position.Position
	Queue   *queueProgress // nil unless statements were written to the queue
}

func (r *progressReport) countByStatus(status string) int {
	return lo.CountBy(r.Tasks, func(t taskProgress) bool { return t.Status == status })
}

func buildProgressReport(ctx context.Context, metaDB *metadb.MetaDB) (*progressReport, error) {
	tracker := progress.NewTracker(metaDB.ProgressStore())
	plan, err := metaDB.LoadSplitPlan()
	if err != nil {
		return nil, err
	}
	recorded, err := tracker.ListProgress(ctx, progress.INVENTORY_KEY_PREFIX)
	if err != nil {
		return nil, err
	}
	report := &progressReport{Streams: make(map[string]position.Position)}
	for _, task := range plan {
		tp := taskProgress{TaskID: task.TaskID(), Status: TASK_STATUS_PENDING, Position: task.Position.String()}
		if pos, ok := recorded[progress.InventoryTaskKey(task.TaskID())]; ok {
			tp.Position = pos.String()
			tp.Status = TASK_STATUS_IN_PROGRESS
			if pos.Kind() == position.FINISHED {
				tp.Status = TASK_STATUS_DONE
			}
		}
		report.Tasks = append(report.Tasks, tp)
	}
	sort.Slice(report.Tasks, func(i, j int) bool { return report.Tasks[i].TaskID < report.Tasks[j].TaskID })

	streams, err := tracker.ListProgress(ctx, progress.STREAM_KEY_PREFIX)
	if err != nil {
		return nil, err
	}
	for key, pos := range streams {
		report.Streams[progress.TaskIDFromKey(key)] = pos
	}

	queue := tgtdb.NewSegmentQueue(metaDB.ExportDir())
	if utils.FileOrFolderExists(queue.QueueDirPath) {
		segments, err := queue.GetSegments()
		if err != nil {
			return nil, err
		}
		vsn, err := metaDB.GetLastAppliedVsn()
		if err != nil {
			return nil, err
		}
		report.Queue = &queueProgress{Segments: len(segments), LastAppliedVsn: vsn}
	}
	return report, nil
}

func printProgressReport(report *progressReport) {
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	table := uitable.New()
	table.AddRow(headerfmt("TASK"), headerfmt("STATUS"), headerfmt("POSITION"))
	for _, t := range report.Tasks {
		status := t.Status
		switch t.Status {
		case TASK_STATUS_DONE:
			status = color.GreenString(status)
		case TASK_STATUS_IN_PROGRESS:
			status = color.YellowString(status)
		}
		table.AddRow(t.TaskID, status, t.Position)
	}
	fmt.Println(table)
	fmt.Printf("\n%d done, %d in progress, %d pending\n\n", report.countByStatus(TASK_STATUS_DONE),
		report.countByStatus(TASK_STATUS_IN_PROGRESS), report.countByStatus(TASK_STATUS_PENDING))

	if len(report.Streams) == 0 {
		return
	}
	streams := uitable.New()
	streams.AddRow(headerfmt("STREAM"), headerfmt("APPLIED UP TO"))
	names := lo.Keys(report.Streams)
	sort.Strings(names)
	for _, name := range names {
		streams.AddRow(name, report.Streams[name])
	}
	fmt.Println(streams)

	if report.Queue != nil {
		applied := lo.Ternary(report.Queue.LastAppliedVsn < 0, "none", fmt.Sprint(report.Queue.LastAppliedVsn))
		fmt.Printf("\nQueue: %d segments, applied up to statement %s\n", report.Queue.Segments, applied)
	}
}

func resetRecordedProgress(ctx context.Context, metaDB *metadb.MetaDB, what string) error {
	prefixes, ok := map[string][]string{
		"inventory": {progress.INVENTORY_KEY_PREFIX},
		"stream":    {progress.STREAM_KEY_PREFIX},
		"queue":     nil,
		"all":       {progress.INVENTORY_KEY_PREFIX, progress.STREAM_KEY_PREFIX},
	}[what]
	if !ok {
		return fmt.Errorf("invalid --reset value %q, expected inventory, stream, queue or all", what)
	}
	if !utils.AskPrompt(fmt.Sprintf("Forget the recorded %s progress in %s", what, metaDB.ExportDir())) {
		return fmt.Errorf("aborted by user")
	}
	for _, prefix := range prefixes {
		n, err := metaDB.ProgressStore().Reset(ctx, prefix)
		if err != nil {
			return err
		}
		utils.PrintAndLog("Removed %d %s progress entries.", n, prefix[:len(prefix)-1])
	}
	if what == "queue" || what == "all" {
		err := resetQueue(metaDB)
		if err != nil {
			return err
		}
	}
	if what == "inventory" || what == "all" {
		return metaDB.UpdateJobStatusRecord(func(record *metadb.JobStatusRecord) {
			record.InventoryDone = false
		})
	}
	return nil
}

// resetQueue drops the queued segments together with the applied vsn, so that a new queue
// starts numbering from zero.
func resetQueue(metaDB *metadb.MetaDB) error {
	queueDir := tgtdb.GetQueueDirPath(metaDB.ExportDir())
	if !utils.IsDirectoryEmpty(queueDir) {
		err := utils.CleanDir(queueDir)
		if err != nil {
			return err
		}
		utils.PrintAndLog("Removed the queued segments in %s.", queueDir)
	}
	return metaDB.ResetQueueStatus()
}

func init() {
	rootCmd.AddCommand(progressCmd)
	progressCmd.Flags().StringVar(&resetProgress, "reset", "",
		"forget recorded progress instead of showing it: inventory, stream, queue or all")
}
