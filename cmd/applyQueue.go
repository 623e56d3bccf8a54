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
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
	"github.com/yugabyte/yb-reshard/src/utils"
)

var flushInterval time.Duration

var applyQueueCmd = &cobra.Command{
	Use:   "apply-queue",
	Short: "Apply the statements queued with --write-to-queue to the target",
	Long: `Replays the queue segment files written by inventory or stream runs with --write-to-queue
on the target database, in the order they were queued. It follows the queue while a writer
is still appending to it; stop it with Ctrl-C. A restarted run continues after the last
statement it applied.`,

	Run: func(cmd *cobra.Command, args []string) {
		if exportDir == "" {
			utils.ErrExit(`required flag "export-dir" not set`)
		}
		err := target.Validate()
		if err != nil {
			utils.ErrExit("invalid configuration: %w", errs.NewConfigError("target", err))
		}
		ctx := cmd.Context()
		err = metadb.CreateAndInitMetaDBIfRequired(exportDir)
		if err != nil {
			utils.ErrExit("open meta db: %w", err)
		}
		metaDB, err := metadb.NewMetaDB(exportDir)
		if err != nil {
			utils.ErrExit("open meta db: %w", err)
		}
		defer metaDB.Close()
		_, err = metaDB.StartRun(cmd.Name())
		if err != nil {
			utils.ErrExit("record run: %w", err)
		}
		provider := srcdb.NewPoolProvider(nil)
		defer provider.Close()
		targetDB, err := provider.GetConnection(ctx, &target)
		if err != nil {
			utils.ErrExit("connect to target: %w", err)
		}

		utils.PrintAndLog("Applying queued statements from %s...", tgtdb.GetQueueDirPath(exportDir))
		err = applyQueue(ctx, metaDB, traced(tgtdb.NewDBWriter(targetDB)))
		if err != nil && !errors.Is(err, context.Canceled) {
			utils.ErrExit("apply queue: %w", err)
		}
		vsn, _ := metaDB.GetLastAppliedVsn()
		utils.PrintAndLog("Stopped. Queued statements applied up to %d.", vsn)
	},
}

func applyQueue(ctx context.Context, metaDB *metadb.MetaDB, writer tgtdb.TargetWriter) error {
	from, err := metaDB.GetLastAppliedVsn()
	if err != nil {
		return err
	}
	if from >= 0 {
		log.Infof("resuming queue after statement %d", from)
	}
	applier := tgtdb.NewQueueApplier(tgtdb.QueueApplierConfig{
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
	}, tgtdb.NewSegmentQueue(metaDB.ExportDir()), writer, func(vsn int64) error {
		return metaDB.SetLastAppliedVsn(vsn, time.Now().Unix())
	})
	return applier.Run(ctx, from)
}

func init() {
	rootCmd.AddCommand(applyQueueCmd)
	registerTargetDBConnFlags(applyQueueCmd)
	applyQueueCmd.Flags().IntVar(&batchSize, "batch-size", tgtdb.DEFAULT_APPLY_BATCH_SIZE,
		"queued statements applied to the target per transaction")
	applyQueueCmd.Flags().DurationVar(&flushInterval, "flush-interval", tgtdb.DEFAULT_APPLY_FLUSH_INTERVAL,
		"apply a partial batch after waiting this long for more statements")
}
