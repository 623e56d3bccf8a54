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
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yugabyte/yb-reshard/src/config"
	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/incremental/binlog"
	"github.com/yugabyte/yb-reshard/src/incremental/pgwal"
	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/record"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
	"github.com/yugabyte/yb-reshard/src/utils"
)

const DEFAULT_MAX_RETRY_DURATION = 30 * time.Minute

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream the changes made on the source tables to the target",
	Long: `Reads the source's replication stream (PostgreSQL logical replication with pgoutput, or the
MySQL binlog) and applies the changes of the configured tables to the target. Changes of one
logical table are applied in source order; different tables are applied concurrently. The
stream resumes from the last position applied to the target. Stop it with Ctrl-C.`,

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
		status, err := rj.metaDB.GetJobStatusRecord()
		if err != nil {
			utils.ErrExit("read job status: %w", err)
		}
		if status == nil || !status.InventoryDone {
			utils.PrintAndLogWarning("Inventory has not completed for this export dir; changes may be applied before the rows they modify.")
		}

		reader, confirm, err := newEventReader(job)
		if err != nil {
			utils.ErrExit("stream: %w", err)
		}
		err = rj.metaDB.UpdateJobStatusRecord(func(record *metadb.JobStatusRecord) {
			record.StreamName = job.Replication.StreamName
			record.ReplicationSlot = job.Replication.Slot
		})
		if err != nil {
			utils.ErrExit("update job status: %w", err)
		}
		writer, closeWriter, err := newTargetWriter(ctx, rj)
		if err != nil {
			utils.ErrExit("stream: %w", err)
		}
		defer closeWriter()

		utils.PrintAndLog("Streaming changes of %d tables as stream %q...", len(job.Tables), job.Replication.StreamName)
		err = streamChanges(ctx, rj, reader, confirm, writer)
		if err != nil && !errors.Is(err, context.Canceled) {
			utils.ErrExit("stream: %w", err)
		}
		last, _, _ := rj.tracker.LoadProgress(context.Background(), progress.StreamKey(job.Replication.StreamName))
		utils.PrintAndLog("Stream stopped. Changes applied up to %v.", last)
	},
}

// newEventReader picks the replication reader for the source type. confirm is nil when the
// source does not need to be told which positions were applied.
func newEventReader(job *config.JobConfig) (incremental.EventReader, func(position.LogPosition), error) {
	switch job.Source.NormalizedDBType() {
	case srcdb.POSTGRESQL:
		if job.Replication.Publication == "" {
			return nil, nil, fmt.Errorf("--publication is required for postgresql sources")
		}
		reader, err := newPgReader(job)
		if err != nil {
			return nil, nil, err
		}
		return reader, reader.Confirm, nil
	case srcdb.MYSQL:
		reader, err := newBinlogReader(job)
		if err != nil {
			return nil, nil, err
		}
		return reader, nil, nil
	default:
		return nil, nil, fmt.Errorf("change streaming is not supported for %s sources", job.Source.DBType)
	}
}

// newStreamAnchor returns nil for sources that cannot be streamed.
func newStreamAnchor(job *config.JobConfig) (incremental.PositionAnchor, error) {
	switch job.Source.NormalizedDBType() {
	case srcdb.POSTGRESQL:
		return newPgReader(job)
	case srcdb.MYSQL:
		return newBinlogReader(job)
	}
	return nil, nil
}

func newPgReader(job *config.JobConfig) (*pgwal.Reader, error) {
	connString, err := job.Source.ReplicationConnString()
	if err != nil {
		return nil, err
	}
	return pgwal.NewReader(pgwal.ReaderConfig{
		ConnString:  connString,
		SlotName:    job.Replication.Slot,
		Publication: job.Replication.Publication,
		CreateSlot:  job.Replication.CreateSlot,
	}), nil
}

func newBinlogReader(job *config.JobConfig) (*binlog.Reader, error) {
	host, port, err := job.Source.BinlogAddress()
	if err != nil {
		return nil, err
	}
	flavor := "mysql"
	if strings.EqualFold(job.Source.DBType, "mariadb") {
		flavor = "mariadb"
	}
	return binlog.NewReader(binlog.ReaderConfig{
		Host:     host,
		Port:     port,
		User:     job.Source.User,
		Password: job.Source.Password,
		ServerID: job.Replication.ServerID,
		Flavor:   flavor,
	}), nil
}

// recordStreamStart stores the current end of the source's change log as the stream
// position, unless the stream already has one. Run before the first row is copied, so that
// the stream later replays every change made while the rows were being copied.
func recordStreamStart(ctx context.Context, rj *reshardJob, anchor incremental.PositionAnchor) (position.Position, error) {
	key := progress.StreamKey(rj.cfg.Replication.StreamName)
	last, found, err := rj.tracker.LoadProgress(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		log.Infof("stream %s already starts at %s", rj.cfg.Replication.StreamName, last)
		return last, nil
	}
	start, err := anchor.CurrentPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("read the start position of stream %s: %w", rj.cfg.Replication.StreamName, err)
	}
	err = rj.tracker.RecordProgress(ctx, key, start)
	if err != nil {
		return nil, err
	}
	err = rj.metaDB.UpdateJobStatusRecord(func(record *metadb.JobStatusRecord) {
		record.StreamName = rj.cfg.Replication.StreamName
		record.ReplicationSlot = rj.cfg.Replication.Slot
	})
	if err != nil {
		return nil, err
	}
	log.Infof("stream %s will start at %s", rj.cfg.Replication.StreamName, start)
	return start, nil
}

/*
streamChanges runs one replication stream until ctx is done, the source ends it, or an
error is not worth retrying. The recorded stream position only ever moves to positions
whose statements, and those of every earlier position, were applied to the target.
*/
func streamChanges(ctx context.Context, rj *reshardJob, reader incremental.EventReader,
	confirm func(position.LogPosition), writer tgtdb.TargetWriter) error {
	key := progress.StreamKey(rj.cfg.Replication.StreamName)
	last, found, err := rj.tracker.LoadProgress(ctx, key)
	if err != nil {
		return err
	}
	var from position.LogPosition
	if found {
		var ok bool
		from, ok = last.(position.LogPosition)
		if !ok {
			return fmt.Errorf("stream %s has non log position %s recorded", rj.cfg.Replication.StreamName, last)
		}
		log.Infof("resuming stream %s from %s", rj.cfg.Replication.StreamName, from)
		if confirm != nil {
			confirm(from)
		}
	}

	converter := incremental.NewConverter(rj.registry, rj.loader)
	decoder := incremental.NewDecoder(reader, converter, incremental.DecoderConfig{
		ConnectTimeout: rj.cfg.ConnectTimeout,
		IdleTimeout:    rj.cfg.IdleTimeout,
	}, from)
	defer decoder.Close()

	onSafe := func(ctx context.Context, pos position.Position) error {
		err := rj.tracker.RecordProgress(ctx, key, pos)
		if err != nil {
			return err
		}
		if lp, ok := pos.(position.LogPosition); ok && confirm != nil {
			confirm(lp)
		}
		return nil
	}
	dispatcher := tgtdb.NewTableQueueDispatcher(tgtdb.DispatcherConfig{
		NumPartitions: numPartitions,
		MaxBatchSize:  rj.cfg.BatchSize,
	}, newStatementGenerator(rj.cfg), writer, progress.NewAckTracker(), onSafe)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	dispatcher.Start(workerCtx)

	retryFor := maxRetryDuration
	if retryFor <= 0 {
		retryFor = DEFAULT_MAX_RETRY_DURATION
	}
	runErr := incremental.RunWithReconnect(ctx, decoder, incremental.NewReconnectBackOff(retryFor),
		func(rec record.Record) error {
			return dispatcher.Dispatch(ctx, rec)
		})
	// Drain what was already dispatched so the recorded position catches up.
	closeErr := dispatcher.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func init() {
	rootCmd.AddCommand(streamCmd)
	registerSourceDBConnFlags(streamCmd)
	registerTargetDBConnFlags(streamCmd)
	registerTableFlags(streamCmd)
	registerQueueFlags(streamCmd)
	registerReplicationFlags(streamCmd)
	streamCmd.Flags().DurationVar(&connectTimeout, "connect-timeout", config.DEFAULT_CONNECT_TIMEOUT,
		"timeout for (re)connecting to the replication stream")
	streamCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", config.DEFAULT_IDLE_TIMEOUT,
		"report the stream as stalled after no event for this long")
	streamCmd.Flags().DurationVar(&maxRetryDuration, "max-retry-duration", DEFAULT_MAX_RETRY_DURATION,
		"give up reconnecting after the stream has been failing for this long")
	streamCmd.Flags().IntVar(&numPartitions, "partitions", tgtdb.DEFAULT_NUM_PARTITIONS,
		"number of target queues; each logical table is applied by one of them")
	streamCmd.Flags().IntVar(&batchSize, "batch-size", tgtdb.DEFAULT_MAX_BATCH_SIZE,
		"statements applied to the target per transaction")
}
