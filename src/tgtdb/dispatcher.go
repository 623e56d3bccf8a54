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
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/record"
)

const (
	DEFAULT_NUM_PARTITIONS = 16
	DEFAULT_MAX_BATCH_SIZE = 500
	DEFAULT_QUEUE_SIZE     = 1000
)

type DispatcherConfig struct {
	NumPartitions int // one worker per partition
	MaxBatchSize  int // statements per TargetWriter.Write
	QueueSize     int // buffered statements per partition
}

type queuedItem struct {
	stmt Statement
	seq  uint64
	// set for position-only statements that were sent to every partition
	barrier *atomic.Int32
}

/*
TableQueueDispatcher fans an ordered record stream out to per-partition queues. All
statements of one logical table hash to the same partition and are applied sequentially;
different partitions apply concurrently.

Position-only statements are sent to every partition and acknowledged once all partitions
reached them. Acknowledgements go through the AckTracker; onSafe is called with every new
safe position, one call at a time.

Dispatch must be called from a single goroutine.
*/
type TableQueueDispatcher struct {
	cfg       DispatcherConfig
	generator *StatementGenerator
	writer    TargetWriter
	acks      *progress.AckTracker
	onSafe    func(ctx context.Context, pos position.Position) error

	partitions []chan queuedItem
	workers    *pool.ContextPool
	ackMu      sync.Mutex

	failed    chan struct{}
	failOnce  sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

func NewTableQueueDispatcher(cfg DispatcherConfig, generator *StatementGenerator, writer TargetWriter,
	acks *progress.AckTracker, onSafe func(ctx context.Context, pos position.Position) error) *TableQueueDispatcher {
	if cfg.NumPartitions <= 0 {
		cfg.NumPartitions = DEFAULT_NUM_PARTITIONS
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DEFAULT_MAX_BATCH_SIZE
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DEFAULT_QUEUE_SIZE
	}
	d := &TableQueueDispatcher{
		cfg:       cfg,
		generator: generator,
		writer:    writer,
		acks:      acks,
		onSafe:    onSafe,
		failed:    make(chan struct{}),
	}
	for i := 0; i < cfg.NumPartitions; i++ {
		d.partitions = append(d.partitions, make(chan queuedItem, cfg.QueueSize))
	}
	return d
}

// Start launches one worker per partition. Cancelling ctx stops them.
func (d *TableQueueDispatcher) Start(ctx context.Context) {
	d.workers = pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for p := range d.partitions {
		p := p
		d.workers.Go(func(ctx context.Context) error {
			err := d.work(ctx, p)
			if err != nil {
				log.Errorf("target queue worker %d: %v", p, err)
				d.failOnce.Do(func() { close(d.failed) })
			}
			return err
		})
	}
	log.Infof("started %d target queue workers", len(d.partitions))
}

func (d *TableQueueDispatcher) Dispatch(ctx context.Context, rec record.Record) error {
	if d.closed.Load() {
		return goerrors.Errorf("dispatch %v: dispatcher is closed", rec)
	}
	stmt, hasSQL, err := d.generator.Generate(rec)
	if err != nil {
		return err
	}
	seq := d.acks.Dispatch(stmt.Position)
	if hasSQL {
		return d.enqueue(ctx, d.partitionFor(stmt.Table), queuedItem{stmt: stmt, seq: seq})
	}
	barrier := &atomic.Int32{}
	barrier.Store(int32(len(d.partitions)))
	for p := range d.partitions {
		err := d.enqueue(ctx, p, queuedItem{stmt: stmt, seq: seq, barrier: barrier})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *TableQueueDispatcher) enqueue(ctx context.Context, p int, item queuedItem) error {
	select {
	case d.partitions[p] <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.failed:
		return fmt.Errorf("target queue stopped: %w", d.Close())
	}
}

func (d *TableQueueDispatcher) partitionFor(table string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(table))
	return int(h.Sum32() % uint32(len(d.partitions)))
}

// Close stops accepting records, waits for the queued ones to be applied and returns the
// first worker error.
func (d *TableQueueDispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		for _, ch := range d.partitions {
			close(ch)
		}
		if d.workers != nil {
			d.closeErr = d.workers.Wait()
		}
	})
	return d.closeErr
}

func (d *TableQueueDispatcher) work(ctx context.Context, p int) error {
	ch := d.partitions[p]
	for {
		var item queuedItem
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok = <-ch:
			if !ok {
				return nil
			}
		}
		batch, drained := d.nextBatch(ch, item)
		stmts := lo.Filter(lo.Map(batch, func(it queuedItem, _ int) Statement { return it.stmt }),
			func(s Statement, _ int) bool { return !s.IsPositionOnly() })
		if len(stmts) > 0 {
			err := d.writer.Write(ctx, stmts)
			if err != nil {
				return fmt.Errorf("partition %d: %w", p, err)
			}
		}
		for _, it := range batch {
			if it.barrier != nil && it.barrier.Add(-1) > 0 {
				continue
			}
			err := d.ack(ctx, it.seq)
			if err != nil {
				return err
			}
		}
		if drained {
			return nil
		}
	}
}

// nextBatch collects whatever is already queued, up to MaxBatchSize. drained is true once
// the partition is closed and empty.
func (d *TableQueueDispatcher) nextBatch(ch chan queuedItem, first queuedItem) (batch []queuedItem, drained bool) {
	batch = append(batch, first)
	for len(batch) < d.cfg.MaxBatchSize {
		select {
		case next, ok := <-ch:
			if !ok {
				return batch, true
			}
			batch = append(batch, next)
		default:
			return batch, false
		}
	}
	return batch, false
}

func (d *TableQueueDispatcher) ack(ctx context.Context, seq uint64) error {
	d.ackMu.Lock()
	defer d.ackMu.Unlock()
	safe, advanced := d.acks.Ack(seq)
	if !advanced || d.onSafe == nil {
		return nil
	}
	return d.onSafe(ctx, safe)
}

// =====================================================================================

// RecordSink turns records into statements and applies them with one Write per call.
type RecordSink struct {
	generator *StatementGenerator
	writer    TargetWriter
}

func NewRecordSink(generator *StatementGenerator, writer TargetWriter) *RecordSink {
	return &RecordSink{generator: generator, writer: writer}
}

func (s *RecordSink) Write(ctx context.Context, records []record.Record) error {
	stmts := make([]Statement, 0, len(records))
	for _, rec := range records {
		stmt, _, err := s.generator.Generate(rec)
		if err != nil {
			return err
		}
		stmts = append(stmts, stmt)
	}
	return s.writer.Write(ctx, stmts)
}
