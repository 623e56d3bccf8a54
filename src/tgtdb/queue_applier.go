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
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/position"
)

const (
	DEFAULT_APPLY_BATCH_SIZE     = 1000
	DEFAULT_APPLY_FLUSH_INTERVAL = 2 * time.Second
	DEFAULT_QUEUE_POLL_INTERVAL  = 5 * time.Second
)

type QueueApplierConfig struct {
	BatchSize     int
	FlushInterval time.Duration // a partial batch is applied after this long
	PollInterval  time.Duration // wait between looks for a segment not written yet
}

/*
QueueApplier replays the statements of a segment queue on a target writer, in vsn order.
It follows the queue while a SegmentWriter is still appending to it, and returns only on
error or when ctx is done. onApplied is called with the highest vsn of each batch after the
batch was written; statements at or below the vsn passed to Run are skipped.
*/
type QueueApplier struct {
	cfg       QueueApplierConfig
	queue     *SegmentQueue
	writer    TargetWriter
	onApplied func(vsn int64) error
}

func NewQueueApplier(cfg QueueApplierConfig, queue *SegmentQueue, writer TargetWriter, onApplied func(vsn int64) error) *QueueApplier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DEFAULT_APPLY_BATCH_SIZE
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DEFAULT_APPLY_FLUSH_INTERVAL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DEFAULT_QUEUE_POLL_INTERVAL
	}
	return &QueueApplier{cfg: cfg, queue: queue, writer: writer, onApplied: onApplied}
}

func (a *QueueApplier) Run(ctx context.Context, lastAppliedVsn int64) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	stmts := make(chan *QueuedStatement, a.cfg.BatchSize)
	readErr := make(chan error, 1)
	go func() {
		readErr <- a.readQueue(readCtx, lastAppliedVsn, stmts)
		close(stmts)
	}()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	var batch []*QueuedStatement
	for {
		select {
		case qs, ok := <-stmts:
			if !ok {
				return <-readErr
			}
			batch = append(batch, qs)
			if len(batch) < a.cfg.BatchSize {
				continue
			}
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
		}
		err := a.apply(ctx, batch)
		if err != nil {
			return err
		}
		batch = nil
	}
}

func (a *QueueApplier) apply(ctx context.Context, batch []*QueuedStatement) error {
	stmts := make([]Statement, 0, len(batch))
	for _, qs := range batch {
		pos, err := position.Parse(qs.Position)
		if err != nil {
			return fmt.Errorf("queued statement %d: %w", qs.Vsn, err)
		}
		stmts = append(stmts, Statement{SQL: qs.SQL, Args: qs.Args, Table: qs.Table, Op: qs.Op, Position: pos})
	}
	err := a.writer.Write(ctx, stmts)
	if err != nil {
		return fmt.Errorf("apply queued statements %d..%d: %w", batch[0].Vsn, batch[len(batch)-1].Vsn, err)
	}
	log.Debugf("applied queued statements %d..%d", batch[0].Vsn, batch[len(batch)-1].Vsn)
	return a.onApplied(batch[len(batch)-1].Vsn)
}

func (a *QueueApplier) readQueue(ctx context.Context, lastAppliedVsn int64, out chan<- *QueuedStatement) error {
	var nextSegment int64
	for {
		segments, err := a.queue.GetSegments()
		if err != nil {
			return err
		}
		pending := lo.Filter(segments, func(s *Segment, _ int) bool { return s.SegmentNum >= nextSegment })
		if len(pending) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.PollInterval):
			}
			continue
		}
		for _, segment := range pending {
			err = a.readSegment(ctx, segment, lastAppliedVsn, out)
			if err != nil {
				return err
			}
			nextSegment = segment.SegmentNum + 1
		}
	}
}

func (a *QueueApplier) readSegment(ctx context.Context, segment *Segment, lastAppliedVsn int64, out chan<- *QueuedStatement) error {
	err := segment.Open(ctx)
	if err != nil {
		return err
	}
	defer segment.Close()
	for {
		qs, err := segment.NextStatement()
		if err != nil {
			return err
		}
		if qs == nil {
			log.Infof("queue segment %d fully read", segment.SegmentNum)
			return nil
		}
		if qs.Vsn <= lastAppliedVsn {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- qs:
		}
	}
}
