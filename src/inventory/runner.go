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

package inventory

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/yugabyte/yb-reshard/src/splitter"
)

// SinkFactory opens the sink a single task writes to. Tasks never share a sink.
type SinkFactory func(task *splitter.SplitTask) (Sink, error)

type Runner struct {
	dumper *Dumper
}

func NewRunner(dumper *Dumper) *Runner {
	return &Runner{dumper: dumper}
}

// RunAll dumps every task with at most Concurrency tasks in flight. It returns the errors
// of the failed tasks keyed by task ID; the other tasks still run to completion. Interrupted
// tasks of tables without a primary key restart from an emptied target table.
func (r *Runner) RunAll(ctx context.Context, tasks []*splitter.SplitTask, newSink SinkFactory) map[string]error {
	var mu sync.Mutex
	failed := r.dumper.restartKeylessTargets(ctx, tasks, newSink)
	p := pool.New().WithMaxGoroutines(r.dumper.cfg.Concurrency)
	for _, task := range tasks {
		task := task
		if _, ok := failed[task.TaskID()]; ok {
			continue
		}
		p.Go(func() {
			err := r.runTask(ctx, task, newSink)
			if err != nil {
				log.Errorf("inventory task %s failed: %v", task.TaskID(), err)
				mu.Lock()
				failed[task.TaskID()] = err
				mu.Unlock()
			}
		})
	}
	p.Wait()
	log.Infof("inventory: %d of %d tasks done", len(tasks)-len(failed), len(tasks))
	return failed
}

func (r *Runner) runTask(ctx context.Context, task *splitter.SplitTask, newSink SinkFactory) error {
	sink, err := newSink(task)
	if err != nil {
		return err
	}
	if closer, ok := sink.(interface{ Close() error }); ok {
		defer func() {
			err := closer.Close()
			if err != nil {
				log.Warnf("closing sink of task %s: %v", task.TaskID(), err)
			}
		}()
	}
	return r.dumper.Run(ctx, task, sink)
}
