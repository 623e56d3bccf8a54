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

package splitter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/yugabyte/yb-reshard/src/dialect"
	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/metadata"
	"github.com/yugabyte/yb-reshard/src/metrics"
	"github.com/yugabyte/yb-reshard/src/position"
)

const DEFAULT_SHARD_SIZE = 1_000_000

type Config struct {
	ShardSize   int64 // rows per split task
	Concurrency int   // tables split in parallel by SplitAll
}

type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

type SplitTask struct {
	Schema          string
	TableName       string
	UniqueKeyColumn string // empty for indivisible tables
	Position        position.Position
	ShardIndex      int
}

func (t *SplitTask) TaskID() string {
	return fmt.Sprintf("%s.%s#%d", t.Schema, t.TableName, t.ShardIndex)
}

func (t *SplitTask) IsDivisible() bool {
	return t.Position.Kind() == position.RANGE
}

func (t *SplitTask) String() string {
	return fmt.Sprintf("SplitTask{id=%s, key=%s, position=%s}", t.TaskID(), t.UniqueKeyColumn, t.Position)
}

type Splitter struct {
	cfg     Config
	builder dialect.SQLBuilder
	loader  metadata.Loader
}

func NewSplitter(cfg Config, builder dialect.SQLBuilder, loader metadata.Loader) (*Splitter, error) {
	if cfg.ShardSize <= 0 {
		return nil, goerrors.Errorf("shard size must be positive, got %d", cfg.ShardSize)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Splitter{cfg: cfg, builder: builder, loader: loader}, nil
}

// Split partitions one table into range tasks that together cover [min(key), max(key)]
// exactly once. Boundary queries are sequential: each starts where the previous one ended.
// On any query error no tasks are returned, since a partial plan would drop rows.
func (s *Splitter) Split(ctx context.Context, db metadata.Querier, table TableRef) ([]*SplitTask, error) {
	meta, err := s.loader.LoadTableMetaData(ctx, table.Schema, table.Name)
	if err != nil {
		return nil, errs.NewSplitProbeError(table.String(), errs.SPLIT_STEP_LOAD_METADATA, err)
	}
	if !meta.IsSingleIntegerKey() {
		log.Infof("table %s has no single integer primary key (pk=%v): planning one unbounded task",
			table, meta.PrimaryKeyColumns)
		tasks := []*SplitTask{{
			Schema:          table.Schema,
			TableName:       table.Name,
			UniqueKeyColumn: "",
			Position:        position.UnboundedPosition{},
		}}
		metrics.RecordSplitTasks(table.Schema, table.Name, len(tasks))
		return tasks, nil
	}
	key := meta.PrimaryKeyColumns[0]

	var minKey, maxKey sql.NullInt64
	stmt := s.builder.BuildUniqueKeyMinMaxSQL(table.Schema, table.Name, key)
	err = db.QueryRowContext(ctx, stmt).Scan(&minKey, &maxKey)
	if err != nil {
		return nil, errs.NewSplitProbeError(table.String(), errs.SPLIT_STEP_PROBE_MIN_MAX,
			fmt.Errorf("query %q: %w", stmt, err))
	}
	if !minKey.Valid || !maxKey.Valid {
		log.Infof("table %s is empty: no split tasks", table)
		return nil, nil
	}

	var tasks []*SplitTask
	stmt = s.builder.BuildSplitByPrimaryKeyRangeSQL(table.Schema, table.Name, key)
	lower := minKey.Int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, errs.NewSplitRangeProbeError(table.String(), lower, err)
		}
		var upper sql.NullInt64
		err := db.QueryRowContext(ctx, stmt, lower, s.cfg.ShardSize).Scan(&upper)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NewSplitRangeProbeError(table.String(), lower, fmt.Errorf("query %q: %w", stmt, err))
		}
		if !upper.Valid || upper.Int64 < lower {
			// Rows deleted concurrently; nothing left past lower.
			log.Infof("table %s: no rows at or after key %d, stop splitting", table, lower)
			break
		}
		tasks = append(tasks, &SplitTask{
			Schema:          table.Schema,
			TableName:       table.Name,
			UniqueKeyColumn: key,
			Position:        position.NewRangePosition(lower, upper.Int64),
			ShardIndex:      len(tasks),
		})
		if upper.Int64 >= maxKey.Int64 {
			break
		}
		lower = upper.Int64 + 1
	}
	log.Infof("table %s split into %d tasks over [%d, %d] with shard size %d",
		table, len(tasks), minKey.Int64, maxKey.Int64, s.cfg.ShardSize)
	metrics.RecordSplitTasks(table.Schema, table.Name, len(tasks))
	return tasks, nil
}

type Result struct {
	Tasks []*SplitTask
	Err   error
}

// SplitAll splits tables in parallel. A failure in one table never aborts the others.
func (s *Splitter) SplitAll(ctx context.Context, db metadata.Querier, tables []TableRef) map[TableRef]*Result {
	var mu sync.Mutex
	results := make(map[TableRef]*Result, len(tables))
	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for _, table := range tables {
		table := table
		p.Go(func() {
			tasks, err := s.Split(ctx, db, table)
			if err != nil {
				log.Errorf("splitting table %s: %v", table, err)
			}
			mu.Lock()
			results[table] = &Result{Tasks: tasks, Err: err}
			mu.Unlock()
		})
	}
	p.Wait()
	return results
}

// CheckEmpty confirms that a table with no split tasks really has no rows.
func (s *Splitter) CheckEmpty(ctx context.Context, db metadata.Querier, table TableRef) (bool, error) {
	stmt := s.builder.BuildCheckEmptySQL(table.Schema, table.Name)
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return false, fmt.Errorf("check empty %s: %w", table, err)
	}
	defer rows.Close()
	hasRow := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("check empty %s: %w", table, err)
	}
	return !hasRow, nil
}
