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
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/dialect"
	"github.com/yugabyte/yb-reshard/src/metadata"
	"github.com/yugabyte/yb-reshard/src/metrics"
	"github.com/yugabyte/yb-reshard/src/namereg"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/record"
	"github.com/yugabyte/yb-reshard/src/splitter"
)

const DEFAULT_BATCH_SIZE = 5000

// Sink receives the records of one task in order. Write returns only once the records are
// durably applied: the dumper records progress right after.
type Sink interface {
	Write(ctx context.Context, records []record.Record) error
}

type SinkFunc func(ctx context.Context, records []record.Record) error

func (f SinkFunc) Write(ctx context.Context, records []record.Record) error {
	return f(ctx, records)
}

type Config struct {
	BatchSize   int // rows per page
	Concurrency int // tasks dumped in parallel by Runner
}

/*
Dumper copies the rows of one split task to a sink, page by page.

Divisible tasks page over the unique key: the first page of a fresh task starts at the
lower bound inclusively, every later page (and every page of a resumed task) starts strictly
after the last key already written. Re-running a task whose progress was lost after the sink
acknowledged only re-sends rows, which the target applies as upserts.
*/
type Dumper struct {
	cfg      Config
	db       metadata.Querier
	builder  dialect.SQLBuilder
	loader   metadata.Loader
	registry *namereg.Registry
	tracker  *progress.Tracker
}

func NewDumper(cfg Config, db metadata.Querier, builder dialect.SQLBuilder, loader metadata.Loader,
	registry *namereg.Registry, tracker *progress.Tracker) *Dumper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DEFAULT_BATCH_SIZE
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Dumper{cfg: cfg, db: db, builder: builder, loader: loader, registry: registry, tracker: tracker}
}

// Run dumps task into sink, resuming from its recorded progress. A finished task is skipped.
func (d *Dumper) Run(ctx context.Context, task *splitter.SplitTask, sink Sink) error {
	key := progress.InventoryTaskKey(task.TaskID())
	last, resumed, err := d.tracker.LoadProgress(ctx, key)
	if err != nil {
		return err
	}
	if resumed && last.Kind() == position.FINISHED {
		log.Infof("inventory task %s already finished, skipping", task.TaskID())
		return nil
	}
	meta, err := d.loader.LoadTableMetaData(ctx, task.Schema, task.TableName)
	if err != nil {
		return fmt.Errorf("load metadata of %s.%s: %w", task.Schema, task.TableName, err)
	}
	target := d.logicalName(task)

	switch p := task.Position.(type) {
	case position.RangePosition:
		err = d.dumpRange(ctx, task, p, last, resumed, meta, target, sink)
	case position.UnboundedPosition:
		if resumed && len(meta.PrimaryKeyColumns) == 0 {
			return goerrors.Errorf("inventory task %s was interrupted and %s has no primary key: "+
				"the rows it wrote to %s must be deleted before it is dumped again", task.TaskID(), task.TableName, target)
		}
		if resumed {
			log.Infof("inventory task %s was interrupted, dumping the whole table again", task.TaskID())
		} else {
			// Mark the task started before its first row can reach the target.
			err = d.tracker.RecordProgress(ctx, key, position.UnboundedPosition{})
			if err != nil {
				return err
			}
		}
		err = d.dumpUnbounded(ctx, task, meta, target, sink)
	default:
		err = goerrors.Errorf("inventory task %s has unexpected position %s", task.TaskID(), task.Position)
	}
	if err != nil {
		return err
	}

	finished := position.FinishedPosition{}
	err = sink.Write(ctx, []record.Record{record.NewFinishedRecord(finished)})
	if err != nil {
		return fmt.Errorf("write finished record of %s: %w", task.TaskID(), err)
	}
	err = d.tracker.RecordProgress(ctx, key, finished)
	if err != nil {
		return err
	}
	log.Infof("inventory task %s finished", task.TaskID())
	return nil
}

func (d *Dumper) dumpRange(ctx context.Context, task *splitter.SplitTask, bounds position.RangePosition,
	last position.Position, resumed bool, meta *metadata.TableMetaData, target namereg.TableName, sink Sink) error {

	lower := bounds.Lower
	firstQuery := true
	if resumed {
		lastRange, ok := last.(position.RangePosition)
		if !ok || lastRange.Upper != bounds.Upper {
			return goerrors.Errorf("inventory task %s: recorded progress %s does not belong to %s",
				task.TaskID(), last, bounds)
		}
		lower = lastRange.Lower
		firstQuery = false
		log.Infof("resuming inventory task %s after key %d", task.TaskID(), lower)
	}

	for {
		stmt := d.builder.BuildDivisibleInventoryDumpSQL(task.Schema, task.TableName, task.UniqueKeyColumn, firstQuery)
		page, lastKey, err := d.queryPage(ctx, stmt, meta, target, task.UniqueKeyColumn, bounds.Upper,
			lower, bounds.Upper, d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("inventory task %s: %w", task.TaskID(), err)
		}
		if len(page) == 0 {
			break
		}
		err = d.deliver(ctx, task, sink, page, position.NewRangePosition(lastKey, bounds.Upper), target)
		if err != nil {
			return err
		}
		if len(page) < d.cfg.BatchSize || lastKey >= bounds.Upper {
			break
		}
		lower = lastKey
		firstQuery = false
	}
	return nil
}

func (d *Dumper) dumpUnbounded(ctx context.Context, task *splitter.SplitTask, meta *metadata.TableMetaData,
	target namereg.TableName, sink Sink) error {

	stmt := d.builder.BuildIndivisibleInventoryDumpSQL(task.Schema, task.TableName, task.UniqueKeyColumn)
	rows, err := d.db.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("inventory task %s: query %q: %w", task.TaskID(), stmt, err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("inventory task %s: columns: %w", task.TaskID(), err)
	}
	batch := make([]record.Record, 0, d.cfg.BatchSize)
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return fmt.Errorf("inventory task %s: %w", task.TaskID(), err)
		}
		batch = append(batch, newInsertRecord(target, columns, values, meta, position.UnboundedPosition{}))
		if len(batch) == d.cfg.BatchSize {
			err = d.deliver(ctx, task, sink, batch, position.UnboundedPosition{}, target)
			if err != nil {
				return err
			}
			batch = make([]record.Record, 0, d.cfg.BatchSize)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inventory task %s: read rows: %w", task.TaskID(), err)
	}
	if len(batch) > 0 {
		return d.deliver(ctx, task, sink, batch, position.UnboundedPosition{}, target)
	}
	return nil
}

// deliver writes a page to the sink and only then records its position.
func (d *Dumper) deliver(ctx context.Context, task *splitter.SplitTask, sink Sink, page []record.Record,
	pos position.Position, target namereg.TableName) error {
	err := sink.Write(ctx, page)
	if err != nil {
		return fmt.Errorf("inventory task %s: write %d records: %w", task.TaskID(), len(page), err)
	}
	metrics.RecordDataRecords(target.Schema, target.Name, string(record.INSERT), len(page))
	return d.tracker.RecordProgress(ctx, progress.InventoryTaskKey(task.TaskID()), pos)
}

func (d *Dumper) queryPage(ctx context.Context, stmt string, meta *metadata.TableMetaData, target namereg.TableName,
	keyColumn string, upper int64, args ...any) ([]record.Record, int64, error) {

	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query %q: %w", stmt, err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("columns: %w", err)
	}
	keyIndex := -1
	for i, name := range columns {
		if strings.EqualFold(name, keyColumn) {
			keyIndex = i
			break
		}
	}
	if keyIndex < 0 {
		return nil, 0, goerrors.Errorf("key column %s not in result columns %v", keyColumn, columns)
	}

	var page []record.Record
	var lastKey int64
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, 0, err
		}
		lastKey, err = toInt64(values[keyIndex])
		if err != nil {
			return nil, 0, fmt.Errorf("key column %s: %w", keyColumn, err)
		}
		pos := position.NewRangePosition(lastKey, upper)
		page = append(page, newInsertRecord(target, columns, values, meta, pos))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("read rows: %w", err)
	}
	return page, lastKey, nil
}

/*
restartKeylessTargets prepares the unbounded tasks of tables without a primary key. Their rows
are plain inserts, so re-sending them would duplicate rows on the target. When any task
writing to such a logical table was interrupted, every row of the target table is deleted
and the progress of all tasks writing to it is reset, finished ones included: they all
start over. It returns the errors of the tasks that could not be prepared.
*/
func (d *Dumper) restartKeylessTargets(ctx context.Context, tasks []*splitter.SplitTask, newSink SinkFactory) map[string]error {
	groups := make(map[namereg.TableName][]*splitter.SplitTask)
	var targets []namereg.TableName
	for _, task := range tasks {
		if task.Position.Kind() != position.UNBOUNDED {
			continue
		}
		meta, err := d.loader.LoadTableMetaData(ctx, task.Schema, task.TableName)
		if err != nil || len(meta.PrimaryKeyColumns) > 0 {
			// a metadata error is reported by the task itself
			continue
		}
		target := d.logicalName(task)
		if _, ok := groups[target]; !ok {
			targets = append(targets, target)
		}
		groups[target] = append(groups[target], task)
	}

	failed := make(map[string]error)
	for _, target := range targets {
		group := groups[target]
		err := d.restartIfInterrupted(ctx, target, group, newSink)
		if err != nil {
			log.Errorf("restarting the inventory of %s: %v", target, err)
			for _, task := range group {
				failed[task.TaskID()] = err
			}
		}
	}
	return failed
}

func (d *Dumper) restartIfInterrupted(ctx context.Context, target namereg.TableName, group []*splitter.SplitTask,
	newSink SinkFactory) error {

	var interrupted []string
	for _, task := range group {
		last, found, err := d.tracker.LoadProgress(ctx, progress.InventoryTaskKey(task.TaskID()))
		if err != nil {
			return err
		}
		if found && last.Kind() != position.FINISHED {
			interrupted = append(interrupted, task.TaskID())
		}
	}
	if len(interrupted) == 0 {
		return nil
	}
	log.Warnf("inventory tasks %v of %s were interrupted and %s has no primary key: deleting its rows and dumping all %d tasks again",
		interrupted, group[0].TableName, target, len(group))

	sink, err := newSink(group[0])
	if err != nil {
		return err
	}
	if closer, ok := sink.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	deleteAll := record.NewDataRecord(target.Schema, target.Name, record.TRUNCATE, position.UnboundedPosition{})
	err = sink.Write(ctx, []record.Record{deleteAll})
	if err != nil {
		return fmt.Errorf("delete rows of %s: %w", target, err)
	}
	for _, task := range group {
		err = d.tracker.ResetProgress(ctx, progress.InventoryTaskKey(task.TaskID()))
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dumper) logicalName(task *splitter.SplitTask) namereg.TableName {
	if d.registry != nil {
		if logical, ok := d.registry.Lookup(task.Schema, task.TableName); ok {
			return logical
		}
	}
	return namereg.TableName{Schema: task.Schema, Name: task.TableName}
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	err := rows.Scan(ptrs...)
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return values, nil
}

func newInsertRecord(target namereg.TableName, columns []string, values []any, meta *metadata.TableMetaData,
	pos position.Position) *record.DataRecord {
	rec := record.NewDataRecord(target.Schema, target.Name, record.INSERT, pos)
	for i, name := range columns {
		col, _ := meta.Column(name)
		rec.AddColumn(record.Column{
			Name:         name,
			Value:        values[i],
			IsPrimaryKey: col.IsPrimaryKey,
			IsUpdated:    true,
		})
	}
	return rec
}

func toInt64(v any) (int64, error) {
	switch k := v.(type) {
	case int64:
		return k, nil
	case int32:
		return int64(k), nil
	case int:
		return int64(k), nil
	case uint64:
		return int64(k), nil
	case []byte:
		return strconv.ParseInt(string(k), 10, 64)
	case string:
		return strconv.ParseInt(k, 10, 64)
	default:
		return 0, goerrors.Errorf("unexpected key value %v of type %T", v, v)
	}
}
