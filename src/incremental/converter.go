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

package incremental

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/metadata"
	"github.com/yugabyte/yb-reshard/src/metrics"
	"github.com/yugabyte/yb-reshard/src/namereg"
	"github.com/yugabyte/yb-reshard/src/record"
)

// Converter turns events into records. It is used by a single ordered stream and is not
// safe for concurrent use.
type Converter struct {
	registry *namereg.Registry
	loader   metadata.Loader

	commitTime time.Time // of the transaction being converted
}

func NewConverter(registry *namereg.Registry, loader metadata.Loader) *Converter {
	return &Converter{registry: registry, loader: loader}
}

func (c *Converter) Convert(ctx context.Context, ev Event) (record.Record, error) {
	switch ev := ev.(type) {
	case *BeginEvent:
		c.commitTime = ev.CommitTime
		return c.placeholder(ev), nil
	case *CommitEvent:
		c.commitTime = time.Time{}
		return c.placeholder(ev), nil
	case *IgnoredEvent:
		log.Debugf("ignoring event at %s: %s", ev.Pos, ev.Reason)
		return c.placeholder(ev), nil
	case *RowEvent:
		return c.convertRowEvent(ctx, ev)
	default:
		return nil, fmt.Errorf("unexpected event type %T", ev)
	}
}

func (c *Converter) placeholder(ev Event) record.Record {
	metrics.RecordPlaceholder()
	return record.NewPlaceholderRecord(ev.Position())
}

func (c *Converter) convertRowEvent(ctx context.Context, ev *RowEvent) (record.Record, error) {
	logical, ok := c.registry.Lookup(ev.Schema, ev.Table)
	if !ok {
		log.Debugf("table %s.%s is not in migration scope, position %s", ev.Schema, ev.Table, ev.Pos)
		return c.placeholder(ev), nil
	}
	meta, err := c.loader.LoadTableMetaData(ctx, ev.Schema, ev.Table)
	if errors.Is(err, metadata.ErrTableNotFound) {
		log.Warnf("no metadata for table %s.%s, skipping event at %s", ev.Schema, ev.Table, ev.Pos)
		return c.placeholder(ev), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata of %s.%s: %w", ev.Schema, ev.Table, err)
	}

	switch ev.Op {
	case record.INSERT, record.UPDATE, record.DELETE:
	default:
		return nil, errs.NewUnsupportedOperationError(logical.Qualified(), string(ev.Op), ev.Pos)
	}
	if ev.Op != record.INSERT && len(meta.PrimaryKeyColumns) == 0 {
		// Without a key the row cannot be addressed on the target.
		return nil, errs.NewUnsupportedOperationError(logical.Qualified(), string(ev.Op)+" without primary key", ev.Pos)
	}

	values := ev.After
	if ev.Op == record.DELETE {
		if !ev.HasBefore {
			return nil, errs.NewDataShapeError(logical.Qualified(), ev.Pos, "delete event without before-image")
		}
		values = ev.Before
	}
	if len(values) > len(meta.Columns) {
		return nil, errs.NewDataShapeError(logical.Qualified(), ev.Pos,
			fmt.Sprintf("%d values but %d known columns", len(values), len(meta.Columns)))
	}
	if ev.Op == record.UPDATE && ev.HasBefore && len(ev.Before) != len(ev.After) {
		return nil, errs.NewDataShapeError(logical.Qualified(), ev.Pos,
			fmt.Sprintf("before-image has %d values, after-image %d", len(ev.Before), len(ev.After)))
	}

	rec := record.NewDataRecord(logical.Schema, logical.Name, ev.Op, ev.Pos)
	rec.CommitTime = c.commitTime
	for i, v := range values {
		colMeta := meta.Columns[i]
		col := record.Column{
			Name:         colMeta.Name,
			Value:        v,
			IsPrimaryKey: colMeta.IsPrimaryKey,
		}
		if ev.Op == record.UPDATE {
			c.diffColumn(&col, ev, i)
		}
		if IsUnchanged(col.Value) {
			col.Value = nil
		}
		rec.AddColumn(col)
	}
	metrics.RecordDataRecord(rec.Schema, rec.TableName, string(rec.Type))
	return rec, nil
}

// diffColumn sets IsUpdated from the before/after images. Without a before-image every
// column with a value is treated as updated.
func (c *Converter) diffColumn(col *record.Column, ev *RowEvent, i int) {
	if IsUnchanged(col.Value) {
		if ev.HasBefore && !IsUnchanged(ev.Before[i]) {
			col.Value = ev.Before[i]
			col.OldValue = ev.Before[i]
		}
		col.IsUpdated = false
		return
	}
	if !ev.HasBefore {
		col.IsUpdated = true
		return
	}
	before := ev.Before[i]
	if !IsUnchanged(before) {
		col.OldValue = before
	}
	col.IsUpdated = IsUnchanged(before) || !valuesEqual(before, col.Value)
}

func valuesEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok && bok {
		return bytes.Equal(ab, bb)
	}
	return reflect.DeepEqual(a, b)
}
