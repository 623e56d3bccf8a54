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

package progress

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/metrics"
	"github.com/yugabyte/yb-reshard/src/position"
)

const (
	INVENTORY_KEY_PREFIX = "inventory/"
	STREAM_KEY_PREFIX    = "stream/"
)

func InventoryTaskKey(taskID string) string {
	return INVENTORY_KEY_PREFIX + taskID
}

func StreamKey(streamName string) string {
	return STREAM_KEY_PREFIX + streamName
}

// Tracker persists the furthest position durably applied to the target, per task.
// Positions only move forward. Safe for concurrent use by different tasks.
type Tracker struct {
	store Store

	mu   sync.Mutex
	last map[string]position.Position
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, last: make(map[string]position.Position)}
}

/*
RecordProgress must only be called after the batch ending at pos is confirmed written
to the target.

  - a log position older than the recorded one returns errs.ErrPositionNotAdvanced,
    an equal one is a no-op
  - a range position must keep the upper bound and move the resume key forward
  - nothing is accepted once FinishedPosition is recorded
*/
func (t *Tracker) RecordProgress(ctx context.Context, taskID string, pos position.Position) error {
	if pos == nil {
		return goerrors.Errorf("record progress of %s: nil position", taskID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok, err := t.lastLocked(ctx, taskID)
	if err != nil {
		return err
	}
	if ok {
		advances, err := advances(last, pos)
		if err != nil {
			return fmt.Errorf("record progress of %s: %w", taskID, err)
		}
		if !advances {
			return nil
		}
	}

	err = t.store.Put(ctx, taskID, pos.String())
	if err != nil {
		return fmt.Errorf("persist progress of %s at %s: %w", taskID, pos, err)
	}
	t.last[taskID] = pos
	metrics.RecordProgress(string(pos.Kind()))
	log.Debugf("recorded progress of %s: %s", taskID, pos)
	return nil
}

// advances reports whether next moves past last. Equal positions do not advance and are
// not an error; going backwards is.
func advances(last, next position.Position) (bool, error) {
	if last.Kind() == position.FINISHED {
		return false, fmt.Errorf("cannot record %s: %w", next, errs.ErrTaskFinished)
	}
	if next.Kind() == position.FINISHED {
		return true, nil
	}
	switch l := last.(type) {
	case position.LogPosition:
		n, ok := next.(position.LogPosition)
		if !ok {
			return false, goerrors.Errorf("cannot move from %s to %s", last, next)
		}
		cmp, err := n.Compare(l)
		if err != nil {
			return false, err
		}
		if cmp < 0 {
			return false, fmt.Errorf("%s is before %s: %w", next, last, errs.ErrPositionNotAdvanced)
		}
		return cmp > 0, nil
	case position.RangePosition:
		n, ok := next.(position.RangePosition)
		if !ok || n.Upper != l.Upper {
			return false, goerrors.Errorf("cannot move from %s to %s", last, next)
		}
		if n.Lower < l.Lower {
			return false, fmt.Errorf("%s is before %s: %w", next, last, errs.ErrPositionNotAdvanced)
		}
		return n.Lower > l.Lower, nil
	case position.UnboundedPosition:
		if next.Kind() != position.UNBOUNDED {
			return false, goerrors.Errorf("cannot move from %s to %s", last, next)
		}
		return false, nil
	default:
		return false, goerrors.Errorf("unexpected position %s", last)
	}
}

func (t *Tracker) lastLocked(ctx context.Context, taskID string) (position.Position, bool, error) {
	if pos, ok := t.last[taskID]; ok {
		return pos, true, nil
	}
	pos, ok, err := t.load(ctx, taskID)
	if err != nil || !ok {
		return nil, false, err
	}
	t.last[taskID] = pos
	return pos, true, nil
}

// ResetProgress forgets the position of taskID, finished or not, so that the task starts over.
func (t *Tracker) ResetProgress(ctx context.Context, taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.store.Delete(ctx, taskID)
	if err != nil {
		return fmt.Errorf("reset progress of %s: %w", taskID, err)
	}
	delete(t.last, taskID)
	log.Infof("reset progress of %s", taskID)
	return nil
}

// LoadProgress returns the last recorded position, or false if the task never recorded one.
func (t *Tracker) LoadProgress(ctx context.Context, taskID string) (position.Position, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLocked(ctx, taskID)
}

func (t *Tracker) load(ctx context.Context, taskID string) (position.Position, bool, error) {
	value, ok, err := t.store.Get(ctx, taskID)
	if err != nil {
		return nil, false, fmt.Errorf("load progress of %s: %w", taskID, err)
	}
	if !ok {
		return nil, false, nil
	}
	pos, err := position.Parse(value)
	if err != nil {
		return nil, false, fmt.Errorf("load progress of %s: %w", taskID, err)
	}
	return pos, true, nil
}

// ListProgress returns every recorded position whose task ID starts with prefix.
func (t *Tracker) ListProgress(ctx context.Context, prefix string) (map[string]position.Position, error) {
	values, err := t.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list progress %q: %w", prefix, err)
	}
	result := make(map[string]position.Position, len(values))
	for key, value := range values {
		pos, err := position.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("progress of %s: %w", key, err)
		}
		result[key] = pos
	}
	return result, nil
}

func TaskIDFromKey(key string) string {
	for _, prefix := range []string{INVENTORY_KEY_PREFIX, STREAM_KEY_PREFIX} {
		if strings.HasPrefix(key, prefix) {
			return strings.TrimPrefix(key, prefix)
		}
	}
	return key
}
