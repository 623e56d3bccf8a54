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
	"sync"

	"github.com/yugabyte/yb-reshard/src/position"
)

// AckTracker orders acknowledgements from concurrent writers. Records are dispatched in
// stream order and may be acknowledged in any order; the safe position is the position
// of the last record whose predecessors are all acknowledged.
type AckTracker struct {
	mu        sync.Mutex
	nextSeq   uint64
	lowWater  uint64 // every seq below is acknowledged
	positions map[uint64]position.Position
	acked     map[uint64]bool
	safe      position.Position
}

func NewAckTracker() *AckTracker {
	return &AckTracker{
		positions: make(map[uint64]position.Position),
		acked:     make(map[uint64]bool),
	}
}

// Dispatch registers the next record in stream order and returns its sequence number.
func (a *AckTracker) Dispatch(pos position.Position) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq := a.nextSeq
	a.nextSeq++
	a.positions[seq] = pos
	return seq
}

// Ack marks seq as applied. It returns the new safe position when it moved.
func (a *AckTracker) Ack(seq uint64) (position.Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq < a.lowWater || seq >= a.nextSeq {
		return a.safe, false
	}
	a.acked[seq] = true
	advanced := false
	for a.acked[a.lowWater] {
		a.safe = a.positions[a.lowWater]
		delete(a.acked, a.lowWater)
		delete(a.positions, a.lowWater)
		a.lowWater++
		advanced = true
	}
	return a.safe, advanced
}

func (a *AckTracker) SafePosition() position.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.safe
}

// Pending is the number of dispatched records not yet covered by the safe position.
func (a *AckTracker) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.nextSeq - a.lowWater)
}
