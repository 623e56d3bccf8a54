//go:build unit

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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckTrackerOutOfOrder(t *testing.T) {
	acks := NewAckTracker()
	s0 := acks.Dispatch(lsn(10))
	s1 := acks.Dispatch(lsn(20))
	s2 := acks.Dispatch(lsn(30))
	assert.Equal(t, 3, acks.Pending())
	assert.Nil(t, acks.SafePosition())

	// later records finishing first must not move the safe position
	_, advanced := acks.Ack(s2)
	assert.False(t, advanced)
	_, advanced = acks.Ack(s1)
	assert.False(t, advanced)
	assert.Nil(t, acks.SafePosition())

	safe, advanced := acks.Ack(s0)
	require.True(t, advanced)
	assert.Equal(t, lsn(30), safe)
	assert.Equal(t, 0, acks.Pending())
}

func TestAckTrackerPartialPrefix(t *testing.T) {
	acks := NewAckTracker()
	s0 := acks.Dispatch(lsn(10))
	acks.Dispatch(lsn(20))
	s2 := acks.Dispatch(lsn(30))

	acks.Ack(s2)
	safe, advanced := acks.Ack(s0)
	require.True(t, advanced)
	assert.Equal(t, lsn(10), safe)
	assert.Equal(t, 2, acks.Pending())
}

func TestAckTrackerIgnoresUnknownAndDuplicateAcks(t *testing.T) {
	acks := NewAckTracker()
	s0 := acks.Dispatch(lsn(10))

	_, advanced := acks.Ack(99)
	assert.False(t, advanced)

	_, advanced = acks.Ack(s0)
	assert.True(t, advanced)
	safe, advanced := acks.Ack(s0)
	assert.False(t, advanced)
	assert.Equal(t, lsn(10), safe)
}
