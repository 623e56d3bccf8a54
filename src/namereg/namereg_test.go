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

package namereg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShardedRegistry(t *testing.T) *Registry {
	reg := NewRegistry("public")
	require.NoError(t, reg.SetShardSuffixPattern(`^(.+)_[0-9]+$`))
	require.NoError(t, reg.AddMapping("legacy_orders", "t_order"))
	require.NoError(t, reg.AddToScope("t_order", "public.t_user", "Audit"))
	return reg
}

func TestLookup(t *testing.T) {
	reg := newShardedRegistry(t)
	tests := []struct {
		schema, actual string
		want           TableName
		ok             bool
	}{
		{"public", "t_order", TableName{"public", "t_order"}, true},
		{"public", "t_order_0", TableName{"public", "t_order"}, true},
		{"public", "t_order_17", TableName{"public", "t_order"}, true},
		{"", "t_user_3", TableName{"public", "t_user"}, true},
		{"public", "legacy_orders", TableName{"public", "t_order"}, true},
		{"public", "LEGACY_ORDERS", TableName{"public", "t_order"}, true}, // unique case-insensitive match
		{"public", "audit", TableName{"public", "Audit"}, true},
		{"public", "t_item_1", TableName{}, false},
		{"sales", "t_order_1", TableName{}, false},
		{"public", "t_order_x", TableName{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.schema+"."+tt.actual, func(t *testing.T) {
			got, ok := reg.Lookup(tt.schema, tt.actual)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupAmbiguousCaseInsensitive(t *testing.T) {
	reg := NewRegistry("public")
	require.NoError(t, reg.AddToScope("Orders", "ORDERS"))

	got, ok := reg.Lookup("public", "ORDERS")
	assert.True(t, ok)
	assert.Equal(t, "ORDERS", got.Name)

	_, ok = reg.Lookup("public", "orders")
	assert.False(t, ok)
}

func TestEmptyScopeAcceptsEverything(t *testing.T) {
	reg := NewRegistry("public")
	got, ok := reg.Lookup("shop", "anything")
	assert.True(t, ok)
	assert.Equal(t, "shop.anything", got.Qualified())
}

func TestAddMappingConflicts(t *testing.T) {
	reg := NewRegistry("public")
	require.NoError(t, reg.AddMapping("a", "x"))
	require.NoError(t, reg.AddMapping("public.a", "public.x"))
	assert.Error(t, reg.AddMapping("a", "y"))
	assert.Error(t, reg.AddMapping("a.b.c", "y"))
}

func TestSetShardSuffixPattern(t *testing.T) {
	reg := NewRegistry("public")
	assert.Error(t, reg.SetShardSuffixPattern(`_[0-9]+$`))
	assert.Error(t, reg.SetShardSuffixPattern(`(`))
	assert.NoError(t, reg.SetShardSuffixPattern(""))
}

func TestScopedTables(t *testing.T) {
	reg := newShardedRegistry(t)
	assert.Equal(t, []TableName{{"public", "Audit"}, {"public", "t_order"}, {"public", "t_user"}}, reg.ScopedTables())
}

func TestMatchName(t *testing.T) {
	names := []string{"foo", "Bar", "BAR"}
	got, err := matchName("table", names, "FOO")
	require.NoError(t, err)
	assert.Equal(t, "foo", got)

	got, err = matchName("table", names, "BAR")
	require.NoError(t, err)
	assert.Equal(t, "BAR", got)

	_, err = matchName("table", names, "bar")
	var multi *ErrMultipleMatchingNames
	assert.ErrorAs(t, err, &multi)

	_, err = matchName("table", names, "baz")
	var notFound *ErrNameNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestLookupPrefersExactMappings(t *testing.T) {
	reg := NewRegistry("public")
	require.NoError(t, reg.AddMapping("Legacy", "t_order"))
	require.NoError(t, reg.AddMapping("LEGACY", "t_user"))
	require.NoError(t, reg.AddToScope("t_order", "t_user", "Audit", "AUDIT"))

	got, ok := reg.Lookup("public", "LEGACY")
	require.True(t, ok)
	assert.Equal(t, TableName{"public", "t_user"}, got)
	got, ok = reg.Lookup("public", "Legacy")
	require.True(t, ok)
	assert.Equal(t, TableName{"public", "t_order"}, got)
	_, ok = reg.Lookup("public", "legacy")
	assert.False(t, ok)

	got, ok = reg.Lookup("public", "AUDIT")
	require.True(t, ok)
	assert.Equal(t, TableName{"public", "AUDIT"}, got)
	_, ok = reg.Lookup("public", "audit")
	assert.False(t, ok)
}
