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
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// TableName is a logical table: the name the migration job knows a table by, independent
// of which physical shard a change came from.
type TableName struct {
	Schema string
	Name   string
}

func (t TableName) Qualified() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

func (t TableName) String() string {
	return t.Qualified()
}

// Registry maps actual (physical) table names to logical ones and decides which logical
// tables are in scope. It is populated before streaming starts and read-only afterwards.
type Registry struct {
	defaultSchema string

	// schema -> actual table -> logical name
	mappings map[string]map[string]TableName

	// First capture group of a matching actual table name is the logical table name,
	// e.g. `^(.+)_[0-9]+$` maps t_order_0, t_order_1 to t_order.
	shardSuffixRule *regexp.Regexp

	// Qualified logical names. Empty means every table is in scope.
	scope mapset.Set[string]
}

func NewRegistry(defaultSchema string) *Registry {
	return &Registry{
		defaultSchema: defaultSchema,
		mappings:      make(map[string]map[string]TableName),
		scope:         mapset.NewThreadUnsafeSet[string](),
	}
}

func (reg *Registry) parseName(name string) (TableName, error) {
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		return TableName{Schema: reg.defaultSchema, Name: parts[0]}, nil
	case 2:
		return TableName{Schema: parts[0], Name: parts[1]}, nil
	default:
		return TableName{}, fmt.Errorf("invalid table name: %s", name)
	}
}

// AddMapping registers actual -> logical. Unqualified names use the default schema.
func (reg *Registry) AddMapping(actual, logical string) error {
	a, err := reg.parseName(actual)
	if err != nil {
		return err
	}
	l, err := reg.parseName(logical)
	if err != nil {
		return err
	}
	if reg.mappings[a.Schema] == nil {
		reg.mappings[a.Schema] = make(map[string]TableName)
	}
	if existing, ok := reg.mappings[a.Schema][a.Name]; ok && existing != l {
		return goerrors.Errorf("table %s already mapped to %s, cannot map to %s", a, existing, l)
	}
	reg.mappings[a.Schema][a.Name] = l
	return nil
}

func (reg *Registry) SetShardSuffixPattern(pattern string) error {
	if pattern == "" {
		reg.shardSuffixRule = nil
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile shard suffix pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return goerrors.Errorf("shard suffix pattern %q must capture the logical table name", pattern)
	}
	reg.shardSuffixRule = re
	return nil
}

func (reg *Registry) AddToScope(logicalNames ...string) error {
	for _, name := range logicalNames {
		t, err := reg.parseName(name)
		if err != nil {
			return err
		}
		reg.scope.Add(t.Qualified())
	}
	return nil
}

func (reg *Registry) ScopedTables() []TableName {
	names := reg.scope.ToSlice()
	sort.Strings(names)
	return lo.Map(names, func(n string, _ int) TableName {
		t, _ := reg.parseName(n)
		return t
	})
}

/*
Lookup resolves a physical table to its logical name. It returns false when the table is
outside the migration scope.

Resolution order: explicit mapping, shard suffix rule, the actual name itself. Explicit
mappings and the scope are matched exactly first; a case-insensitive match is accepted
only if it is the only one.
*/
func (reg *Registry) Lookup(schema, actual string) (TableName, bool) {
	if schema == "" {
		schema = reg.defaultSchema
	}
	logical := TableName{Schema: schema, Name: actual}
	if mapped, ok := reg.lookupMapping(schema, actual); ok {
		logical = mapped
	} else if reg.shardSuffixRule != nil {
		if m := reg.shardSuffixRule.FindStringSubmatch(actual); m != nil && m[1] != "" {
			logical = TableName{Schema: schema, Name: m[1]}
		}
	}
	if reg.scope.Cardinality() == 0 || reg.scope.Contains(logical.Qualified()) {
		return logical, true
	}
	matched, err := matchName("table", reg.scope.ToSlice(), logical.Qualified())
	if err != nil {
		var multi *ErrMultipleMatchingNames
		if errors.As(err, &multi) {
			log.Warnf("table %s.%s resolves to ambiguous logical name: %v", schema, actual, err)
		}
		return TableName{}, false
	}
	t, _ := reg.parseName(matched)
	return t, true
}

func (reg *Registry) lookupMapping(schema, actual string) (TableName, bool) {
	if mapped, ok := reg.mappings[schema][actual]; ok {
		return mapped, true
	}
	schemaName, err := matchName("schema", lo.Keys(reg.mappings), schema)
	if err != nil {
		return TableName{}, false
	}
	tables := reg.mappings[schemaName]
	tableName, err := matchName("table", lo.Keys(tables), actual)
	if err != nil {
		return TableName{}, false
	}
	return tables[tableName], true
}

type ErrMultipleMatchingNames struct {
	ObjectType string
	Names      []string
}

func (e *ErrMultipleMatchingNames) Error() string {
	sort.Strings(e.Names)
	return fmt.Sprintf("multiple matching %s names: %s", e.ObjectType, strings.Join(e.Names, ", "))
}

type ErrNameNotFound struct {
	ObjectType string
	Name       string
}

func (e *ErrNameNotFound) Error() string {
	return fmt.Sprintf("%s name not found: %s", e.ObjectType, e.Name)
}

func matchName(objType string, names []string, name string) (string, error) {
	var candidateNames []string
	for _, n := range names {
		if n == name { // Exact match.
			return n, nil
		}
		if strings.EqualFold(n, name) {
			candidateNames = append(candidateNames, n)
		}
	}
	if len(candidateNames) == 1 {
		return candidateNames[0], nil
	}
	if len(candidateNames) > 1 {
		return "", &ErrMultipleMatchingNames{ObjectType: objType, Names: candidateNames}
	}
	return "", &ErrNameNotFound{ObjectType: objType, Name: name}
}
