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

package dialect

import "sync"

type StatementKind string

const (
	INSERT_STMT      StatementKind = "INSERT"
	UPDATE_STMT      StatementKind = "UPDATE"
	DELETE_STMT      StatementKind = "DELETE"
	COUNT_STMT       StatementKind = "COUNT"
	CHECK_EMPTY_STMT StatementKind = "CHECK_EMPTY"
	DROP_STMT        StatementKind = "DROP"
)

type statementCacheKey struct {
	kind  StatementKind
	table string
}

// StatementCache holds generated templates for the lifetime of a job. Tables are known up
// front so it is never evicted. Safe for concurrent use; a template computed twice by racing
// callers is identical, so whichever is stored first wins.
type StatementCache struct {
	stmts sync.Map // statementCacheKey -> any
}

func NewStatementCache() *StatementCache {
	return &StatementCache{}
}

func (c *StatementCache) GetOrCompute(kind StatementKind, table string, compute func() any) any {
	key := statementCacheKey{kind: kind, table: table}
	if v, ok := c.stmts.Load(key); ok {
		return v
	}
	v, _ := c.stmts.LoadOrStore(key, compute())
	return v
}

func (c *StatementCache) Len() int {
	n := 0
	c.stmts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
