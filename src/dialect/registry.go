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

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var dbTypeAliases = map[string]string{
	"postgres": POSTGRESQL,
	"pg":       POSTGRESQL,
	"mariadb":  MYSQL,
}

// Registry holds one builder per dialect. It is populated once and read-only afterwards.
type Registry struct {
	builders map[string]SQLBuilder
	warned   sync.Map
}

func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]SQLBuilder)}
	for dbType, caps := range capabilitiesByDBType {
		r.builders[dbType] = NewSQLBuilder(dbType, caps)
	}
	return r
}

var defaultRegistry = NewRegistry()

func normalizeDBType(dbType string) string {
	t := strings.ToLower(strings.TrimSpace(dbType))
	if alias, ok := dbTypeAliases[t]; ok {
		return alias
	}
	return t
}

func (r *Registry) Lookup(dbType string) (SQLBuilder, bool) {
	b, ok := r.builders[normalizeDBType(dbType)]
	return b, ok
}

// GetBuilder resolves an unregistered dialect to the default builder rather than failing.
func (r *Registry) GetBuilder(dbType string) SQLBuilder {
	if b, ok := r.Lookup(dbType); ok {
		return b
	}
	if _, loaded := r.warned.LoadOrStore(dbType, true); !loaded {
		log.Warnf("no SQL builder registered for database type %q, using the default builder", dbType)
	}
	return r.builders[DEFAULT]
}

func GetBuilder(dbType string) SQLBuilder {
	return defaultRegistry.GetBuilder(dbType)
}

func Lookup(dbType string) (SQLBuilder, bool) {
	return defaultRegistry.Lookup(dbType)
}

// IsSupported reports whether dbType is registered and can upsert, so that replayed
// inserts overwrite instead of duplicating rows.
func IsSupported(dbType string) bool {
	b, ok := defaultRegistry.Lookup(dbType)
	return ok && b.Capabilities().Upsert != UPSERT_NONE
}
