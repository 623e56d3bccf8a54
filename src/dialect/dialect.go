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

import "github.com/yugabyte/yb-reshard/src/record"

// SQLBuilder generates the SQL text used by the inventory and incremental phases.
// Builders never execute SQL. Placeholders are numbered from 1 within each statement.
type SQLBuilder interface {
	DBType() string
	Capabilities() Capabilities
	QuoteIdentifier(name string) string
	QualifyTable(schema, table string) string
	Placeholder(index int) string

	BuildInsertSQL(schema, table string, columns []record.Column) string
	BuildUpdateSQL(schema, table string, conditionColumns, updatedColumns []record.Column) string
	BuildDeleteSQL(schema, table string, conditionColumns []record.Column) string
	BuildCountSQL(schema, table string) string
	BuildCheckEmptySQL(schema, table string) string
	BuildDropSQL(schema, table string) string

	// BuildChunkedQuerySQL is the ordered range scan without a row limit.
	// Args: (lowerOrLastKey, upper).
	BuildChunkedQuerySQL(schema, table, uniqueKey string, firstQuery bool) string
	// BuildDivisibleInventoryDumpSQL pages a range. Args: (lowerOrLastKey, upper, limit).
	BuildDivisibleInventoryDumpSQL(schema, table, uniqueKey string, firstQuery bool) string
	BuildIndivisibleInventoryDumpSQL(schema, table, uniqueKey string) string
	// BuildSplitByPrimaryKeyRangeSQL returns the max key reached after scanning up to
	// N rows from a start key. Args: (startKey, N).
	BuildSplitByPrimaryKeyRangeSQL(schema, table, primaryKey string) string
	BuildUniqueKeyMinMaxSQL(schema, table, uniqueKey string) string
}

type QuoteRule int

const (
	QUOTE_NONE QuoteRule = iota
	QUOTE_BACKTICK
	QUOTE_DOUBLE
	QUOTE_ORACLE // upper-cased, double quoted only when required
)

type PaginationStyle int

const (
	PAGINATE_LIMIT PaginationStyle = iota
	PAGINATE_ROWNUM
)

type PlaceholderStyle int

const (
	PLACEHOLDER_QUESTION PlaceholderStyle = iota
	PLACEHOLDER_DOLLAR
	PLACEHOLDER_COLON
)

type UpsertStyle int

const (
	UPSERT_NONE UpsertStyle = iota
	UPSERT_ON_DUPLICATE_KEY
	UPSERT_ON_CONFLICT
	UPSERT_MERGE // MERGE INTO ... USING (SELECT ... FROM dual)
)

// Capabilities is the override table that distinguishes one dialect from another.
type Capabilities struct {
	Quote        QuoteRule
	Pagination   PaginationStyle
	Placeholders PlaceholderStyle
	Upsert       UpsertStyle
	DropIfExists bool
}

const (
	MYSQL      = "mysql"
	POSTGRESQL = "postgresql"
	ORACLE     = "oracle"
	DEFAULT    = "default"
)

var capabilitiesByDBType = map[string]Capabilities{
	MYSQL: {
		Quote:        QUOTE_BACKTICK,
		Pagination:   PAGINATE_LIMIT,
		Placeholders: PLACEHOLDER_QUESTION,
		Upsert:       UPSERT_ON_DUPLICATE_KEY,
		DropIfExists: true,
	},
	POSTGRESQL: {
		Quote:        QUOTE_DOUBLE,
		Pagination:   PAGINATE_LIMIT,
		Placeholders: PLACEHOLDER_DOLLAR,
		Upsert:       UPSERT_ON_CONFLICT,
		DropIfExists: true,
	},
	ORACLE: {
		Quote:        QUOTE_ORACLE,
		Pagination:   PAGINATE_ROWNUM,
		Placeholders: PLACEHOLDER_COLON,
		Upsert:       UPSERT_MERGE,
	},
	DEFAULT: {
		Quote:        QUOTE_NONE,
		Pagination:   PAGINATE_LIMIT,
		Placeholders: PLACEHOLDER_QUESTION,
		Upsert:       UPSERT_NONE,
	},
}
