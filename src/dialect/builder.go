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
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/yugabyte/yb-reshard/src/record"
)

// builder is the single SQLBuilder implementation; dialects differ only in Capabilities.
type builder struct {
	dbType string
	caps   Capabilities
	cache  *StatementCache
}

func NewSQLBuilder(dbType string, caps Capabilities) SQLBuilder {
	return &builder{dbType: dbType, caps: caps, cache: NewStatementCache()}
}

func (b *builder) DBType() string {
	return b.dbType
}

func (b *builder) Capabilities() Capabilities {
	return b.caps
}

func (b *builder) QuoteIdentifier(name string) string {
	return quoteIdentifier(b.caps.Quote, name)
}

func (b *builder) QualifyTable(schema, table string) string {
	if schema == "" {
		return b.QuoteIdentifier(table)
	}
	return b.QuoteIdentifier(schema) + "." + b.QuoteIdentifier(table)
}

func (b *builder) Placeholder(index int) string {
	return placeholder(b.caps.Placeholders, index)
}

func (b *builder) quoteColumns(columns []record.Column) []string {
	return lo.Map(columns, func(c record.Column, _ int) string { return b.QuoteIdentifier(c.Name) })
}

func dmlCacheKey(schema, table string, columns ...[]record.Column) string {
	var sb strings.Builder
	sb.WriteString(schema + "." + table)
	for _, cols := range columns {
		sb.WriteString("/")
		sb.WriteString(strings.Join(lo.Map(cols, func(c record.Column, _ int) string { return c.Name }), ","))
	}
	return sb.String()
}

//=====================================================================================

const insertTemplate = "INSERT INTO %s (%s) VALUES (%s)"

func (b *builder) BuildInsertSQL(schema, table string, columns []record.Column) string {
	return b.cache.GetOrCompute(INSERT_STMT, dmlCacheKey(schema, table, columns), func() any {
		if b.caps.Upsert == UPSERT_MERGE && lo.ContainsBy(columns, func(c record.Column) bool { return c.IsPrimaryKey }) {
			return b.buildMergeSQL(schema, table, columns)
		}
		names := b.quoteColumns(columns)
		values := make([]string, len(columns))
		for i := range columns {
			values[i] = b.Placeholder(i + 1)
		}
		stmt := fmt.Sprintf(insertTemplate, b.QualifyTable(schema, table), strings.Join(names, ", "), strings.Join(values, ", "))
		return stmt + b.upsertSuffix(columns)
	}).(string)
}

// upsertSuffix makes replaying the same insert idempotent where the dialect allows it.
func (b *builder) upsertSuffix(columns []record.Column) string {
	keys := lo.Filter(columns, func(c record.Column, _ int) bool { return c.IsPrimaryKey })
	nonKeys := lo.Filter(columns, func(c record.Column, _ int) bool { return !c.IsPrimaryKey })
	if len(keys) == 0 {
		return ""
	}
	switch b.caps.Upsert {
	case UPSERT_ON_DUPLICATE_KEY:
		assign := nonKeys
		if len(assign) == 0 {
			assign = keys
		}
		sets := lo.Map(assign, func(c record.Column, _ int) string {
			q := b.QuoteIdentifier(c.Name)
			return fmt.Sprintf("%s=VALUES(%s)", q, q)
		})
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	case UPSERT_ON_CONFLICT:
		conflict := strings.Join(b.quoteColumns(keys), ", ")
		if len(nonKeys) == 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflict)
		}
		sets := lo.Map(nonKeys, func(c record.Column, _ int) string {
			q := b.QuoteIdentifier(c.Name)
			return fmt.Sprintf("%s=EXCLUDED.%s", q, q)
		})
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflict, strings.Join(sets, ", "))
	default:
		return ""
	}
}

// buildMergeSQL binds the row as a one-row source in column order, so the arguments are
// the same as for a plain insert.
func (b *builder) buildMergeSQL(schema, table string, columns []record.Column) string {
	keys := lo.Filter(columns, func(c record.Column, _ int) bool { return c.IsPrimaryKey })
	nonKeys := lo.Filter(columns, func(c record.Column, _ int) bool { return !c.IsPrimaryKey })
	names := b.quoteColumns(columns)
	selected := make([]string, len(columns))
	for i, name := range names {
		selected[i] = b.Placeholder(i+1) + " " + name
	}
	on := lo.Map(b.quoteColumns(keys), func(q string, _ int) string { return fmt.Sprintf("t.%s = s.%s", q, q) })
	sourced := lo.Map(names, func(q string, _ int) string { return "s." + q })

	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s t USING (SELECT %s FROM dual) s ON (%s)",
		b.QualifyTable(schema, table), strings.Join(selected, ", "), strings.Join(on, " AND "))
	if len(nonKeys) > 0 {
		sets := lo.Map(b.quoteColumns(nonKeys), func(q string, _ int) string { return fmt.Sprintf("t.%s = s.%s", q, q) })
		sb.WriteString(" WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ", "))
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(names, ", "), strings.Join(sourced, ", "))
	return sb.String()
}

type updateSkeleton struct {
	prefix       string
	whereColumns []string
}

// BuildUpdateSQL places SET placeholders first (1..n) and WHERE placeholders after them.
// The SET list depends on which columns changed in the row, so only the skeleton is cached.
func (b *builder) BuildUpdateSQL(schema, table string, conditionColumns, updatedColumns []record.Column) string {
	skeleton := b.cache.GetOrCompute(UPDATE_STMT, dmlCacheKey(schema, table, conditionColumns), func() any {
		return &updateSkeleton{
			prefix:       "UPDATE " + b.QualifyTable(schema, table) + " SET ",
			whereColumns: b.quoteColumns(conditionColumns),
		}
	}).(*updateSkeleton)

	var sb strings.Builder
	sb.WriteString(skeleton.prefix)
	for i, c := range updatedColumns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.QuoteIdentifier(c.Name) + " = " + b.Placeholder(i+1))
	}
	sb.WriteString(" WHERE ")
	for i, col := range skeleton.whereColumns {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(col + " = " + b.Placeholder(len(updatedColumns)+i+1))
	}
	return sb.String()
}

// BuildDeleteSQL without condition columns deletes every row of the table.
func (b *builder) BuildDeleteSQL(schema, table string, conditionColumns []record.Column) string {
	return b.cache.GetOrCompute(DELETE_STMT, dmlCacheKey(schema, table, conditionColumns), func() any {
		if len(conditionColumns) == 0 {
			return "DELETE FROM " + b.QualifyTable(schema, table)
		}
		where := make([]string, len(conditionColumns))
		for i, c := range conditionColumns {
			where[i] = b.QuoteIdentifier(c.Name) + " = " + b.Placeholder(i+1)
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s", b.QualifyTable(schema, table), strings.Join(where, " AND "))
	}).(string)
}

func (b *builder) BuildCountSQL(schema, table string) string {
	return b.cache.GetOrCompute(COUNT_STMT, schema+"."+table, func() any {
		return "SELECT COUNT(*) FROM " + b.QualifyTable(schema, table)
	}).(string)
}

func (b *builder) BuildCheckEmptySQL(schema, table string) string {
	return b.cache.GetOrCompute(CHECK_EMPTY_STMT, schema+"."+table, func() any {
		if b.caps.Pagination == PAGINATE_ROWNUM {
			return "SELECT * FROM " + b.QualifyTable(schema, table) + " WHERE ROWNUM<=1"
		}
		return "SELECT * FROM " + b.QualifyTable(schema, table) + " LIMIT 1"
	}).(string)
}

func (b *builder) BuildDropSQL(schema, table string) string {
	return b.cache.GetOrCompute(DROP_STMT, schema+"."+table, func() any {
		if b.caps.DropIfExists {
			return "DROP TABLE IF EXISTS " + b.QualifyTable(schema, table)
		}
		return "DROP TABLE " + b.QualifyTable(schema, table)
	}).(string)
}

//=====================================================================================

func (b *builder) BuildChunkedQuerySQL(schema, table, uniqueKey string, firstQuery bool) string {
	key := b.QuoteIdentifier(uniqueKey)
	lowerOp := ">"
	if firstQuery {
		lowerOp = ">="
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE %s %s %s AND %s <= %s ORDER BY %s ASC",
		b.QualifyTable(schema, table), key, lowerOp, b.Placeholder(1), key, b.Placeholder(2), key)
}

func (b *builder) BuildDivisibleInventoryDumpSQL(schema, table, uniqueKey string, firstQuery bool) string {
	chunked := b.BuildChunkedQuerySQL(schema, table, uniqueKey, firstQuery)
	return b.limit(chunked, b.Placeholder(3))
}

func (b *builder) BuildIndivisibleInventoryDumpSQL(schema, table, uniqueKey string) string {
	stmt := "SELECT * FROM " + b.QualifyTable(schema, table)
	if uniqueKey != "" {
		stmt += " ORDER BY " + b.QuoteIdentifier(uniqueKey) + " ASC"
	}
	return stmt
}

func (b *builder) BuildSplitByPrimaryKeyRangeSQL(schema, table, primaryKey string) string {
	key := b.QuoteIdentifier(primaryKey)
	inner := fmt.Sprintf("SELECT %s FROM %s WHERE %s >= %s ORDER BY %s ASC",
		key, b.QualifyTable(schema, table), key, b.Placeholder(1), key)
	if b.caps.Pagination == PAGINATE_ROWNUM {
		return fmt.Sprintf("SELECT MAX(%s) FROM (%s) WHERE ROWNUM<=%s", key, inner, b.Placeholder(2))
	}
	return fmt.Sprintf("SELECT MAX(%s) FROM (%s LIMIT %s) t", key, inner, b.Placeholder(2))
}

func (b *builder) BuildUniqueKeyMinMaxSQL(schema, table, uniqueKey string) string {
	key := b.QuoteIdentifier(uniqueKey)
	return fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", key, key, b.QualifyTable(schema, table))
}

// limit caps the rows returned by an ordered query. ROWNUM is assigned before ORDER BY
// is applied, so the ordered query has to be wrapped.
func (b *builder) limit(query string, limitPlaceholder string) string {
	if b.caps.Pagination == PAGINATE_ROWNUM {
		return fmt.Sprintf("SELECT * FROM (%s) WHERE ROWNUM<=%s", query, limitPlaceholder)
	}
	return query + " LIMIT " + limitPlaceholder
}
