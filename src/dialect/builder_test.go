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

package dialect

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yugabyte/yb-reshard/src/record"
)

var tOrderColumns = []record.Column{
	{Name: "order_id", IsPrimaryKey: true},
	{Name: "user_id"},
	{Name: "status"},
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		dbType string
		name   string
		want   string
	}{
		{MYSQL, "t_order", "`t_order`"},
		{MYSQL, "we`ird", "`we``ird`"},
		{POSTGRESQL, "Order", `"Order"`},
		{ORACLE, "t_order", "T_ORDER"},
		{ORACLE, "order", `"ORDER"`},
		{ORACLE, "1st", `"1ST"`},
		{ORACLE, "has space", `"HAS SPACE"`},
		{"sqlserver", "[dbo]", "[dbo]"},
	}
	for _, tt := range tests {
		t.Run(tt.dbType+"/"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetBuilder(tt.dbType).QuoteIdentifier(tt.name))
		})
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", GetBuilder(MYSQL).Placeholder(3))
	assert.Equal(t, "$3", GetBuilder(POSTGRESQL).Placeholder(3))
	assert.Equal(t, ":3", GetBuilder(ORACLE).Placeholder(3))
}

func TestRegistryAliasesAndDefault(t *testing.T) {
	assert.Equal(t, POSTGRESQL, GetBuilder("postgres").DBType())
	assert.Equal(t, POSTGRESQL, GetBuilder("PG").DBType())
	assert.Equal(t, MYSQL, GetBuilder("mariadb").DBType())
	assert.Equal(t, DEFAULT, GetBuilder("sqlserver").DBType())
	assert.Same(t, GetBuilder(MYSQL), GetBuilder("mysql"))

	assert.True(t, IsSupported("postgres"))
	assert.False(t, IsSupported("sqlserver"))
	assert.False(t, IsSupported("default"))
}

func TestBuildInsertSQLWithUpsert(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO `shop`.`t_order` (`order_id`, `user_id`, `status`) VALUES (?, ?, ?)"+
			" ON DUPLICATE KEY UPDATE `user_id`=VALUES(`user_id`), `status`=VALUES(`status`)",
		GetBuilder(MYSQL).BuildInsertSQL("shop", "t_order", tOrderColumns))

	assert.Equal(t,
		`INSERT INTO "public"."t_order" ("order_id", "user_id", "status") VALUES ($1, $2, $3)`+
			` ON CONFLICT ("order_id") DO UPDATE SET "user_id"=EXCLUDED."user_id", "status"=EXCLUDED."status"`,
		GetBuilder(POSTGRESQL).BuildInsertSQL("public", "t_order", tOrderColumns))

	assert.Equal(t,
		"MERGE INTO SHOP.T_ORDER t USING (SELECT :1 ORDER_ID, :2 USER_ID, :3 STATUS FROM dual) s ON (t.ORDER_ID = s.ORDER_ID)"+
			" WHEN MATCHED THEN UPDATE SET t.USER_ID = s.USER_ID, t.STATUS = s.STATUS"+
			" WHEN NOT MATCHED THEN INSERT (ORDER_ID, USER_ID, STATUS) VALUES (s.ORDER_ID, s.USER_ID, s.STATUS)",
		GetBuilder(ORACLE).BuildInsertSQL("shop", "t_order", tOrderColumns))
}

func TestBuildMergeSQLKeyOnlyAndKeylessTables(t *testing.T) {
	oracle := GetBuilder(ORACLE)
	cols := []record.Column{{Name: "a", IsPrimaryKey: true}, {Name: "b", IsPrimaryKey: true}}
	assert.Equal(t,
		"MERGE INTO SHOP.LINK t USING (SELECT :1 A, :2 B FROM dual) s ON (t.A = s.A AND t.B = s.B)"+
			" WHEN NOT MATCHED THEN INSERT (A, B) VALUES (s.A, s.B)",
		oracle.BuildInsertSQL("shop", "link", cols))

	noKey := []record.Column{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, "INSERT INTO SHOP.HEAP (A, B) VALUES (:1, :2)", oracle.BuildInsertSQL("shop", "heap", noKey))
}

func TestEveryTargetDialectCanUpsert(t *testing.T) {
	for _, dbType := range []string{MYSQL, POSTGRESQL, ORACLE} {
		assert.True(t, IsSupported(dbType), dbType)
	}
	_, known := Lookup(DEFAULT)
	assert.True(t, known)
	assert.False(t, IsSupported(DEFAULT))
}

func TestBuildInsertSQLKeyOnlyTable(t *testing.T) {
	cols := []record.Column{{Name: "a", IsPrimaryKey: true}, {Name: "b", IsPrimaryKey: true}}
	assert.Equal(t,
		`INSERT INTO "public"."link" ("a", "b") VALUES ($1, $2) ON CONFLICT ("a", "b") DO NOTHING`,
		GetBuilder(POSTGRESQL).BuildInsertSQL("public", "link", cols))

	noKey := []record.Column{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, `INSERT INTO "public"."heap" ("a", "b") VALUES ($1, $2)`,
		GetBuilder(POSTGRESQL).BuildInsertSQL("public", "heap", noKey))
}

var updateSQLRegexp = regexp.MustCompile(`^UPDATE \S+ SET (.*) WHERE (.*)$`)

func clauseColumns(clause, sep string) []string {
	return lo.Map(strings.Split(clause, sep), func(part string, _ int) string {
		return strings.TrimSpace(strings.SplitN(part, "=", 2)[0])
	})
}

// SET must contain exactly the updated columns and WHERE exactly the key columns.
func TestBuildUpdateSQLClauseColumns(t *testing.T) {
	conditions := []record.Column{{Name: "order_id", IsPrimaryKey: true}}
	updateSets := [][]record.Column{
		{{Name: "status", IsUpdated: true}},
		{{Name: "user_id", IsUpdated: true}, {Name: "status", IsUpdated: true}},
		{{Name: "order_id", IsPrimaryKey: true, IsUpdated: true}, {Name: "status", IsUpdated: true}},
	}
	for _, dbType := range []string{MYSQL, POSTGRESQL, ORACLE, DEFAULT} {
		b := GetBuilder(dbType)
		for _, updated := range updateSets {
			stmt := b.BuildUpdateSQL("shop", "t_order", conditions, updated)
			m := updateSQLRegexp.FindStringSubmatch(stmt)
			require.NotNil(t, m, stmt)

			wantSet := lo.Map(updated, func(c record.Column, _ int) string { return b.QuoteIdentifier(c.Name) })
			assert.Equal(t, wantSet, clauseColumns(m[1], ","), stmt)
			assert.Equal(t, []string{b.QuoteIdentifier("order_id")}, clauseColumns(m[2], " AND "), stmt)
		}
	}
}

func TestBuildUpdateSQLPlaceholderNumbering(t *testing.T) {
	b := GetBuilder(POSTGRESQL)
	conditions := []record.Column{{Name: "a", IsPrimaryKey: true}, {Name: "b", IsPrimaryKey: true}}

	assert.Equal(t, `UPDATE "public"."t" SET "c" = $1 WHERE "a" = $2 AND "b" = $3`,
		b.BuildUpdateSQL("public", "t", conditions, []record.Column{{Name: "c"}}))
	assert.Equal(t, `UPDATE "public"."t" SET "c" = $1, "d" = $2 WHERE "a" = $3 AND "b" = $4`,
		b.BuildUpdateSQL("public", "t", conditions, []record.Column{{Name: "c"}, {Name: "d"}}))
}

func TestBuildDeleteAndUtilitySQL(t *testing.T) {
	pk := []record.Column{{Name: "order_id", IsPrimaryKey: true}}

	mysql := GetBuilder(MYSQL)
	assert.Equal(t, "DELETE FROM `shop`.`t_order` WHERE `order_id` = ?", mysql.BuildDeleteSQL("shop", "t_order", pk))
	assert.Equal(t, "DELETE FROM `shop`.`t_order`", mysql.BuildDeleteSQL("shop", "t_order", nil))
	assert.Equal(t, "SELECT COUNT(*) FROM `shop`.`t_order`", mysql.BuildCountSQL("shop", "t_order"))
	assert.Equal(t, "SELECT * FROM `shop`.`t_order` LIMIT 1", mysql.BuildCheckEmptySQL("shop", "t_order"))
	assert.Equal(t, "DROP TABLE IF EXISTS `shop`.`t_order`", mysql.BuildDropSQL("shop", "t_order"))

	oracle := GetBuilder(ORACLE)
	assert.Equal(t, "SELECT * FROM SHOP.T_ORDER WHERE ROWNUM<=1", oracle.BuildCheckEmptySQL("shop", "t_order"))
	assert.Equal(t, "DROP TABLE SHOP.T_ORDER", oracle.BuildDropSQL("shop", "t_order"))

	assert.Equal(t, "SELECT COUNT(*) FROM t_order", GetBuilder(DEFAULT).BuildCountSQL("", "t_order"))
}

func TestBuildDivisibleInventoryDumpSQL(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM `shop`.`t_order` WHERE `order_id` >= ? AND `order_id` <= ? ORDER BY `order_id` ASC LIMIT ?",
		GetBuilder(MYSQL).BuildDivisibleInventoryDumpSQL("shop", "t_order", "order_id", true))
	assert.Equal(t,
		`SELECT * FROM "public"."t_order" WHERE "order_id" > $1 AND "order_id" <= $2 ORDER BY "order_id" ASC LIMIT $3`,
		GetBuilder(POSTGRESQL).BuildDivisibleInventoryDumpSQL("public", "t_order", "order_id", false))
}

func TestRownumDialectWrapsChunkedQuery(t *testing.T) {
	b := GetBuilder(ORACLE)
	for _, first := range []bool{true, false} {
		chunked := b.BuildChunkedQuerySQL("shop", "t_order", "order_id", first)
		dump := b.BuildDivisibleInventoryDumpSQL("shop", "t_order", "order_id", first)
		assert.Equal(t, fmt.Sprintf("SELECT * FROM (%s) WHERE ROWNUM<=:3", chunked), dump)
		assert.NotContains(t, dump, "LIMIT")
	}
	assert.Equal(t,
		"SELECT * FROM SHOP.T_ORDER WHERE ORDER_ID >= :1 AND ORDER_ID <= :2 ORDER BY ORDER_ID ASC",
		b.BuildChunkedQuerySQL("shop", "t_order", "order_id", true))
}

func TestBuildSplitAndMinMaxSQL(t *testing.T) {
	assert.Equal(t,
		`SELECT MAX("order_id") FROM (SELECT "order_id" FROM "public"."t_order" WHERE "order_id" >= $1 ORDER BY "order_id" ASC LIMIT $2) t`,
		GetBuilder(POSTGRESQL).BuildSplitByPrimaryKeyRangeSQL("public", "t_order", "order_id"))
	assert.Equal(t,
		"SELECT MAX(ORDER_ID) FROM (SELECT ORDER_ID FROM SHOP.T_ORDER WHERE ORDER_ID >= :1 ORDER BY ORDER_ID ASC) WHERE ROWNUM<=:2",
		GetBuilder(ORACLE).BuildSplitByPrimaryKeyRangeSQL("shop", "t_order", "order_id"))
	assert.Equal(t, "SELECT MIN(`order_id`), MAX(`order_id`) FROM `shop`.`t_order`",
		GetBuilder(MYSQL).BuildUniqueKeyMinMaxSQL("shop", "t_order", "order_id"))
}

func TestBuildIndivisibleInventoryDumpSQL(t *testing.T) {
	b := GetBuilder(MYSQL)
	assert.Equal(t, "SELECT * FROM `shop`.`logs`", b.BuildIndivisibleInventoryDumpSQL("shop", "logs", ""))
	assert.Equal(t, "SELECT * FROM `shop`.`logs` ORDER BY `code` ASC", b.BuildIndivisibleInventoryDumpSQL("shop", "logs", "code"))
}

func TestStatementCacheConcurrentAccess(t *testing.T) {
	b := NewSQLBuilder(POSTGRESQL, capabilitiesByDBType[POSTGRESQL]).(*builder)
	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.BuildInsertSQL("public", "t_order", tOrderColumns)
		}(i)
	}
	wg.Wait()
	assert.Len(t, lo.Uniq(results), 1)
	assert.Equal(t, 1, b.cache.Len())

	b.BuildDeleteSQL("public", "t_order", tOrderColumns[:1])
	b.BuildDeleteSQL("public", "t_order", tOrderColumns[:1])
	assert.Equal(t, 2, b.cache.Len())
}
