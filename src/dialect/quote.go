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
)

func quoteIdentifier(rule QuoteRule, name string) string {
	switch rule {
	case QUOTE_BACKTICK:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case QUOTE_DOUBLE:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	case QUOTE_ORACLE:
		return quoteOracleIdentifier(name)
	default:
		// No escaping rule known for this dialect; identifiers pass through as given.
		return name
	}
}

// Oracle folds unquoted identifiers to upper case. Quote only names that would not
// survive unquoted: leading digit, special characters or a reserved word.
func quoteOracleIdentifier(name string) string {
	upper := strings.ToUpper(name)
	needsQuote := false
	for i, r := range name {
		if i == 0 && r >= '0' && r <= '9' {
			needsQuote = true
			break
		}
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			needsQuote = true
			break
		}
	}
	if needsQuote || oracleReservedWords[upper] {
		return `"` + strings.ReplaceAll(upper, `"`, `""`) + `"`
	}
	return upper
}

var oracleReservedWords = map[string]bool{
	"ACCESS": true, "ADD": true, "ALL": true, "ALTER": true, "AND": true, "ANY": true, "AS": true,
	"ASC": true, "AUDIT": true, "BETWEEN": true, "BY": true, "CHAR": true, "CHECK": true,
	"CLUSTER": true, "COLUMN": true, "COMMENT": true, "COMPRESS": true, "CONNECT": true,
	"CREATE": true, "CURRENT": true, "DATE": true, "DECIMAL": true, "DEFAULT": true, "DELETE": true,
	"DESC": true, "DISTINCT": true, "DROP": true, "ELSE": true, "EXCLUSIVE": true, "EXISTS": true,
	"FILE": true, "FLOAT": true, "FOR": true, "FROM": true, "GRANT": true, "GROUP": true,
	"HAVING": true, "IDENTIFIED": true, "IMMEDIATE": true, "IN": true, "INCREMENT": true,
	"INDEX": true, "INITIAL": true, "INSERT": true, "INTEGER": true, "INTERSECT": true, "INTO": true,
	"IS": true, "LEVEL": true, "LIKE": true, "LOCK": true, "LONG": true, "MAXEXTENTS": true,
	"MINUS": true, "MLSLABEL": true, "MODE": true, "MODIFY": true, "NOAUDIT": true,
	"NOCOMPRESS": true, "NOT": true, "NOWAIT": true, "NULL": true, "NUMBER": true, "OF": true,
	"OFFLINE": true, "ON": true, "ONLINE": true, "OPTION": true, "OR": true, "ORDER": true,
	"PCTFREE": true, "PRIOR": true, "PUBLIC": true, "RAW": true, "RENAME": true, "RESOURCE": true,
	"REVOKE": true, "ROW": true, "ROWID": true, "ROWNUM": true, "ROWS": true, "SELECT": true,
	"SESSION": true, "SET": true, "SHARE": true, "SIZE": true, "SMALLINT": true, "START": true,
	"SUCCESSFUL": true, "SYNONYM": true, "SYSDATE": true, "TABLE": true, "THEN": true, "TO": true,
	"TRIGGER": true, "UID": true, "UNION": true, "UNIQUE": true, "UPDATE": true, "USER": true,
	"VALIDATE": true, "VALUES": true, "VARCHAR": true, "VARCHAR2": true, "VIEW": true,
	"WHENEVER": true, "WHERE": true, "WITH": true,
}

func placeholder(style PlaceholderStyle, index int) string {
	switch style {
	case PLACEHOLDER_DOLLAR:
		return fmt.Sprintf("$%d", index)
	case PLACEHOLDER_COLON:
		return fmt.Sprintf(":%d", index)
	default:
		return "?"
	}
}
