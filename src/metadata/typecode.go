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

package metadata

import "strings"

// TypeCode is the type family of a column, independent of the source dialect.
type TypeCode int

const (
	UNKNOWN TypeCode = iota
	INTEGER
	DECIMAL
	FLOAT
	STRING
	TEMPORAL
	BINARY
	BOOLEAN
	OTHER
)

var typeCodeNames = map[TypeCode]string{
	UNKNOWN:  "UNKNOWN",
	INTEGER:  "INTEGER",
	DECIMAL:  "DECIMAL",
	FLOAT:    "FLOAT",
	STRING:   "STRING",
	TEMPORAL: "TEMPORAL",
	BINARY:   "BINARY",
	BOOLEAN:  "BOOLEAN",
	OTHER:    "OTHER",
}

func (c TypeCode) String() string {
	return typeCodeNames[c]
}

var dataTypeToTypeCode = map[string]TypeCode{
	"tinyint": INTEGER, "smallint": INTEGER, "mediumint": INTEGER, "int": INTEGER, "integer": INTEGER,
	"bigint": INTEGER, "int2": INTEGER, "int4": INTEGER, "int8": INTEGER,
	"serial": INTEGER, "smallserial": INTEGER, "bigserial": INTEGER,

	"decimal": DECIMAL, "numeric": DECIMAL, "number": DECIMAL, "money": DECIMAL,

	"float": FLOAT, "double": FLOAT, "real": FLOAT, "double precision": FLOAT,
	"float4": FLOAT, "float8": FLOAT, "binary_float": FLOAT, "binary_double": FLOAT,

	"char": STRING, "varchar": STRING, "character": STRING, "character varying": STRING,
	"text": STRING, "tinytext": STRING, "mediumtext": STRING, "longtext": STRING,
	"varchar2": STRING, "nvarchar2": STRING, "nchar": STRING, "clob": STRING, "nclob": STRING,
	"enum": STRING, "set": STRING, "json": STRING, "jsonb": STRING, "uuid": STRING, "bpchar": STRING,

	"date": TEMPORAL, "time": TEMPORAL, "datetime": TEMPORAL, "timestamp": TEMPORAL, "year": TEMPORAL,
	"timestamptz": TEMPORAL, "timetz": TEMPORAL, "interval": TEMPORAL,

	"binary": BINARY, "varbinary": BINARY, "blob": BINARY, "tinyblob": BINARY, "mediumblob": BINARY,
	"longblob": BINARY, "bytea": BINARY, "raw": BINARY, "long raw": BINARY,

	"bool": BOOLEAN, "boolean": BOOLEAN, "bit": BOOLEAN,
}

// TypeCodeOf maps a catalog data type name (any dialect, any case, with or without
// length/precision modifiers) to its TypeCode.
func TypeCodeOf(dataType string) TypeCode {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if t == "" {
		return UNKNOWN
	}
	if idx := strings.Index(t, "("); idx >= 0 {
		t = strings.TrimSpace(t[:idx])
	}
	t = strings.TrimSuffix(t, " unsigned")
	if code, ok := dataTypeToTypeCode[t]; ok {
		return code
	}
	// timestamp with time zone, time without time zone, interval year to month ...
	for _, prefix := range []string{"timestamp", "time", "interval"} {
		if strings.HasPrefix(t, prefix) {
			return TEMPORAL
		}
	}
	return OTHER
}
