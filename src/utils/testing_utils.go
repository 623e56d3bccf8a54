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

package utils

import (
	"reflect"
	"testing"
)

// CompareStructAndReport fails the test when a persisted struct drifts from its recorded
// shape. Field order, names, types and tags all count since the struct is stored as JSON
// in the meta DB and read back by later runs.
func CompareStructAndReport(t *testing.T, actual, expected reflect.Type, structName string) {
	t.Helper()
	if actual.Kind() != reflect.Struct || expected.Kind() != reflect.Struct {
		t.Fatalf("%s: both types must be structs", structName)
	}
	if actual.NumField() != expected.NumField() {
		t.Errorf("%s: got %d fields, expected %d", structName, actual.NumField(), expected.NumField())
	}
	for i := 0; i < max(actual.NumField(), expected.NumField()); i++ {
		switch {
		case i >= actual.NumField():
			f := expected.Field(i)
			t.Errorf("%s: missing field %s %s", structName, f.Name, f.Type)
		case i >= expected.NumField():
			f := actual.Field(i)
			t.Errorf("%s: unexpected field %s %s", structName, f.Name, f.Type)
		default:
			a, e := actual.Field(i), expected.Field(i)
			if a.Name != e.Name {
				t.Errorf("%s: field %d is %s, expected %s", structName, i, a.Name, e.Name)
			}
			if a.Type != e.Type {
				t.Errorf("%s: field %s has type %s, expected %s", structName, a.Name, a.Type, e.Type)
			}
			if a.Tag != e.Tag {
				t.Errorf("%s: field %s has tag %q, expected %q", structName, a.Name, a.Tag, e.Tag)
			}
		}
	}
}
