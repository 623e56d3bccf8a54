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

package errs

import "fmt"

// ConfigError is raised at job start and is never retried.
type ConfigError struct {
	key string
	err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.key, e.err.Error())
}

func (e *ConfigError) Key() string {
	return e.key
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{key: key, err: err}
}
