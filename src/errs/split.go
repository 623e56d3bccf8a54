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

import (
	"fmt"
)

const (
	// steps
	SPLIT_STEP_LOAD_METADATA = "load_metadata"
	SPLIT_STEP_PROBE_MIN_MAX = "probe_min_max"
	SPLIT_STEP_PROBE_RANGE   = "probe_range"
)

// SplitProbeError is fatal to splitting one table. Other tables continue independently.
type SplitProbeError struct {
	tableName string
	step      string
	startKey  *int64
	err       error
}

func (e *SplitProbeError) Error() string {
	if e.startKey != nil {
		return fmt.Sprintf("split table %s: step=%s: start key=%d: %s", e.tableName, e.step, *e.startKey, e.err.Error())
	}
	return fmt.Sprintf("split table %s: step=%s: %s", e.tableName, e.step, e.err.Error())
}

func (e *SplitProbeError) TableName() string {
	return e.tableName
}

func (e *SplitProbeError) Step() string {
	return e.step
}

func (e *SplitProbeError) Unwrap() error {
	return e.err
}

func NewSplitProbeError(tableName, step string, err error) *SplitProbeError {
	return &SplitProbeError{tableName: tableName, step: step, err: err}
}

func NewSplitRangeProbeError(tableName string, startKey int64, err error) *SplitProbeError {
	return &SplitProbeError{tableName: tableName, step: SPLIT_STEP_PROBE_RANGE, startKey: &startKey, err: err}
}
