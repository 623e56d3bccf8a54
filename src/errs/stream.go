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
	"errors"
	"fmt"

	"github.com/yugabyte/yb-reshard/src/position"
)

var (
	ErrStreamClosed        = errors.New("stream is closed")
	ErrPositionNotAdvanced = errors.New("position does not advance past the last recorded position")
	ErrTaskFinished        = errors.New("task already finished")
)

// StreamInterruptedError is transient: the caller reconnects and resumes from LastPosition.
type StreamInterruptedError struct {
	LastPosition position.LogPosition
	err          error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted, last known position = %s: %s", positionString(e.LastPosition), e.err.Error())
}

func (e *StreamInterruptedError) Unwrap() error {
	return e.err
}

func NewStreamInterruptedError(lastPosition position.LogPosition, err error) *StreamInterruptedError {
	return &StreamInterruptedError{LastPosition: lastPosition, err: err}
}

// DataShapeError is fatal for the stream: a row event does not match the known table shape.
type DataShapeError struct {
	tableName string
	position  position.Position
	reason    string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("data shape mismatch for table %s at position %s: %s", e.tableName, positionString(e.position), e.reason)
}

func (e *DataShapeError) TableName() string {
	return e.tableName
}

func (e *DataShapeError) Position() position.Position {
	return e.position
}

func NewDataShapeError(tableName string, pos position.Position, reason string) *DataShapeError {
	return &DataShapeError{tableName: tableName, position: pos, reason: reason}
}

// UnsupportedOperationError is raised for a real data change that has no defined conversion.
// Dropping it silently would lose data, so it is fatal for the stream.
type UnsupportedOperationError struct {
	tableName string
	operation string
	position  position.Position
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %q on table %s at position %s", e.operation, e.tableName, positionString(e.position))
}

func (e *UnsupportedOperationError) TableName() string {
	return e.tableName
}

func NewUnsupportedOperationError(tableName, operation string, pos position.Position) *UnsupportedOperationError {
	return &UnsupportedOperationError{tableName: tableName, operation: operation, position: pos}
}

func positionString(pos position.Position) string {
	if pos == nil {
		return "<none>"
	}
	return pos.String()
}
