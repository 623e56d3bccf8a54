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

package position

import (
	"fmt"
	"strconv"
	"strings"

	goerrors "github.com/go-errors/errors"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/jackc/pglogrepl"
)

type Kind string

const (
	RANGE     Kind = "RANGE"
	UNBOUNDED Kind = "UNBOUNDED"
	FINISHED  Kind = "FINISHED"
	LOG       Kind = "LOG"
)

const (
	rangePrefix     = "range:"
	unboundedString = "unbounded"
	finishedString  = "finished"
	lsnPrefix       = "lsn:"
	binlogPrefix    = "binlog:"
)

// Position is where a task or a stream currently is. The set of implementations is closed;
// callers switch on the concrete type (or Kind) when persisting and restoring.
type Position interface {
	Kind() Kind
	String() string
	isPosition()
}

// LogPosition is a vendor specific, monotonically increasing change-log token.
type LogPosition interface {
	Position
	// Compare returns -1, 0 or 1. Positions of different vendors are not comparable.
	Compare(other LogPosition) (int, error)
}

//=====================================================================================

// RangePosition bounds an inventory split over one ordered integer column. Both bounds are inclusive.
type RangePosition struct {
	Lower int64
	Upper int64
}

func NewRangePosition(lower, upper int64) RangePosition {
	return RangePosition{Lower: lower, Upper: upper}
}

func (RangePosition) Kind() Kind  { return RANGE }
func (RangePosition) isPosition() {}

func (p RangePosition) String() string {
	return fmt.Sprintf("%s%d,%d", rangePrefix, p.Lower, p.Upper)
}

func (p RangePosition) Covers(key int64) bool {
	return key >= p.Lower && key <= p.Upper
}

// IsExhausted reports whether a scan that has reached current is past the upper bound.
func (p RangePosition) IsExhausted(current int64) bool {
	return current > p.Upper
}

func (p RangePosition) Overlaps(other RangePosition) bool {
	return p.Lower <= other.Upper && other.Lower <= p.Upper
}

//=====================================================================================

// UnboundedPosition is assigned to the single task of a table that cannot be split.
type UnboundedPosition struct{}

func (UnboundedPosition) Kind() Kind     { return UNBOUNDED }
func (UnboundedPosition) String() string { return unboundedString }
func (UnboundedPosition) isPosition()    {}

// FinishedPosition marks an inventory task whose rows have all been applied.
type FinishedPosition struct{}

func (FinishedPosition) Kind() Kind     { return FINISHED }
func (FinishedPosition) String() string { return finishedString }
func (FinishedPosition) isPosition()    {}

//=====================================================================================

// LSNPosition is a PostgreSQL WAL location.
type LSNPosition struct {
	LSN pglogrepl.LSN
}

func NewLSNPosition(lsn pglogrepl.LSN) LSNPosition {
	return LSNPosition{LSN: lsn}
}

func (LSNPosition) Kind() Kind  { return LOG }
func (LSNPosition) isPosition() {}

func (p LSNPosition) String() string {
	return lsnPrefix + p.LSN.String()
}

func (p LSNPosition) Compare(other LogPosition) (int, error) {
	o, ok := other.(LSNPosition)
	if !ok {
		return 0, goerrors.Errorf("cannot compare %s with %s", p, other)
	}
	switch {
	case p.LSN < o.LSN:
		return -1, nil
	case p.LSN > o.LSN:
		return 1, nil
	default:
		return 0, nil
	}
}

// BinlogPosition is a MySQL binlog file and offset.
type BinlogPosition struct {
	mysql.Position
}

func NewBinlogPosition(file string, offset uint32) BinlogPosition {
	return BinlogPosition{Position: mysql.Position{Name: file, Pos: offset}}
}

func (BinlogPosition) Kind() Kind  { return LOG }
func (BinlogPosition) isPosition() {}

func (p BinlogPosition) String() string {
	return fmt.Sprintf("%s%s:%d", binlogPrefix, p.Name, p.Pos)
}

func (p BinlogPosition) Compare(other LogPosition) (int, error) {
	o, ok := other.(BinlogPosition)
	if !ok {
		return 0, goerrors.Errorf("cannot compare %s with %s", p, other)
	}
	return p.Position.Compare(o.Position), nil
}

//=====================================================================================

// Parse is the inverse of String for every Position variant.
func Parse(s string) (Position, error) {
	switch {
	case s == unboundedString:
		return UnboundedPosition{}, nil
	case s == finishedString:
		return FinishedPosition{}, nil
	case strings.HasPrefix(s, rangePrefix):
		bounds := strings.Split(strings.TrimPrefix(s, rangePrefix), ",")
		if len(bounds) != 2 {
			return nil, goerrors.Errorf("invalid range position: %q", s)
		}
		lower, err := strconv.ParseInt(bounds[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lower bound of %q: %w", s, err)
		}
		upper, err := strconv.ParseInt(bounds[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse upper bound of %q: %w", s, err)
		}
		return NewRangePosition(lower, upper), nil
	case strings.HasPrefix(s, lsnPrefix):
		lsn, err := pglogrepl.ParseLSN(strings.TrimPrefix(s, lsnPrefix))
		if err != nil {
			return nil, fmt.Errorf("parse lsn position %q: %w", s, err)
		}
		return NewLSNPosition(lsn), nil
	case strings.HasPrefix(s, binlogPrefix):
		rest := strings.TrimPrefix(s, binlogPrefix)
		// binlog file names never contain ':', the offset is after the last one.
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			return nil, goerrors.Errorf("invalid binlog position: %q", s)
		}
		offset, err := strconv.ParseUint(rest[idx+1:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse binlog offset of %q: %w", s, err)
		}
		return NewBinlogPosition(rest[:idx], uint32(offset)), nil
	default:
		return nil, goerrors.Errorf("unknown position format: %q", s)
	}
}

// ParseLog parses s and fails unless it is a LogPosition.
func ParseLog(s string) (LogPosition, error) {
	pos, err := Parse(s)
	if err != nil {
		return nil, err
	}
	logPos, ok := pos.(LogPosition)
	if !ok {
		return nil, goerrors.Errorf("%q is a %s position, not a log position", s, pos.Kind())
	}
	return logPos, nil
}
