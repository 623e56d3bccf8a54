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

package tgtdb

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
	"github.com/yugabyte/yb-reshard/src/utils"
)

const (
	QUEUE_DIR_NAME               = "queue"
	QUEUE_SEGMENT_FILE_NAME      = "segment"
	QUEUE_SEGMENT_FILE_EXTENSION = "ndjson"
	DEFAULT_MAX_SEGMENT_SIZE     = 100 * 1024 * 1024
)

var EOFMarker = `\.`

// QueuedStatement is the ndjson line of a segment.
type QueuedStatement struct {
	Vsn      int64                `json:"vsn"` // sequence number across all segments of a queue
	Op       record.OperationType `json:"op,omitempty"`
	Table    string               `json:"table,omitempty"`
	SQL      string               `json:"sql,omitempty"`
	Args     []any                `json:"args,omitempty"`
	Position string               `json:"position"`
}

func GetQueueDirPath(exportDir string) string {
	return filepath.Join(exportDir, "data", QUEUE_DIR_NAME)
}

func segmentFilePath(queueDir string, segmentNum int64) string {
	return filepath.Join(queueDir, fmt.Sprintf("%s.%d.%s", QUEUE_SEGMENT_FILE_NAME, segmentNum, QUEUE_SEGMENT_FILE_EXTENSION))
}

/*
SegmentWriter is a TargetWriter that appends statements to numbered ndjson segment files
under <exportDir>/data/queue. A batch is fsynced before Write returns. Once a segment
grows past maxSegmentSize it is closed with the EOF marker and the next one is opened.
A restarted writer continues after the highest existing segment.
*/
type SegmentWriter struct {
	mu             sync.Mutex
	queueDir       string
	maxSegmentSize int64

	segmentNum int64
	file       *os.File
	w          *bufio.Writer
	size       int64
	vsn        int64
}

func NewSegmentWriter(exportDir string, maxSegmentSize int64) (*SegmentWriter, error) {
	if maxSegmentSize <= 0 {
		maxSegmentSize = DEFAULT_MAX_SEGMENT_SIZE
	}
	queue := NewSegmentQueue(exportDir)
	err := os.MkdirAll(queue.QueueDirPath, 0755)
	if err != nil {
		return nil, fmt.Errorf("create queue dir %s: %w", queue.QueueDirPath, err)
	}
	segments, err := queue.GetSegments()
	if err != nil {
		return nil, err
	}
	sw := &SegmentWriter{queueDir: queue.QueueDirPath, maxSegmentSize: maxSegmentSize}
	if len(segments) > 0 {
		sw.segmentNum = segments[len(segments)-1].SegmentNum + 1
		err = sealSegment(segments[len(segments)-1].FilePath)
		if err != nil {
			return nil, err
		}
		lastVsn, found, err := lastQueuedVsn(segments)
		if err != nil {
			return nil, err
		}
		if found {
			sw.vsn = lastVsn + 1
		}
	}
	err = sw.openSegment()
	if err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *SegmentWriter) openSegment() error {
	path := segmentFilePath(sw.queueDir, sw.segmentNum)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("create segment file %s: %w", path, err)
	}
	sw.file = file
	sw.w = bufio.NewWriter(file)
	sw.size = 0
	log.Infof("opened queue segment %s", path)
	return nil
}

func (sw *SegmentWriter) Write(ctx context.Context, stmts []Statement) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.file == nil {
		return fmt.Errorf("segment writer is closed")
	}
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := json.Marshal(QueuedStatement{
			Vsn:      sw.vsn,
			Op:       stmt.Op,
			Table:    stmt.Table,
			SQL:      stmt.SQL,
			Args:     lo.Map(stmt.Args, func(arg any, _ int) any { return encodeArg(arg) }),
			Position: stmt.Position.String(),
		})
		if err != nil {
			return fmt.Errorf("marshal %s: %w", stmt, err)
		}
		n, err := sw.w.Write(append(line, '\n'))
		if err != nil {
			return fmt.Errorf("write segment %d: %w", sw.segmentNum, err)
		}
		sw.size += int64(n)
		sw.vsn++
	}
	err := sw.sync()
	if err != nil {
		return err
	}
	if sw.size >= sw.maxSegmentSize {
		return sw.rotate()
	}
	return nil
}

func (sw *SegmentWriter) sync() error {
	err := sw.w.Flush()
	if err != nil {
		return fmt.Errorf("flush segment %d: %w", sw.segmentNum, err)
	}
	err = sw.file.Sync()
	if err != nil {
		return fmt.Errorf("sync segment %d: %w", sw.segmentNum, err)
	}
	return nil
}

func (sw *SegmentWriter) rotate() error {
	err := sw.closeSegment()
	if err != nil {
		return err
	}
	sw.segmentNum++
	return sw.openSegment()
}

func (sw *SegmentWriter) closeSegment() error {
	_, err := sw.w.WriteString(EOFMarker + "\n")
	if err != nil {
		return fmt.Errorf("write EOF marker to segment %d: %w", sw.segmentNum, err)
	}
	err = sw.sync()
	if err != nil {
		return err
	}
	err = sw.file.Close()
	if err != nil {
		return fmt.Errorf("close segment %d: %w", sw.segmentNum, err)
	}
	sw.file = nil
	return nil
}

// Close terminates the current segment with the EOF marker.
func (sw *SegmentWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.file == nil {
		return nil
	}
	return sw.closeSegment()
}

// sealSegment terminates a segment left open by a writer that did not exit cleanly. A
// partially written last line is cut off first.
func sealSegment(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read segment %s: %w", path, err)
	}
	content := string(raw)
	if strings.HasSuffix(content, EOFMarker+"\n") {
		return nil
	}
	keep := strings.LastIndex(content, "\n") + 1
	file, err := os.OpenFile(path, os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", path, err)
	}
	defer file.Close()
	err = file.Truncate(int64(keep))
	if err != nil {
		return fmt.Errorf("truncate segment %s: %w", path, err)
	}
	_, err = file.WriteAt([]byte(EOFMarker+"\n"), int64(keep))
	if err != nil {
		return fmt.Errorf("seal segment %s: %w", path, err)
	}
	log.Warnf("sealed segment %s left open by an earlier run (%d bytes dropped)", path, len(content)-keep)
	return file.Sync()
}

// lastQueuedVsn scans sealed segments from the newest backwards for the last statement.
func lastQueuedVsn(segments []*Segment) (int64, bool, error) {
	for i := len(segments) - 1; i >= 0; i-- {
		raw, err := os.ReadFile(segments[i].FilePath)
		if err != nil {
			return 0, false, fmt.Errorf("read segment %s: %w", segments[i].FilePath, err)
		}
		lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
		for j := len(lines) - 1; j >= 0; j-- {
			if lines[j] == "" || lines[j] == EOFMarker {
				continue
			}
			var stmt QueuedStatement
			err = json.Unmarshal([]byte(lines[j]), &stmt)
			if err != nil {
				return 0, false, fmt.Errorf("segment %s: unmarshal %q: %w", segments[i].FilePath, lines[j], err)
			}
			return stmt.Vsn, true, nil
		}
	}
	return 0, false, nil
}

// =====================================================================================

type SegmentQueue struct {
	QueueDirPath string
}

func NewSegmentQueue(exportDir string) *SegmentQueue {
	return &SegmentQueue{QueueDirPath: GetQueueDirPath(exportDir)}
}

// GetSegments returns the segments of the queue, in order.
func (q *SegmentQueue) GetSegments() ([]*Segment, error) {
	reSegmentName := regexp.MustCompile(fmt.Sprintf(`^%s\.[0-9]+\.%s$`, QUEUE_SEGMENT_FILE_NAME, QUEUE_SEGMENT_FILE_EXTENSION))
	dirEntries, err := os.ReadDir(q.QueueDirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dir %s: %w", q.QueueDirPath, err)
	}
	var segments []*Segment
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !reSegmentName.MatchString(dirEntry.Name()) {
			continue
		}
		var segmentNum int64
		_, err := fmt.Sscanf(dirEntry.Name(), QUEUE_SEGMENT_FILE_NAME+".%d."+QUEUE_SEGMENT_FILE_EXTENSION, &segmentNum)
		if err != nil {
			return nil, fmt.Errorf("failed to parse segment number from %s: %w", dirEntry.Name(), err)
		}
		segments = append(segments, &Segment{FilePath: filepath.Join(q.QueueDirPath, dirEntry.Name()), SegmentNum: segmentNum})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].SegmentNum < segments[j].SegmentNum
	})
	return segments, nil
}

type Segment struct {
	FilePath   string
	SegmentNum int64 // 0-based
	processed  bool
	file       *os.File
	reader     *bufio.Reader
}

// Open prepares the segment for reading. A segment still being written is tailed: reads
// block until the writer appends more or closes it with the EOF marker.
func (s *Segment) Open(ctx context.Context) error {
	file, err := os.Open(s.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open segment file %s: %w", s.FilePath, err)
	}
	s.file = file
	s.reader = bufio.NewReader(utils.NewTailReader(ctx, file))
	return nil
}

func (s *Segment) Close() error {
	return s.file.Close()
}

// NextStatement returns the next statement, or nil once the EOF marker is read.
func (s *Segment) NextStatement() (*QueuedStatement, error) {
	if s.processed {
		return nil, nil
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read line from %s: %w", s.FilePath, err)
	}
	line = strings.TrimSuffix(line, "\n")
	if line == EOFMarker {
		log.Infof("reached EOF marker in segment %s", s.FilePath)
		s.processed = true
		return nil, nil
	}
	var stmt QueuedStatement
	decoder := json.NewDecoder(strings.NewReader(line))
	decoder.UseNumber()
	err = decoder.Decode(&stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal statement %q: %w", line, err)
	}
	for i, arg := range stmt.Args {
		stmt.Args[i], err = decodeArg(arg)
		if err != nil {
			return nil, fmt.Errorf("statement %d arg %d: %w", stmt.Vsn, i, err)
		}
	}
	return &stmt, nil
}

const BYTES_ARG_KEY = "$bytes"

// encodeArg keeps a statement argument's type through JSON. Drivers hand text columns
// over as []byte, which would otherwise come back as base64 text.
func encodeArg(arg any) any {
	b, ok := arg.([]byte)
	if !ok {
		return arg
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return map[string]string{BYTES_ARG_KEY: base64.StdEncoding.EncodeToString(b)}
}

func decodeArg(arg any) (any, error) {
	switch v := arg.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case map[string]any:
		encoded, ok := v[BYTES_ARG_KEY].(string)
		if !ok || len(v) != 1 {
			return nil, fmt.Errorf("unexpected object argument %v", v)
		}
		return base64.StdEncoding.DecodeString(encoded)
	default:
		return arg, nil
	}
}

func (s *Segment) IsProcessed() bool {
	return s.processed
}

// ParsedPosition decodes the position of a queued statement.
func (qs *QueuedStatement) ParsedPosition() (position.Position, error) {
	return position.Parse(qs.Position)
}
