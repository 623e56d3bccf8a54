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
	"context"
	"io"
	"time"
)

const DEFAULT_TAIL_POLL_INTERVAL = time.Second

// TailReader follows a file that another process is still appending to.
type TailReader struct {
	ctx          context.Context
	r            io.Reader
	pollInterval time.Duration
}

func NewTailReader(ctx context.Context, r io.Reader) *TailReader {
	return &TailReader{ctx: ctx, r: r, pollInterval: DEFAULT_TAIL_POLL_INTERVAL}
}

func (t *TailReader) WithPollInterval(d time.Duration) *TailReader {
	t.pollInterval = d
	return t
}

// Read blocks on io.EOF until more data is appended or the context is cancelled.
func (t *TailReader) Read(p []byte) (int, error) {
	for {
		n, err := t.r.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != io.EOF {
			return 0, err
		}
		select {
		case <-t.ctx.Done():
			return 0, t.ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
}
