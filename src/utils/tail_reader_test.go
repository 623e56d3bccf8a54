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

package utils

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailReaderSeesAppendedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	w, err := os.Create(path)
	require.NoError(t, err)
	defer w.Close()
	r, err := os.Open(path)
	require.NoError(t, err)
	defer r.Close()

	tail := NewTailReader(context.Background(), r).WithPollInterval(10 * time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.WriteString("hello")
	}()
	buf := make([]byte, 5)
	_, err = io.ReadFull(tail, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestTailReaderStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	r, err := os.Open(path)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = NewTailReader(ctx, r).WithPollInterval(10 * time.Millisecond).Read(make([]byte, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
