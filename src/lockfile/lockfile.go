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

package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/nightlyone/lockfile"
	log "github.com/sirupsen/logrus"
)

// ErrBusy is returned by Lock when a live process holds the lock.
var ErrBusy = errors.New("lock held by another process")

// Lockfile guards one group of commands in an export dir, e.g. .streamLockfile.lck.
// A lock left behind by a dead process is taken over.
type Lockfile struct {
	fpath    string
	group    string
	lockfile lockfile.Lockfile
	locked   bool
}

func NewLockfile(exportDir, group string) (*Lockfile, error) {
	fpath, err := filepath.Abs(filepath.Join(exportDir, fmt.Sprintf(".%sLockfile.lck", group)))
	if err != nil {
		return nil, fmt.Errorf("resolve lockfile path: %w", err)
	}
	return &Lockfile{fpath: fpath, group: group}, nil
}

func (l *Lockfile) Path() string {
	return l.fpath
}

// GetCmdPID reads the PID of the process holding the lock.
func (l *Lockfile) GetCmdPID() (int, error) {
	bytes, err := os.ReadFile(l.fpath)
	if err != nil {
		return -1, fmt.Errorf("failed to read lockfile %q: %w", l.fpath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil {
		return -1, fmt.Errorf("failed to parse PID from lockfile %q: %w", l.fpath, err)
	}
	return pid, nil
}

func (l *Lockfile) IsPIDActive() bool {
	pid, err := l.GetCmdPID()
	if err != nil {
		return false
	}
	proc, _ := os.FindProcess(pid) // always succeeds on Unix
	// signal 0 only checks that the process exists
	err = proc.Signal(syscall.Signal(0))
	if err != nil {
		log.Infof("process %d is not active", pid)
		return false
	}
	return true
}

func (l *Lockfile) Lock() error {
	var err error
	l.lockfile, err = lockfile.New(l.fpath)
	if err != nil {
		return fmt.Errorf("create lockfile %q: %w", l.fpath, err)
	}
	err = l.lockfile.TryLock()
	switch {
	case err == nil:
		l.locked = true
		log.Infof("acquired %s lock %s", l.group, l.fpath)
		return nil
	case errors.Is(err, lockfile.ErrBusy):
		pid, _ := l.GetCmdPID()
		return fmt.Errorf("%s lock %s is held by process %d: %w", l.group, l.fpath, pid, ErrBusy)
	default:
		return fmt.Errorf("lock %q: %w", l.fpath, err)
	}
}

// Unlock is a no-op when the lock is not held.
func (l *Lockfile) Unlock() error {
	if !l.locked {
		return nil
	}
	err := l.lockfile.Unlock()
	if err != nil {
		return fmt.Errorf("unlock %q: %w", l.fpath, err)
	}
	l.locked = false
	return nil
}

func (l *Lockfile) IsLocked() bool {
	return l.locked
}
