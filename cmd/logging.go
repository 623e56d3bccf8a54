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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yugabyte/yb-reshard/src/config"
)

const (
	LOG_FILE_MAX_SIZE_MB = 200
	LOG_FILE_MAX_BACKUPS = 10
)

var passwordFlags = []string{"--source-db-password", "--target-db-password"}

// lineFormatter writes one line per entry:
// 2024-05-02 10:11:12 INFO dispatcher.go:88 flushed batch partition=3 size=120
type lineFormatter struct{}

func (f *lineFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(entry.Level.String()))
	if entry.Caller != nil {
		fmt.Fprintf(&b, " %s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// InitLogging sends the log of cmdName to <logDir>/logs, rotated by lumberjack.
func InitLogging(logDir string, cmdName string) {
	log.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "logs", fmt.Sprintf("yb-reshard-%s.log", cmdName)),
		MaxSize:    LOG_FILE_MAX_SIZE_MB,
		MaxBackups: LOG_FILE_MAX_BACKUPS,
	})
	log.SetReportCaller(true)
	log.SetFormatter(&lineFormatter{})
	log.SetLevel(config.Level())
	log.WithField("level", config.Level()).Infof("logging to %s", logDir)
	log.Infof("args: %v", redactPasswordFromArgs(os.Args))
	for _, kv := range buildDetails() {
		log.Infof("%s: %s", kv[0], kv[1])
	}
}

// redactPasswordFromArgs masks password flag values, in both "--flag value" and
// "--flag=value" form. args is not modified.
func redactPasswordFromArgs(args []string) []string {
	redacted := append([]string(nil), args...)
	for i, arg := range redacted {
		for _, flag := range passwordFlags {
			switch {
			case arg == flag && i+1 < len(redacted):
				redacted[i+1] = "XXX"
			case strings.HasPrefix(arg, flag+"="):
				redacted[i] = flag + "=XXX"
			}
		}
	}
	return redacted
}
