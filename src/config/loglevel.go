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

package config

import (
	"strings"

	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/errs"
)

const (
	TRACE = "trace"
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
	FATAL = "fatal"
	PANIC = "panic"
)

var (
	// LogLevel is bound to --log-level.
	LogLevel       = INFO
	validLogLevels = []string{TRACE, DEBUG, INFO, WARN, ERROR, FATAL, PANIC}
)

func ValidateLogLevel() error {
	LogLevel = strings.ToLower(strings.TrimSpace(LogLevel))
	if !lo.Contains(validLogLevels, LogLevel) {
		return errs.NewConfigError("log-level",
			goerrors.Errorf("%q is not one of %s", LogLevel, strings.Join(validLogLevels, ", ")))
	}
	return nil
}

// Level falls back to info for anything ValidateLogLevel would reject.
func Level() log.Level {
	level, err := log.ParseLevel(LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// Statement-level tracing on the stream path is only worth its cost at debug or below.
func IsLogLevelDebugOrBelow() bool {
	return Level() >= log.DebugLevel
}
