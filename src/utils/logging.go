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
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
)

var (
	// ErrExitErr is the error passed to the last ErrExit call.
	ErrExitErr error

	exitHook = atexit.Exit
)

// SetExitHook replaces how ErrExit terminates. nil restores atexit.Exit.
func SetExitHook(h func(code int)) {
	if h == nil {
		exitHook = atexit.Exit
		return
	}
	exitHook = h
}

// ErrExit logs the error, prints it in red to stderr and exits with status 1.
func ErrExit(format string, args ...interface{}) {
	ErrExitErr = fmt.Errorf(format, args...)

	format = strings.ReplaceAll(format, "%w", "%s")
	log.Errorf(format, args...)
	fmt.Fprintln(os.Stderr, color.RedString(format, args...))
	exitHook(1)
}

func PrintAndLog(formatString string, args ...interface{}) {
	log.Infof(formatString, args...)
	if !strings.HasSuffix(formatString, "\n") {
		formatString += "\n"
	}
	fmt.Printf(formatString, args...)
}

func PrintAndLogWarning(formatString string, args ...interface{}) {
	log.Warnf(formatString, args...)
	fmt.Println(color.YellowString(formatString, args...))
}
