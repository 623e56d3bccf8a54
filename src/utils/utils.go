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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

var DoNotPrompt bool

// AskPrompt asks a yes/no question on stdin. --yes sets DoNotPrompt and skips the question.
func AskPrompt(args ...string) bool {
	return askPrompt(os.Stdin, args...)
}

func askPrompt(in io.Reader, args ...string) bool {
	if DoNotPrompt {
		return true
	}
	fmt.Printf("%s? [Y/N]: ", strings.Join(args, " "))
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		log.Warnf("failed to read prompt answer: %v", err)
		return false
	}
	input = strings.ToUpper(strings.TrimSpace(input))
	return input == "Y" || input == "YES"
}

func IsDirectoryEmpty(dir string) bool {
	files, _ := filepath.Glob(filepath.Join(dir, "*"))
	return len(files) == 0
}

func FileOrFolderExists(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		log.Warnf("stat %q: %v", path, err)
	}
	return false
}

// CleanDir removes everything under dir but keeps dir itself.
func CleanDir(dir string) error {
	if !FileOrFolderExists(dir) {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return fmt.Errorf("list %q: %w", dir, err)
	}
	log.Infof("cleaning directory: %s", dir)
	for _, file := range files {
		if err := os.RemoveAll(file); err != nil {
			return fmt.Errorf("clean dir %q: %w", dir, err)
		}
	}
	return nil
}

// CsvStringToSlice splits a comma separated flag value, dropping blank entries.
func CsvStringToSlice(str string) []string {
	var result []string
	for _, s := range strings.Split(str, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
