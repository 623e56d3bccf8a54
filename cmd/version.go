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
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/yugabyte/yb-reshard/src/utils"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build details of yb-reshard",
	Run: func(cmd *cobra.Command, args []string) {
		table := uitable.New()
		for _, kv := range buildDetails() {
			table.AddRow(kv[0]+":", kv[1])
		}
		fmt.Println(table)
	},
}

// buildDetails lists the release version followed by whatever vcs stamps the go
// toolchain recorded in the binary.
func buildDetails() [][2]string {
	details := [][2]string{
		{"version", utils.VersionString()},
		{"go", runtime.Version()},
		{"platform", runtime.GOOS + "/" + runtime.GOARCH},
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return details
	}
	for _, s := range info.Settings {
		if !strings.HasPrefix(s.Key, "vcs.") {
			continue
		}
		details = append(details, [2]string{strings.TrimPrefix(s.Key, "vcs."), s.Value})
	}
	return details
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
