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

const (
	YB_RESHARD_VERSION = "0.1.0"

	// Replaced by git archive through export-subst.
	GIT_COMMIT_HASH = "$Format:%H$"
)

func GitCommitHash() string {
	if len(GIT_COMMIT_HASH) == 40 {
		return GIT_COMMIT_HASH
	}
	return ""
}

func VersionString() string {
	if hash := GitCommitHash(); hash != "" {
		return YB_RESHARD_VERSION + " (" + hash[:12] + ")"
	}
	return YB_RESHARD_VERSION
}
