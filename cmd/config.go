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
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SourceDBFlagPrefix = "source-"
	TargetDBFlagPrefix = "target-"
	OracleDBFlagPrefix = "oracle-"

	SourceDBConfigPrefix = "source."
	TargetDBConfigPrefix = "target."

	CONFIG_FILE_ENV_VAR = "YB_RESHARD_CONFIG_FILE"
)

var allowedGlobalConfigKeys = mapset.NewThreadUnsafeSet[string](
	"export-dir", "log-level", "metrics-port", "table-list", "table-mapping",
	"shard-suffix-pattern", "parallel-jobs", "batch-size",
)

var allowedSourceConfigKeys = mapset.NewThreadUnsafeSet[string](
	"db-type", "db-host", "db-port", "db-user", "db-name", "db-password", "db-schema",
	"ssl-mode", "ssl-cert", "ssl-key", "ssl-root-cert", "oracle-db-sid", "oracle-tns-alias",
)

var allowedTargetConfigKeys = mapset.NewThreadUnsafeSet[string](
	"db-type", "db-host", "db-port", "db-user", "db-name", "db-password", "db-schema",
	"ssl-mode", "ssl-cert", "ssl-key", "ssl-root-cert",
)

var allowedSplitConfigKeys = mapset.NewThreadUnsafeSet[string](
	"shard-size", "parallel-jobs", "start-clean",
)

var allowedInventoryConfigKeys = mapset.NewThreadUnsafeSet[string](
	"batch-size", "parallel-jobs", "write-to-queue", "max-segment-size",
	"stream-name", "replication-slot", "publication", "create-slot", "server-id",
)

var allowedStreamConfigKeys = mapset.NewThreadUnsafeSet[string](
	"stream-name", "replication-slot", "publication", "create-slot", "server-id",
	"connect-timeout", "idle-timeout", "max-retry-duration", "partitions", "write-to-queue",
	"max-segment-size",
)

var allowedApplyQueueConfigKeys = mapset.NewThreadUnsafeSet[string](
	"batch-size", "flush-interval",
)

var allowedConfigSections = map[string]mapset.Set[string]{
	"source":      allowedSourceConfigKeys,
	"target":      allowedTargetConfigKeys,
	"split":       allowedSplitConfigKeys,
	"inventory":   allowedInventoryConfigKeys,
	"stream":      allowedStreamConfigKeys,
	"apply-queue": allowedApplyQueueConfigKeys,
	"progress":    mapset.NewThreadUnsafeSet[string](),
}

// ConfigFlagOverride records a flag whose value came from the config file.
type ConfigFlagOverride struct {
	FlagName  string
	ConfigKey string
	Value     string
}

/*
initConfig loads the config file for cmd and copies its values into the flags the user did
not set on the command line, so CLI > config file > flag default.

The file is --config-file if given, else $YB_RESHARD_CONFIG_FILE, else ~/yb-reshard-config.yaml.
A missing default file is not an error.
*/
func initConfig(cmd *cobra.Command) ([]ConfigFlagOverride, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if os.Getenv(CONFIG_FILE_ENV_VAR) != "" {
		v.SetConfigFile(os.Getenv(CONFIG_FILE_ENV_VAR))
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(home)
		v.SetConfigName("yb-reshard-config")
		v.SetConfigType("yaml")
	}

	err := v.ReadInConfig()
	if err == nil {
		fmt.Println("Using config file:", v.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return nil, err
	}

	err = validateConfigFile(v)
	if err != nil {
		return nil, err
	}
	overrides, err := bindCobraFlagsToViper(cmd, v)
	if err != nil {
		return nil, fmt.Errorf("failed to bind cobra flags to viper: %w", err)
	}
	return overrides, nil
}

// unknownConfigKeys groups the keys of v that no command accepts by where they were found:
// "" for top-level keys, "[sections]" for unknown sections, else the section name.
func unknownConfigKeys(v *viper.Viper) map[string]mapset.Set[string] {
	unknown := make(map[string]mapset.Set[string])
	add := func(group, key string) {
		if unknown[group] == nil {
			unknown[group] = mapset.NewThreadUnsafeSet[string]()
		}
		unknown[group].Add(key)
	}
	for _, key := range v.AllKeys() {
		section, nestedKey, nested := strings.Cut(key, ".")
		allowed, known := allowedConfigSections[section]
		switch {
		case !nested && !allowedGlobalConfigKeys.Contains(key):
			add("", key)
		case !nested:
		case !known:
			add("[sections]", section)
		case !allowed.Contains(nestedKey):
			add(section, nestedKey)
		}
	}
	return unknown
}

// validateConfigFile prints every unknown key before failing, so that one run shows all of them.
func validateConfigFile(v *viper.Viper) error {
	unknown := unknownConfigKeys(v)
	if len(unknown) == 0 {
		return nil
	}
	groups := lo.Keys(unknown)
	sort.Strings(groups)
	for _, group := range groups {
		label := fmt.Sprintf("Invalid keys in section '%s':", group)
		switch group {
		case "":
			label = "Invalid global config keys:"
		case "[sections]":
			label = "Invalid sections:"
		}
		keys := unknown[group].ToSlice()
		sort.Strings(keys)
		fmt.Printf("%s [%s]\n", color.RedString(label), strings.Join(keys, ", "))
	}
	return fmt.Errorf("found invalid configurations in config file: %s", v.ConfigFileUsed())
}

/*
bindCobraFlagsToViper sets every flag the user left unset from the config file. Lookup order:

  - <command>.<flag>, e.g. stream.replication-slot
  - <flag> at the top level
  - source-<x> from source.<x>, oracle-<x> from source.oracle-<x>, target-<x> from target.<x>
*/
func bindCobraFlagsToViper(cmd *cobra.Command, v *viper.Viper) ([]ConfigFlagOverride, error) {
	var bindErr error
	var overrides []ConfigFlagOverride

	subCmdPath := strings.TrimSpace(strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()))
	configKeyPrefix := strings.ReplaceAll(subCmdPath, " ", "-")

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Changed {
			return
		}
		key, ok := configKeyForFlag(v, configKeyPrefix, f.Name)
		if !ok {
			return
		}
		val := v.GetString(key)
		err := cmd.Flags().Set(f.Name, val)
		if err != nil {
			bindErr = fmt.Errorf("set flag %s from config key %s: %w", f.Name, key, err)
			return
		}
		overrides = append(overrides, ConfigFlagOverride{FlagName: f.Name, ConfigKey: key, Value: val})
	})
	return overrides, bindErr
}

func configKeyForFlag(v *viper.Viper, configKeyPrefix, flagName string) (string, bool) {
	candidates := []string{flagName}
	if configKeyPrefix != "" {
		candidates = append([]string{configKeyPrefix + "." + flagName}, candidates...)
	}
	switch {
	case strings.HasPrefix(flagName, SourceDBFlagPrefix):
		candidates = append(candidates, SourceDBConfigPrefix+strings.TrimPrefix(flagName, SourceDBFlagPrefix))
	case strings.HasPrefix(flagName, OracleDBFlagPrefix):
		candidates = append(candidates, SourceDBConfigPrefix+flagName)
	case strings.HasPrefix(flagName, TargetDBFlagPrefix):
		candidates = append(candidates, TargetDBConfigPrefix+strings.TrimPrefix(flagName, TargetDBFlagPrefix))
	}
	for _, key := range candidates {
		if v.IsSet(key) {
			return key, true
		}
	}
	return "", false
}
