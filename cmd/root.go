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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"

	"github.com/yugabyte/yb-reshard/src/config"
	"github.com/yugabyte/yb-reshard/src/lockfile"
	"github.com/yugabyte/yb-reshard/src/metrics"
	"github.com/yugabyte/yb-reshard/src/utils"
)

var (
	cfgFile     string
	exportDir   string
	metricsPort string
	lockFiles   []*lockfile.Lockfile
)

var rootCmd = &cobra.Command{
	Use:   "yb-reshard",
	Short: "Move data from sharded source tables into a target database",
	Long: `yb-reshard copies the existing rows of a set of (possibly sharded) source tables to a target
database in parallel, then streams the changes made on the source afterwards. Progress is
recorded in the export directory so that every command can be interrupted and resumed.`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		overrides, err := initConfig(cmd)
		if err != nil {
			return err
		}
		err = restoreFlagDefaults(cmd)
		if err != nil {
			return err
		}
		err = config.ValidateLogLevel()
		if err != nil {
			return err
		}
		if exportDir == "" {
			return nil
		}
		validateExportDirFlag()
		lockExportDir(cmd)
		InitLogging(exportDir, cmd.Name())
		for _, o := range overrides {
			log.Infof("flag %s set from config key %s", o.FlagName, o.ConfigKey)
		}
		if metricsPort != "" {
			metrics.StartMetricsServer(metricsPort)
		}
		return nil
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		unlockExportDir()
	},
}

func Execute(ctx context.Context) {
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config-file", "c", "",
		"path of the config file (default $YB_RESHARD_CONFIG_FILE or ~/yb-reshard-config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&exportDir, "export-dir", "e", "",
		"export directory holding the meta db, queue segments and logs of the job")
	rootCmd.PersistentFlags().StringVarP(&config.LogLevel, "log-level", "l", config.INFO,
		"log level: trace, debug, info, warn, error, fatal, panic")
	rootCmd.PersistentFlags().BoolVarP(&utils.DoNotPrompt, "yes", "y", false,
		"assume answer as yes for all questions")
	rootCmd.PersistentFlags().StringVar(&metricsPort, "metrics-port", "",
		"serve prometheus metrics on this port while the command runs")
}

// Commands share flag variables (e.g. batch-size) with different defaults, and the last
// registered default wins at init. Put back the defaults of the command being run.
func restoreFlagDefaults(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		err = f.Value.Set(f.DefValue)
	})
	if err != nil {
		return fmt.Errorf("restore flag defaults of %s: %w", cmd.Name(), err)
	}
	return nil
}

func validateExportDirFlag() {
	if !utils.FileOrFolderExists(exportDir) {
		utils.ErrExit("export-dir %q doesn't exist", exportDir)
	}
	if exportDir != "." {
		exportDir = strings.TrimRight(exportDir, "/")
	}
	abs, err := filepath.Abs(exportDir)
	if err != nil {
		utils.ErrExit("resolve export-dir %q: %v", exportDir, err)
	}
	exportDir = abs
}

// split and inventory share the task plan; stream only touches its own stream key and
// apply-queue only reads the queue, so either may run next to an inventory. progress only
// reads unless --reset.
func lockGroupsFor(cmd *cobra.Command) []string {
	switch cmd.Name() {
	case "split", "inventory":
		return []string{"inventory"}
	case "stream":
		return []string{"stream"}
	case "apply-queue":
		return []string{"apply"}
	case "progress":
		if cmd.Flags().Changed("reset") {
			return []string{"inventory", "stream", "apply"}
		}
	}
	return nil
}

func lockExportDir(cmd *cobra.Command) {
	for _, group := range lockGroupsFor(cmd) {
		lf, err := lockfile.NewLockfile(exportDir, group)
		if err != nil {
			utils.ErrExit("unable to lock the export-dir for %s: %v", cmd.Name(), err)
		}
		err = lf.Lock()
		switch {
		case err == nil:
			lockFiles = append(lockFiles, lf)
		case errors.Is(err, lockfile.ErrBusy):
			unlockExportDir()
			utils.ErrExit("another %s command is running in the export-dir %s: %v", group, exportDir, err)
		default:
			unlockExportDir()
			utils.ErrExit("unable to lock the export-dir for %s: %v", cmd.Name(), err)
		}
	}
	if len(lockFiles) > 0 {
		atexit.Register(unlockExportDir)
	}
}

func exportDirLocked() bool {
	return len(lockFiles) > 0
}

func unlockExportDir() {
	for _, lf := range lockFiles {
		err := lf.Unlock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to unlock %q: %v\n", lf.Path(), err)
		}
	}
	lockFiles = nil
}
