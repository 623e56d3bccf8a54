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
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	goerrors "github.com/go-errors/errors"
	"github.com/samber/lo"

	"github.com/yugabyte/yb-reshard/src/dialect"
	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/inventory"
	"github.com/yugabyte/yb-reshard/src/splitter"
	"github.com/yugabyte/yb-reshard/src/srcdb"
)

const (
	DEFAULT_SHARD_SIZE      = splitter.DEFAULT_SHARD_SIZE
	DEFAULT_CONCURRENCY     = 4
	DEFAULT_BATCH_SIZE      = inventory.DEFAULT_BATCH_SIZE
	DEFAULT_CONNECT_TIMEOUT = incremental.DEFAULT_CONNECT_TIMEOUT
	DEFAULT_IDLE_TIMEOUT    = incremental.DEFAULT_IDLE_TIMEOUT
	DEFAULT_SERVER_ID       = 1001
	DEFAULT_STREAM_NAME     = "default"
)

type Replication struct {
	Slot        string `mapstructure:"slot"`
	Publication string `mapstructure:"publication"`
	CreateSlot  bool   `mapstructure:"create-slot"`
	ServerID    uint32 `mapstructure:"server-id"`
	StreamName  string `mapstructure:"stream-name"`
}

// JobConfig is everything one resharding job needs. It is assembled from the config file
// and command line flags; Validate fills in defaults.
type JobConfig struct {
	ExportDir          string            `mapstructure:"export-dir"`
	Source             srcdb.Source      `mapstructure:"source"`
	Target             srcdb.Source      `mapstructure:"target"`
	TargetDBType       string            `mapstructure:"target-db-type"`
	Tables             []string          `mapstructure:"tables"`
	ShardSize          int64             `mapstructure:"shard-size"`
	Concurrency        int               `mapstructure:"concurrency"`
	BatchSize          int               `mapstructure:"batch-size"`
	ConnectTimeout     time.Duration     `mapstructure:"connect-timeout"`
	IdleTimeout        time.Duration     `mapstructure:"idle-timeout"`
	Replication        Replication       `mapstructure:"replication"`
	TableMapping       map[string]string `mapstructure:"table-mapping"`
	ShardSuffixPattern string            `mapstructure:"shard-suffix-pattern"`
	MetricsPort        string            `mapstructure:"metrics-port"`
}

func (c *JobConfig) applyDefaults() {
	if c.ShardSize == 0 {
		c.ShardSize = DEFAULT_SHARD_SIZE
	}
	if c.Concurrency == 0 {
		c.Concurrency = DEFAULT_CONCURRENCY
	}
	if c.BatchSize == 0 {
		c.BatchSize = DEFAULT_BATCH_SIZE
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DEFAULT_CONNECT_TIMEOUT
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DEFAULT_IDLE_TIMEOUT
	}
	if c.Replication.ServerID == 0 {
		c.Replication.ServerID = DEFAULT_SERVER_ID
	}
	if c.Replication.StreamName == "" {
		c.Replication.StreamName = DEFAULT_STREAM_NAME
	}
	if c.TargetDBType == "" {
		c.TargetDBType = c.Target.DBType
	}
	if c.Source.Schema == "" && c.Source.NormalizedDBType() == srcdb.MYSQL {
		c.Source.Schema = c.Source.DBName
	}
}

// Validate applies defaults and reports the first invalid setting as an *errs.ConfigError.
func (c *JobConfig) Validate() error {
	c.applyDefaults()
	if c.ExportDir == "" {
		return errs.NewConfigError("export-dir", goerrors.Errorf("export directory is required"))
	}
	if err := c.Source.Validate(); err != nil {
		return errs.NewConfigError("source", err)
	}
	if c.TargetDBType != "" && !dialect.IsSupported(c.TargetDBType) {
		if _, known := dialect.Lookup(c.TargetDBType); known {
			return errs.NewConfigError("target-db-type",
				goerrors.Errorf("target db type %q has no upsert statement, replayed inserts would duplicate rows", c.TargetDBType))
		}
		return errs.NewConfigError("target-db-type", goerrors.Errorf("unsupported target db type %q", c.TargetDBType))
	}
	if c.ShardSize < 0 {
		return errs.NewConfigError("shard-size", goerrors.Errorf("shard size must be positive, got %d", c.ShardSize))
	}
	if c.Concurrency < 0 {
		return errs.NewConfigError("concurrency", goerrors.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.BatchSize < 0 {
		return errs.NewConfigError("batch-size", goerrors.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if len(c.Tables) == 0 {
		return errs.NewConfigError("tables", goerrors.Errorf("at least one table is required"))
	}
	if dups := lo.FindDuplicates(lo.Map(c.Tables, func(t string, _ int) string { return strings.ToLower(t) })); len(dups) > 0 {
		return errs.NewConfigError("tables", goerrors.Errorf("tables listed more than once: %v", dups))
	}
	if c.Source.NormalizedDBType() == srcdb.POSTGRESQL && c.Replication.Slot == "" {
		c.Replication.Slot = "yb_reshard_" + strings.ReplaceAll(c.Replication.StreamName, "-", "_")
	}
	return nil
}

// RequireTarget is checked by the commands that generate target statements.
func (c *JobConfig) RequireTarget() error {
	if c.TargetDBType == "" {
		return errs.NewConfigError("target-db-type", goerrors.Errorf("target db type is required"))
	}
	return nil
}

// TableSet is the configured table list, lower-cased.
func (c *JobConfig) TableSet() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(lo.Map(c.Tables, func(t string, _ int) string { return strings.ToLower(t) })...)
}

// QualifiedTables returns the tables as schema.table, using the source schema when a
// table is given without one.
func (c *JobConfig) QualifiedTables() []string {
	return lo.Map(c.Tables, func(t string, _ int) string {
		if strings.Contains(t, ".") || c.Source.Schema == "" {
			return t
		}
		return fmt.Sprintf("%s.%s", c.Source.Schema, t)
	})
}
