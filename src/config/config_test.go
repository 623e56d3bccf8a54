//go:build unit

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
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/srcdb"
)

func validJob() *JobConfig {
	return &JobConfig{
		ExportDir: "/tmp/export",
		Source:    srcdb.Source{DBType: "postgresql", Host: "src", User: "u", DBName: "shop", Schema: "public"},
		Target:    srcdb.Source{DBType: "mysql", Host: "tgt", User: "u", DBName: "shop"},
		Tables:    []string{"t_order", "sales.t_item"},
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	job := validJob()
	require.NoError(t, job.Validate())
	assert.EqualValues(t, DEFAULT_SHARD_SIZE, job.ShardSize)
	assert.Equal(t, DEFAULT_CONCURRENCY, job.Concurrency)
	assert.Equal(t, DEFAULT_BATCH_SIZE, job.BatchSize)
	assert.Equal(t, DEFAULT_IDLE_TIMEOUT, job.IdleTimeout)
	assert.Equal(t, "mysql", job.TargetDBType)
	assert.Equal(t, "yb_reshard_default", job.Replication.Slot)
	assert.Equal(t, []string{"public.t_order", "sales.t_item"}, job.QualifiedTables())
	assert.True(t, job.TableSet().Contains("t_order"))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		key    string
		mutate func(*JobConfig)
	}{
		{"export-dir", func(c *JobConfig) { c.ExportDir = "" }},
		{"source", func(c *JobConfig) { c.Source.DBType = "db2" }},
		{"target-db-type", func(c *JobConfig) { c.TargetDBType = "sybase" }},
		{"shard-size", func(c *JobConfig) { c.ShardSize = -1 }},
		{"tables", func(c *JobConfig) { c.Tables = nil }},
		{"tables", func(c *JobConfig) { c.Tables = []string{"a", "A"} }},
	}
	for _, tt := range tests {
		job := validJob()
		tt.mutate(job)
		err := job.Validate()
		require.Error(t, err, tt.key)
		var configErr *errs.ConfigError
		require.True(t, errors.As(err, &configErr), tt.key)
		assert.Equal(t, tt.key, configErr.Key())
	}
}

func TestValidateRejectsTargetWithoutUpsert(t *testing.T) {
	job := validJob()
	job.TargetDBType = "default"
	err := job.Validate()
	var configErr *errs.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "target-db-type", configErr.Key())
	assert.Contains(t, err.Error(), "no upsert")

	job = validJob()
	job.TargetDBType = "oracle"
	require.NoError(t, job.Validate())
}

func TestTargetOnlyRequiredForStatements(t *testing.T) {
	job := validJob()
	job.Target = srcdb.Source{}
	require.NoError(t, job.Validate())
	err := job.RequireTarget()
	var configErr *errs.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "target-db-type", configErr.Key())
}

func TestMySQLSchemaDefaultsToDatabase(t *testing.T) {
	job := validJob()
	job.Source = srcdb.Source{DBType: "mysql", Host: "src", User: "u", DBName: "shop"}
	require.NoError(t, job.Validate())
	assert.Equal(t, "shop", job.Source.Schema)
	assert.Empty(t, job.Replication.Slot)
}

func TestValidateLogLevel(t *testing.T) {
	defer func() { LogLevel = INFO }()
	LogLevel = " DEBUG"
	require.NoError(t, ValidateLogLevel())
	assert.Equal(t, log.DebugLevel, Level())
	assert.True(t, IsLogLevelDebugOrBelow())

	LogLevel = "loud"
	err := ValidateLogLevel()
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "log-level", cfgErr.Key())
	assert.Equal(t, log.InfoLevel, Level())

	LogLevel = "error"
	require.NoError(t, ValidateLogLevel())
	assert.False(t, IsLogLevelDebugOrBelow())
}
