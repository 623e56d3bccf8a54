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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yugabyte/yb-reshard/src/config"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
	"github.com/yugabyte/yb-reshard/src/utils"
)

var (
	source srcdb.Source
	target srcdb.Source

	tableListFlag          string
	tableMappingFlag       string
	shardSuffixPatternFlag string
	shardSize              int64
	parallelJobs           int
	batchSize              int
	writeToQueue           bool
	maxSegmentSize         int64

	streamName       string
	replicationSlot  string
	publication      string
	createSlot       bool
	serverID         uint32
	connectTimeout   time.Duration
	idleTimeout      time.Duration
	maxRetryDuration time.Duration
	numPartitions    int
)

func registerSourceDBConnFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&source.DBType, "source-db-type", "",
		"source database type: mysql, postgresql, oracle")
	cmd.Flags().StringVar(&source.Host, "source-db-host", "localhost",
		"source database server host")
	cmd.Flags().IntVar(&source.Port, "source-db-port", 0,
		"source database server port number (default: the db type's standard port)")
	cmd.Flags().StringVar(&source.User, "source-db-user", "",
		"connect to source database as specified user")
	cmd.Flags().StringVar(&source.Password, "source-db-password", "",
		"password of the source database user")
	cmd.Flags().StringVar(&source.DBName, "source-db-name", "",
		"source database name")
	cmd.Flags().StringVar(&source.Schema, "source-db-schema", "",
		"schema of the source tables (default: the database name for MySQL)")
	cmd.Flags().StringVar(&source.DBSid, "oracle-db-sid", "",
		"[For Oracle Only] Oracle System Identifier (SID) of the source instance")
	cmd.Flags().StringVar(&source.TNSAlias, "oracle-tns-alias", "",
		"[For Oracle Only] TNS alias to connect to the source instance")
	cmd.Flags().StringVar(&source.SSLMode, "source-ssl-mode", "prefer",
		"source SSL mode: disable, allow, prefer, require, verify-ca, verify-full")
	cmd.Flags().StringVar(&source.SSLCertPath, "source-ssl-cert", "",
		"source SSL certificate path")
	cmd.Flags().StringVar(&source.SSLKey, "source-ssl-key", "",
		"source SSL key path")
	cmd.Flags().StringVar(&source.SSLRootCert, "source-ssl-root-cert", "",
		"source SSL root certificate path")
}

func registerTargetDBConnFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&target.DBType, "target-db-type", "",
		"target database type: mysql, postgresql, oracle")
	cmd.Flags().StringVar(&target.Host, "target-db-host", "127.0.0.1",
		"target database server host")
	cmd.Flags().IntVar(&target.Port, "target-db-port", 0,
		"target database server port number (default: the db type's standard port)")
	cmd.Flags().StringVar(&target.User, "target-db-user", "",
		"connect to target database as specified user")
	cmd.Flags().StringVar(&target.Password, "target-db-password", "",
		"password of the target database user")
	cmd.Flags().StringVar(&target.DBName, "target-db-name", "",
		"target database name")
	cmd.Flags().StringVar(&target.Schema, "target-db-schema", "",
		"schema the logical tables are written to (default: the logical table's own schema)")
	cmd.Flags().StringVar(&target.SSLMode, "target-ssl-mode", "prefer",
		"target SSL mode: disable, allow, prefer, require, verify-ca, verify-full")
	cmd.Flags().StringVar(&target.SSLCertPath, "target-ssl-cert", "",
		"target SSL certificate path")
	cmd.Flags().StringVar(&target.SSLKey, "target-ssl-key", "",
		"target SSL key path")
	cmd.Flags().StringVar(&target.SSLRootCert, "target-ssl-root-cert", "",
		"target SSL root certificate path")
}

func registerTableFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tableListFlag, "table-list", "",
		"comma separated list of source tables, e.g. t_order_0,t_order_1,shop.t_item")
	cmd.Flags().StringVar(&tableMappingFlag, "table-mapping", "",
		"comma separated actual=logical table names, e.g. t_order_0=t_order,t_order_1=t_order")
	cmd.Flags().StringVar(&shardSuffixPatternFlag, "shard-suffix-pattern", "",
		"regular expression whose first group is the logical name of a sharded table, e.g. ^(.+)_[0-9]+$")
}

func registerQueueFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&writeToQueue, "write-to-queue", false,
		"write statements to queue segment files in the export dir instead of applying them to the target")
	cmd.Flags().Int64Var(&maxSegmentSize, "max-segment-size", tgtdb.DEFAULT_MAX_SEGMENT_SIZE,
		"size in bytes after which a queue segment file is rotated")
}

func registerReplicationFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&streamName, "stream-name", config.DEFAULT_STREAM_NAME,
		"name under which the stream position is recorded")
	cmd.Flags().StringVar(&replicationSlot, "replication-slot", "",
		"[For PostgreSQL Only] logical replication slot (default yb_reshard_<stream-name>)")
	cmd.Flags().StringVar(&publication, "publication", "",
		"[For PostgreSQL Only] publication covering the source tables")
	cmd.Flags().BoolVar(&createSlot, "create-slot", false,
		"[For PostgreSQL Only] create the replication slot if it does not exist")
	cmd.Flags().Uint32Var(&serverID, "server-id", config.DEFAULT_SERVER_ID,
		"[For MySQL Only] replica server id, unique among the source's replicas")
}

// parseTableMapping reads actual=logical pairs.
func parseTableMapping(s string) (map[string]string, error) {
	mapping := make(map[string]string)
	for _, pair := range utils.CsvStringToSlice(s) {
		actual, logical, ok := strings.Cut(pair, "=")
		actual, logical = strings.TrimSpace(actual), strings.TrimSpace(logical)
		if !ok || actual == "" || logical == "" {
			return nil, fmt.Errorf("invalid table mapping %q, expected actual=logical", pair)
		}
		if existing, dup := mapping[actual]; dup && existing != logical {
			return nil, fmt.Errorf("table %s mapped to both %s and %s", actual, existing, logical)
		}
		mapping[actual] = logical
	}
	return mapping, nil
}

func buildJobConfig() (*config.JobConfig, error) {
	mapping, err := parseTableMapping(tableMappingFlag)
	if err != nil {
		return nil, err
	}
	job := &config.JobConfig{
		ExportDir:          exportDir,
		Source:             source,
		Target:             target,
		Tables:             utils.CsvStringToSlice(tableListFlag),
		ShardSize:          shardSize,
		Concurrency:        parallelJobs,
		BatchSize:          batchSize,
		ConnectTimeout:     connectTimeout,
		IdleTimeout:        idleTimeout,
		TableMapping:       mapping,
		ShardSuffixPattern: shardSuffixPatternFlag,
		MetricsPort:        metricsPort,
		Replication: config.Replication{
			Slot:        replicationSlot,
			Publication: publication,
			CreateSlot:  createSlot,
			ServerID:    serverID,
			StreamName:  streamName,
		},
	}
	err = job.Validate()
	if err != nil {
		return nil, err
	}
	return job, nil
}
