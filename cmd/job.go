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
	"database/sql"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/config"
	"github.com/yugabyte/yb-reshard/src/dialect"
	"github.com/yugabyte/yb-reshard/src/metadata"
	"github.com/yugabyte/yb-reshard/src/metadb"
	"github.com/yugabyte/yb-reshard/src/namereg"
	"github.com/yugabyte/yb-reshard/src/progress"
	"github.com/yugabyte/yb-reshard/src/splitter"
	"github.com/yugabyte/yb-reshard/src/srcdb"
	"github.com/yugabyte/yb-reshard/src/tgtdb"
)

// reshardJob holds what every data command shares: the meta db, the source connection and
// the name registry built from the job config.
type reshardJob struct {
	cfg      *config.JobConfig
	metaDB   *metadb.MetaDB
	tracker  *progress.Tracker
	provider srcdb.Provider
	sourceDB *sql.DB
	builder  dialect.SQLBuilder
	loader   metadata.Loader
	registry *namereg.Registry
}

func openJob(ctx context.Context, cfg *config.JobConfig, provider srcdb.Provider) (*reshardJob, error) {
	err := metadb.CreateAndInitMetaDBIfRequired(cfg.ExportDir)
	if err != nil {
		return nil, err
	}
	metaDB, err := metadb.NewMetaDB(cfg.ExportDir)
	if err != nil {
		return nil, err
	}
	job := &reshardJob{
		cfg:      cfg,
		metaDB:   metaDB,
		tracker:  progress.NewTracker(metaDB.ProgressStore()),
		provider: provider,
		builder:  dialect.GetBuilder(cfg.Source.NormalizedDBType()),
	}
	err = job.initJobStatus()
	if err != nil {
		job.Close()
		return nil, err
	}
	job.registry, err = buildNameRegistry(cfg)
	if err != nil {
		job.Close()
		return nil, err
	}
	job.sourceDB, err = provider.GetConnection(ctx, &cfg.Source)
	if err != nil {
		job.Close()
		return nil, fmt.Errorf("connect to source: %w", err)
	}
	catalog, err := metadata.NewCatalogLoader(job.sourceDB, cfg.Source.NormalizedDBType())
	if err != nil {
		job.Close()
		return nil, err
	}
	job.loader = metadata.NewCachingLoader(catalog)
	return job, nil
}

func (j *reshardJob) initJobStatus() error {
	err := j.metaDB.InitJobStatusRecord()
	if err != nil {
		return err
	}
	return j.metaDB.UpdateJobStatusRecord(func(record *metadb.JobStatusRecord) {
		record.SourceDBType = j.cfg.Source.NormalizedDBType()
		record.TargetDBType = j.cfg.TargetDBType
		record.Tables = j.cfg.QualifiedTables()
		record.ShardSuffixPattern = j.cfg.ShardSuffixPattern
	})
}

func (j *reshardJob) Close() {
	if j.provider != nil {
		err := j.provider.Close()
		if err != nil {
			log.Warnf("closing source connections: %v", err)
		}
	}
	err := j.metaDB.Close()
	if err != nil {
		log.Warnf("closing meta db: %v", err)
	}
}

// buildNameRegistry maps every configured table to its logical name and puts those logical
// names in scope. Change events of any other table become placeholders.
func buildNameRegistry(cfg *config.JobConfig) (*namereg.Registry, error) {
	reg := namereg.NewRegistry(cfg.Source.Schema)
	for actual, logical := range cfg.TableMapping {
		err := reg.AddMapping(actual, logical)
		if err != nil {
			return nil, err
		}
	}
	err := reg.SetShardSuffixPattern(cfg.ShardSuffixPattern)
	if err != nil {
		return nil, err
	}
	var logicalNames []string
	for _, ref := range tableRefs(cfg) {
		name, ok := reg.Lookup(ref.Schema, ref.Name)
		if !ok {
			return nil, fmt.Errorf("table %s cannot be mapped to a logical table", ref)
		}
		logicalNames = append(logicalNames, name.Qualified())
	}
	err = reg.AddToScope(logicalNames...)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func tableRefs(cfg *config.JobConfig) []splitter.TableRef {
	var refs []splitter.TableRef
	for _, t := range cfg.QualifiedTables() {
		schema, name, ok := strings.Cut(t, ".")
		if !ok {
			schema, name = "", t
		}
		refs = append(refs, splitter.TableRef{Schema: schema, Name: name})
	}
	return refs
}

// newStatementGenerator builds the generator for the target's dialect.
func newStatementGenerator(cfg *config.JobConfig) *tgtdb.StatementGenerator {
	return tgtdb.NewStatementGenerator(dialect.GetBuilder(cfg.TargetDBType), cfg.Target.Schema)
}

// newTargetWriter returns the segment writer under the export dir with --write-to-queue,
// else a writer applying statements to the target database.
func newTargetWriter(ctx context.Context, job *reshardJob) (tgtdb.TargetWriter, func() error, error) {
	if writeToQueue {
		sw, err := tgtdb.NewSegmentWriter(job.cfg.ExportDir, maxSegmentSize)
		if err != nil {
			return nil, nil, err
		}
		return traced(sw), sw.Close, nil
	}
	targetDB, err := job.provider.GetConnection(ctx, &job.cfg.Target)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to target: %w", err)
	}
	return traced(tgtdb.NewDBWriter(targetDB)), func() error { return nil }, nil
}

type tracingWriter struct {
	tgtdb.TargetWriter
}

func (w tracingWriter) Write(ctx context.Context, stmts []tgtdb.Statement) error {
	for _, stmt := range stmts {
		log.Debugf("applying %s", stmt)
	}
	return w.TargetWriter.Write(ctx, stmts)
}

func traced(w tgtdb.TargetWriter) tgtdb.TargetWriter {
	if !config.IsLogLevelDebugOrBelow() {
		return w
	}
	return tracingWriter{w}
}
