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

package metadb

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatusRecord struct {
	JobUUID            string   `json:"JobUUID"`
	SourceDBType       string   `json:"SourceDBType"`
	TargetDBType       string   `json:"TargetDBType"`
	Tables             []string `json:"Tables"`
	InventoryTaskIDs   []string `json:"InventoryTaskIDs"`
	InventoryDone      bool     `json:"InventoryDone"`
	StreamName         string   `json:"StreamName"`
	ReplicationSlot    string   `json:"ReplicationSlot"`
	Runs               []Run    `json:"Runs"`
	ShardSuffixPattern string   `json:"ShardSuffixPattern"`
}

type Run struct {
	RunID     string `json:"RunID"`
	Command   string `json:"Command"`
	StartedAt int64  `json:"StartedAt"`
}

const JOB_STATUS_KEY = "job_status"

func (m *MetaDB) UpdateJobStatusRecord(updateFn func(*JobStatusRecord)) error {
	return UpdateJsonObjectInMetaDB(m, JOB_STATUS_KEY, updateFn)
}

func (m *MetaDB) GetJobStatusRecord() (*JobStatusRecord, error) {
	record := new(JobStatusRecord)
	found, err := m.GetJsonObject(nil, JOB_STATUS_KEY, record)
	if err != nil {
		return nil, fmt.Errorf("error while getting job status record from meta db: %w", err)
	}
	if !found {
		return nil, nil
	}
	return record, nil
}

func (m *MetaDB) InitJobStatusRecord() error {
	return m.UpdateJobStatusRecord(func(record *JobStatusRecord) {
		if record.JobUUID != "" {
			return // already initialized
		}
		record.JobUUID = uuid.New().String()
	})
}

// StartRun appends a run of command to the job status and returns its ID.
func (m *MetaDB) StartRun(command string) (string, error) {
	runID := uuid.New().String()
	err := m.UpdateJobStatusRecord(func(record *JobStatusRecord) {
		record.Runs = append(record.Runs, Run{RunID: runID, Command: command, StartedAt: time.Now().Unix()})
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}
