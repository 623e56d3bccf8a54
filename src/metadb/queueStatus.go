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

import "fmt"

const QUEUE_STATUS_KEY = "queue_status"

// QueueStatusRecord tracks how far apply-queue got through the segment queue.
type QueueStatusRecord struct {
	LastAppliedVsn int64 `json:"LastAppliedVsn"`
	UpdatedAt      int64 `json:"UpdatedAt"`
}

// GetLastAppliedVsn returns -1 when nothing has been applied from the queue yet.
func (m *MetaDB) GetLastAppliedVsn() (int64, error) {
	var status QueueStatusRecord
	found, err := m.GetJsonObject(nil, QUEUE_STATUS_KEY, &status)
	if err != nil {
		return 0, fmt.Errorf("read queue status: %w", err)
	}
	if !found {
		return -1, nil
	}
	return status.LastAppliedVsn, nil
}

func (m *MetaDB) SetLastAppliedVsn(vsn int64, updatedAt int64) error {
	return UpdateJsonObjectInMetaDB(m, QUEUE_STATUS_KEY, func(status *QueueStatusRecord) {
		if vsn > status.LastAppliedVsn {
			status.LastAppliedVsn = vsn
		}
		status.UpdatedAt = updatedAt
	})
}

func (m *MetaDB) ResetQueueStatus() error {
	return m.DeleteJsonObject(QUEUE_STATUS_KEY)
}
