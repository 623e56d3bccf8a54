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

	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/splitter"
)

const SPLIT_PLAN_KEY = "split_plan"

// SplitPlanEntry is the stored form of a splitter.SplitTask.
type SplitPlanEntry struct {
	Schema          string `json:"Schema"`
	TableName       string `json:"TableName"`
	UniqueKeyColumn string `json:"UniqueKeyColumn"`
	Position        string `json:"Position"`
	ShardIndex      int    `json:"ShardIndex"`
}

func (m *MetaDB) SaveSplitPlan(tasks []*splitter.SplitTask) error {
	entries := make([]SplitPlanEntry, 0, len(tasks))
	for _, task := range tasks {
		entries = append(entries, SplitPlanEntry{
			Schema:          task.Schema,
			TableName:       task.TableName,
			UniqueKeyColumn: task.UniqueKeyColumn,
			Position:        task.Position.String(),
			ShardIndex:      task.ShardIndex,
		})
	}
	err := m.PutJsonObject(nil, SPLIT_PLAN_KEY, entries)
	if err != nil {
		return fmt.Errorf("save split plan: %w", err)
	}
	return nil
}

// LoadSplitPlan returns nil when no plan has been saved yet.
func (m *MetaDB) LoadSplitPlan() ([]*splitter.SplitTask, error) {
	var entries []SplitPlanEntry
	found, err := m.GetJsonObject(nil, SPLIT_PLAN_KEY, &entries)
	if err != nil {
		return nil, fmt.Errorf("load split plan: %w", err)
	}
	if !found {
		return nil, nil
	}
	tasks := make([]*splitter.SplitTask, 0, len(entries))
	for _, e := range entries {
		pos, err := position.Parse(e.Position)
		if err != nil {
			return nil, fmt.Errorf("split plan entry %s.%s#%d: %w", e.Schema, e.TableName, e.ShardIndex, err)
		}
		tasks = append(tasks, &splitter.SplitTask{
			Schema:          e.Schema,
			TableName:       e.TableName,
			UniqueKeyColumn: e.UniqueKeyColumn,
			Position:        pos,
			ShardIndex:      e.ShardIndex,
		})
	}
	return tasks, nil
}
