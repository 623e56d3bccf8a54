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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Records produced by the converter or the inventory dumper
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yb_reshard_records_total",
			Help: "Total records produced per table and operation",
		},
		[]string{"table_name", "schema_name", "operation"},
	)

	placeholderRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yb_reshard_placeholder_records_total",
			Help: "Total placeholder records (transaction boundaries, out of scope events)",
		},
	)

	splitTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yb_reshard_split_tasks_total",
			Help: "Total inventory split tasks planned per table",
		},
		[]string{"table_name", "schema_name"},
	)

	progressRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yb_reshard_progress_recorded_total",
			Help: "Total positions persisted per position kind",
		},
		[]string{"kind"},
	)
)

func RecordDataRecord(schemaName, tableName, operation string) {
	recordsTotal.WithLabelValues(tableName, schemaName, operation).Inc()
}

func RecordDataRecords(schemaName, tableName, operation string, n int) {
	recordsTotal.WithLabelValues(tableName, schemaName, operation).Add(float64(n))
}

func RecordPlaceholder() {
	placeholderRecordsTotal.Inc()
}

func RecordSplitTasks(schemaName, tableName string, n int) {
	splitTasksTotal.WithLabelValues(tableName, schemaName).Add(float64(n))
}

func RecordProgress(kind string) {
	progressRecordedTotal.WithLabelValues(kind).Inc()
}
