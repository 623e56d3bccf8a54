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
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ProgressStore keeps serialized positions in the progress table of the meta db.
type ProgressStore struct {
	m *MetaDB
}

func (m *MetaDB) ProgressStore() *ProgressStore {
	return &ProgressStore{m: m}
}

func (s *ProgressStore) Put(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`,
		PROGRESS_TABLE_NAME)
	_, err := s.m.db.ExecContext(ctx, query, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("error while running query on meta db - %s :%w", query, err)
	}
	return nil
}

func (s *ProgressStore) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT position FROM %s WHERE key = ?`, PROGRESS_TABLE_NAME)
	rows, err := s.m.db.QueryContext(ctx, query, key)
	if err != nil {
		return "", false, fmt.Errorf("error while running query on meta db - %s :%w", query, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var value string
	err = rows.Scan(&value)
	if err != nil {
		return "", false, fmt.Errorf("scan progress of %s: %w", key, err)
	}
	return value, true, nil
}

func (s *ProgressStore) List(ctx context.Context, prefix string) (map[string]string, error) {
	// substr avoids LIKE escaping of '_' which is common in table names.
	query := fmt.Sprintf(`SELECT key, position FROM %s WHERE substr(key, 1, ?) = ? ORDER BY key`, PROGRESS_TABLE_NAME)
	rows, err := s.m.db.QueryContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("error while running query on meta db - %s :%w", query, err)
	}
	defer func() {
		err := rows.Close()
		if err != nil {
			log.Errorf("failed to close rows while listing progress %q: %v", prefix, err)
		}
	}()
	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		err := rows.Scan(&key, &value)
		if err != nil {
			return nil, fmt.Errorf("scan progress rows: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

func (s *ProgressStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, PROGRESS_TABLE_NAME)
	_, err := s.m.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	return nil
}

// Reset drops every recorded position under prefix. Used by a fresh start of a job.
func (s *ProgressStore) Reset(ctx context.Context, prefix string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE substr(key, 1, ?) = ?`, PROGRESS_TABLE_NAME)
	result, err := s.m.db.ExecContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("error while running query on meta db -%s :%w", query, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows deleted: %w", err)
	}
	log.Infof("Reset %d progress entries with prefix %q", n, prefix)
	return n, nil
}
