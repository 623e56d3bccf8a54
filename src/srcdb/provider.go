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

package srcdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const DEFAULT_PING_TIMEOUT = 30 * time.Second

// Provider hands out connection pools. Pooling itself is left to database/sql.
type Provider interface {
	GetConnection(ctx context.Context, source *Source) (*sql.DB, error)
	Close() error
}

// OpenFunc matches sql.Open; tests swap it for sqlmock.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// PoolProvider opens one *sql.DB per distinct DSN and reuses it afterwards.
type PoolProvider struct {
	open OpenFunc
	mu   sync.Mutex
	dbs  map[string]*sql.DB
}

func NewPoolProvider(open OpenFunc) *PoolProvider {
	if open == nil {
		open = sql.Open
	}
	return &PoolProvider{open: open, dbs: make(map[string]*sql.DB)}
}

func (p *PoolProvider) GetConnection(ctx context.Context, source *Source) (*sql.DB, error) {
	err := source.Validate()
	if err != nil {
		return nil, err
	}
	dsn, err := source.GetConnectionUri()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}
	db, err := p.open(source.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", source.DBType, err)
	}
	if source.NumConnections > 0 {
		db.SetMaxOpenConns(source.NumConnections)
	}
	pingCtx, cancel := context.WithTimeout(ctx, DEFAULT_PING_TIMEOUT)
	defer cancel()
	err = db.PingContext(pingCtx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s %s:%d: %w", source.DBType, source.Host, source.port(), err)
	}
	log.Infof("connected to %s: %+v", source.DBType, source.Redacted())
	p.dbs[dsn] = db
	return db, nil
}

func (p *PoolProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for dsn, db := range p.dbs {
		err := db.Close()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.dbs, dsn)
	}
	return firstErr
}

// DB opens a single pool for the source outside of any Provider.
func (s *Source) DB(ctx context.Context) (*sql.DB, error) {
	return NewPoolProvider(nil).GetConnection(ctx, s)
}
