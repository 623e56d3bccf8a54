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

package binlog

import (
	"context"
	"fmt"

	goerrors "github.com/go-errors/errors"
	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/position"
)

type ReaderConfig struct {
	Host     string
	Port     uint16
	User     string
	Password string
	// Must be unique among the replicas of the source server.
	ServerID uint32
	Flavor   string // mysql or mariadb
}

// Reader streams row events from a MySQL binlog.
type Reader struct {
	cfg      ReaderConfig
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	decoder  *EventDecoder
	pending  []incremental.Event
}

func NewReader(cfg ReaderConfig) *Reader {
	if cfg.Flavor == "" {
		cfg.Flavor = mysql.MySQLFlavor
	}
	return &Reader{cfg: cfg}
}

func (r *Reader) Start(ctx context.Context, from position.LogPosition) error {
	r.closeSyncer()

	var startPos mysql.Position
	switch p := from.(type) {
	case nil:
		var err error
		startPos, err = r.currentPosition()
		if err != nil {
			return err
		}
	case position.BinlogPosition:
		startPos = p.Position
	default:
		return goerrors.Errorf("binlog replication cannot start from %s position %s", p.Kind(), p)
	}

	r.syncer = replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: r.cfg.ServerID,
		Flavor:   r.cfg.Flavor,
		Host:     r.cfg.Host,
		Port:     r.cfg.Port,
		User:     r.cfg.User,
		Password: r.cfg.Password,
	})
	streamer, err := r.syncer.StartSync(startPos)
	if err != nil {
		r.closeSyncer()
		return fmt.Errorf("start binlog sync at %s: %w", startPos, err)
	}
	log.Infof("binlog replication started at %s as server id %d", startPos, r.cfg.ServerID)
	r.streamer = streamer
	r.decoder = NewEventDecoder(startPos.Name)
	r.pending = nil
	return nil
}

var _ incremental.PositionAnchor = (*Reader)(nil)

func (r *Reader) CurrentPosition(ctx context.Context) (position.LogPosition, error) {
	pos, err := r.currentPosition()
	if err != nil {
		return nil, err
	}
	return position.BinlogPosition{Position: pos}, nil
}

// currentPosition asks the server where its binlog currently ends.
func (r *Reader) currentPosition() (mysql.Position, error) {
	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	conn, err := client.Connect(addr, r.cfg.User, r.cfg.Password, "")
	if err != nil {
		return mysql.Position{}, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()
	res, err := conn.Execute("SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, fmt.Errorf("show master status: %w", err)
	}
	if res.RowNumber() == 0 {
		return mysql.Position{}, goerrors.Errorf("binary logging is not enabled on %s", addr)
	}
	name, err := res.GetString(0, 0)
	if err != nil {
		return mysql.Position{}, err
	}
	pos, err := res.GetUint(0, 1)
	if err != nil {
		return mysql.Position{}, err
	}
	return mysql.Position{Name: name, Pos: uint32(pos)}, nil
}

func (r *Reader) ReadEvent(ctx context.Context) (incremental.Event, error) {
	if r.streamer == nil {
		return nil, goerrors.Errorf("binlog stream not started")
	}
	for len(r.pending) == 0 {
		ev, err := r.streamer.GetEvent(ctx)
		if err != nil {
			return nil, fmt.Errorf("read binlog event: %w", err)
		}
		r.pending = append(r.pending, r.decoder.Decode(ev)...)
	}
	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev, nil
}

func (r *Reader) closeSyncer() {
	if r.syncer != nil {
		r.syncer.Close()
		r.syncer = nil
		r.streamer = nil
	}
}

func (r *Reader) Close() error {
	r.closeSyncer()
	return nil
}
