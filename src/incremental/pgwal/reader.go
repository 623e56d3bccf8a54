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

package pgwal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/incremental"
	"github.com/yugabyte/yb-reshard/src/position"
)

const DEFAULT_STANDBY_MESSAGE_TIMEOUT = 10 * time.Second

type ReaderConfig struct {
	ConnString  string
	SlotName    string
	Publication string
	// Create the slot if it does not exist yet.
	CreateSlot            bool
	StandbyMessageTimeout time.Duration
}

// Reader streams pgoutput changes over a logical replication connection.
type Reader struct {
	cfg     ReaderConfig
	conn    *pgconn.PgConn
	decoder *MessageDecoder
	pending []incremental.Event

	// received is reported as written, confirmed as flushed. The server may recycle WAL
	// up to the flushed position, so only durably recorded positions are confirmed.
	received  pglogrepl.LSN
	mu        sync.Mutex
	confirmed pglogrepl.LSN

	nextStandbyDeadline time.Time
}

func NewReader(cfg ReaderConfig) *Reader {
	if cfg.StandbyMessageTimeout <= 0 {
		cfg.StandbyMessageTimeout = DEFAULT_STANDBY_MESSAGE_TIMEOUT
	}
	return &Reader{cfg: cfg}
}

func (r *Reader) Start(ctx context.Context, from position.LogPosition) error {
	r.closeConn()

	var startLSN pglogrepl.LSN
	switch p := from.(type) {
	case nil:
	case position.LSNPosition:
		startLSN = p.LSN
	default:
		return goerrors.Errorf("postgresql replication cannot start from %s position %s", p.Kind(), p)
	}

	conn, err := r.connect(ctx)
	if err != nil {
		return err
	}
	if r.cfg.CreateSlot {
		_, err = r.createSlot(ctx, conn)
		if err != nil {
			conn.Close(context.Background())
			return err
		}
	}

	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", r.cfg.Publication),
	}
	err = pglogrepl.StartReplication(ctx, conn, r.cfg.SlotName, startLSN,
		pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs})
	if err != nil {
		conn.Close(context.Background())
		return fmt.Errorf("start replication on slot %s at %s: %w", r.cfg.SlotName, startLSN, err)
	}
	log.Infof("logical replication started on slot %s at %s", r.cfg.SlotName, startLSN)

	r.conn = conn
	r.decoder = NewMessageDecoder()
	r.pending = nil
	r.received = startLSN
	r.mu.Lock()
	if r.confirmed < startLSN {
		r.confirmed = startLSN
	}
	r.mu.Unlock()
	r.nextStandbyDeadline = time.Now().Add(r.cfg.StandbyMessageTimeout)
	return nil
}

func (r *Reader) connect(ctx context.Context) (*pgconn.PgConn, error) {
	config, err := pgconn.ParseConfig(r.cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	config.RuntimeParams["replication"] = "database"
	conn, err := pgconn.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect for replication: %w", err)
	}
	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("identify system: %w", err)
	}
	log.Infof("replication connection: system id %s, timeline %d, xlogpos %s, db %s",
		sysident.SystemID, sysident.Timeline, sysident.XLogPos, sysident.DBName)
	return conn, nil
}

// createSlot creates the slot and returns its consistent point, or 0 when the slot
// already exists.
func (r *Reader) createSlot(ctx context.Context, conn *pgconn.PgConn) (pglogrepl.LSN, error) {
	result, err := pglogrepl.CreateReplicationSlot(ctx, conn, r.cfg.SlotName, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{Mode: pglogrepl.LogicalReplication})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42710" { // duplicate_object
			return 0, nil
		}
		return 0, fmt.Errorf("create replication slot %s: %w", r.cfg.SlotName, err)
	}
	lsn, err := pglogrepl.ParseLSN(result.ConsistentPoint)
	if err != nil {
		return 0, fmt.Errorf("parse consistent point %q of slot %s: %w", result.ConsistentPoint, r.cfg.SlotName, err)
	}
	log.Infof("created replication slot %s at %s", r.cfg.SlotName, lsn)
	return lsn, nil
}

var _ incremental.PositionAnchor = (*Reader)(nil)

// CurrentPosition creates the slot when CreateSlot is set and returns where streaming
// from the slot starts: the consistent point of a new slot, else the slot's confirmed
// position. The slot keeps every change after that position.
func (r *Reader) CurrentPosition(ctx context.Context) (position.LogPosition, error) {
	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(context.Background())

	if r.cfg.CreateSlot {
		lsn, err := r.createSlot(ctx, conn)
		if err != nil {
			return nil, err
		}
		if lsn != 0 {
			return position.NewLSNPosition(lsn), nil
		}
	}
	query := fmt.Sprintf("SELECT COALESCE(confirmed_flush_lsn, restart_lsn)::text FROM pg_replication_slots WHERE slot_name = '%s'",
		strings.ReplaceAll(r.cfg.SlotName, "'", "''"))
	results, err := conn.Exec(ctx, query).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read replication slot %s: %w", r.cfg.SlotName, err)
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return nil, goerrors.Errorf("replication slot %s does not exist, create it or use --create-slot", r.cfg.SlotName)
	}
	lsn, err := pglogrepl.ParseLSN(string(results[0].Rows[0][0]))
	if err != nil {
		return nil, fmt.Errorf("parse position of replication slot %s: %w", r.cfg.SlotName, err)
	}
	return position.NewLSNPosition(lsn), nil
}

// Confirm reports pos as durably applied so the server may release WAL before it.
func (r *Reader) Confirm(pos position.LogPosition) {
	p, ok := pos.(position.LSNPosition)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.LSN > r.confirmed {
		r.confirmed = p.LSN
	}
}

func (r *Reader) ReadEvent(ctx context.Context) (incremental.Event, error) {
	if r.conn == nil {
		return nil, goerrors.Errorf("replication stream not started")
	}
	for len(r.pending) == 0 {
		if time.Now().After(r.nextStandbyDeadline) {
			if err := r.sendStandbyStatus(ctx); err != nil {
				return nil, err
			}
		}
		rctx, cancel := context.WithDeadline(ctx, r.nextStandbyDeadline)
		rawMsg, err := r.conn.ReceiveMessage(rctx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) && ctx.Err() == nil {
				continue
			}
			return nil, fmt.Errorf("receive replication message: %w", err)
		}
		if err := r.handleMessage(rawMsg); err != nil {
			return nil, err
		}
	}
	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev, nil
}

func (r *Reader) handleMessage(rawMsg pgproto3.BackendMessage) error {
	switch msg := rawMsg.(type) {
	case *pgproto3.ErrorResponse:
		return fmt.Errorf("replication error from server: %s (%s)", msg.Message, msg.Code)
	case *pgproto3.CopyDone:
		return io.EOF
	case *pgproto3.CopyData:
		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parse primary keepalive: %w", err)
			}
			if pkm.ReplyRequested {
				r.nextStandbyDeadline = time.Time{}
			}
		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parse xlog data: %w", err)
			}
			events, err := r.decoder.Decode(xld.WALStart, xld.WALData)
			if err != nil {
				return err
			}
			r.pending = append(r.pending, events...)
			if end := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); end > r.received {
				r.received = end
			}
		}
	default:
		log.Debugf("unexpected replication message %T", rawMsg)
	}
	return nil
}

func (r *Reader) sendStandbyStatus(ctx context.Context) error {
	r.mu.Lock()
	confirmed := r.confirmed
	r.mu.Unlock()
	err := pglogrepl.SendStandbyStatusUpdate(ctx, r.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: r.received,
		WALFlushPosition: confirmed,
		WALApplyPosition: confirmed,
	})
	if err != nil {
		return fmt.Errorf("send standby status update: %w", err)
	}
	log.Debugf("sent standby status update: write=%s flush=%s", r.received, confirmed)
	r.nextStandbyDeadline = time.Now().Add(r.cfg.StandbyMessageTimeout)
	return nil
}

func (r *Reader) closeConn() {
	if r.conn == nil {
		return
	}
	err := r.conn.Close(context.Background())
	if err != nil {
		log.Warnf("close replication connection: %v", err)
	}
	r.conn = nil
}

func (r *Reader) Close() error {
	r.closeConn()
	return nil
}
