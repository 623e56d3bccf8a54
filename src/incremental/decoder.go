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

package incremental

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/position"
	"github.com/yugabyte/yb-reshard/src/record"
)

type State int

const (
	DISCONNECTED State = iota
	CONNECTING
	STREAMING
	ERROR
	RECONNECTING
	CLOSED
)

var stateNames = map[State]string{
	DISCONNECTED: "DISCONNECTED",
	CONNECTING:   "CONNECTING",
	STREAMING:    "STREAMING",
	ERROR:        "ERROR",
	RECONNECTING: "RECONNECTING",
	CLOSED:       "CLOSED",
}

func (s State) String() string {
	return stateNames[s]
}

const (
	DEFAULT_CONNECT_TIMEOUT = 30 * time.Second
	DEFAULT_IDLE_TIMEOUT    = 5 * time.Minute
)

type DecoderConfig struct {
	// Bounds Start() of the underlying reader.
	ConnectTimeout time.Duration
	// A stream with no event for this long is reported as stalled. Reads are not timed out.
	IdleTimeout time.Duration
}

/*
Decoder is the pull iterator over one replication stream.

	DISCONNECTED -> CONNECTING -> STREAMING -> ERROR -> RECONNECTING -> STREAMING
	                                        \-> CLOSED

A read error moves the stream to ERROR and is returned as errs.StreamInterruptedError
carrying the last position handed out. The next call to Next reconnects from there.
*/
type Decoder struct {
	reader    EventReader
	converter *Converter
	cfg       DecoderConfig

	mu           sync.Mutex
	state        State
	lastPosition position.LogPosition
	lastEventAt  time.Time
	stalled      bool
	stopWatchdog chan struct{}
	readerClosed bool
}

func NewDecoder(reader EventReader, converter *Converter, cfg DecoderConfig, from position.LogPosition) *Decoder {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DEFAULT_CONNECT_TIMEOUT
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DEFAULT_IDLE_TIMEOUT
	}
	return &Decoder{
		reader:       reader,
		converter:    converter,
		cfg:          cfg,
		state:        DISCONNECTED,
		lastPosition: from,
	}
}

func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastPosition is the position of the last event handed out, or the start position.
func (d *Decoder) LastPosition() position.LogPosition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPosition
}

func (d *Decoder) Stalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stalled
}

func (d *Decoder) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != s {
		log.Debugf("replication stream state %s -> %s", d.state, s)
	}
	d.state = s
}

// Next returns the next record in source commit order.
func (d *Decoder) Next(ctx context.Context) (record.Record, error) {
	switch d.State() {
	case CLOSED:
		return nil, errs.ErrStreamClosed
	case DISCONNECTED, ERROR:
		err := d.connect(ctx)
		if err != nil {
			return nil, err
		}
	}

	ev, err := d.reader.ReadEvent(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// The reader may be mid-message; reconnect on the next call.
			d.disconnect(ERROR)
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			log.Infof("replication stream ended by source at %s", d.LastPosition())
			d.disconnect(CLOSED)
			return nil, io.EOF
		}
		d.disconnect(ERROR)
		log.Warnf("replication stream read failed: %v", err)
		return nil, errs.NewStreamInterruptedError(d.LastPosition(), err)
	}
	d.touch()

	rec, err := d.converter.Convert(ctx, ev)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.lastPosition = ev.Position()
	d.mu.Unlock()
	return rec, nil
}

func (d *Decoder) connect(ctx context.Context) error {
	from := d.LastPosition()
	if d.State() == ERROR {
		d.setState(RECONNECTING)
		log.Infof("reconnecting replication stream from %s", from)
	} else {
		d.setState(CONNECTING)
		log.Infof("connecting replication stream from %s", from)
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()
	err := d.reader.Start(cctx, from)
	if err != nil {
		d.setState(ERROR)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.NewStreamInterruptedError(from, fmt.Errorf("start stream: %w", err))
	}

	d.mu.Lock()
	d.state = STREAMING
	d.lastEventAt = time.Now()
	d.stalled = false
	d.stopWatchdog = make(chan struct{})
	stop := d.stopWatchdog
	d.mu.Unlock()
	go d.watchdog(stop)
	return nil
}

func (d *Decoder) disconnect(next State) {
	d.mu.Lock()
	if d.stopWatchdog != nil {
		close(d.stopWatchdog)
		d.stopWatchdog = nil
	}
	d.mu.Unlock()
	d.setState(next)
}

func (d *Decoder) touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stalled {
		log.Infof("replication stream resumed after stall at %s", d.lastPosition)
	}
	d.lastEventAt = time.Now()
	d.stalled = false
}

// watchdog flags the stream as stalled when no event arrived within IdleTimeout.
func (d *Decoder) watchdog(stop <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			idle := time.Since(d.lastEventAt)
			if !d.stalled && idle > d.cfg.IdleTimeout {
				d.stalled = true
				log.Warnf("no replication event received for %s, last position %s", idle.Round(time.Second), d.lastPosition)
			}
			d.mu.Unlock()
		}
	}
}

func (d *Decoder) Close() error {
	d.disconnect(CLOSED)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readerClosed {
		return nil
	}
	d.readerClosed = true
	return d.reader.Close()
}
