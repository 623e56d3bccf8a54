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
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/errs"
	"github.com/yugabyte/yb-reshard/src/record"
)

func NewReconnectBackOff(maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = maxElapsed
	return bo
}

// RunWithReconnect drives the decoder until ctx is done, the source ends the stream, or a
// non-transient error occurs. Interrupted streams are reconnected from their last position
// with backoff. handle is called once per record, in order; returning an error stops the run.
func RunWithReconnect(ctx context.Context, d *Decoder, bo backoff.BackOff, handle func(record.Record) error) error {
	for {
		rec, err := d.Next(ctx)
		if err != nil {
			var interrupted *errs.StreamInterruptedError
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.As(err, &interrupted):
				wait := bo.NextBackOff()
				if wait == backoff.Stop {
					return err
				}
				log.Warnf("%v: retrying in %s", err, wait)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
				continue
			default:
				return err
			}
		}
		bo.Reset()
		if err := handle(rec); err != nil {
			return err
		}
	}
}
