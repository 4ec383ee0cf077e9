/*
Package scheduler provides cancellable waits and a generic polling loop on
top of an injectable clock. Everything time-driven in the hub (oracle
fan-out, chain sweeps) runs on a Poller so that tests can drive rounds with
a fake clock instead of sleeping.
*/
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source used across the hub. The real implementation is
// clockwork.NewRealClock; tests inject a fake one.
type Clock = clockwork.Clock

// Sleep waits for d on the given clock or until ctx is cancelled, in which
// case it returns the ctx error. Non-positive d returns immediately.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
