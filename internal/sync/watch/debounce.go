// Package watch coalesces bursts of filesystem change events into a single
// trigger, so a cycle of dozens of edits (an IDE save, a git checkout, a large
// unzip) runs one sync pass instead of one per event.
package watch

import (
	"context"
	"time"
)

// DefaultQuietPeriod is how long the local tree must be silent before a
// debounced trigger fires.
const DefaultQuietPeriod = 2 * time.Second

// Debouncer coalesces a stream of Feed calls into trigger signals on C.
// Not goroutine-safe for concurrent Feed calls from multiple goroutines;
// callers funnel events through a single reader loop.
type Debouncer struct {
	quiet   time.Duration
	timer   *time.Timer
	trigger chan struct{}
}

// NewDebouncer creates a Debouncer that fires quiet after the last Feed.
// A zero quiet uses DefaultQuietPeriod.
func NewDebouncer(quiet time.Duration) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}

	timer := time.NewTimer(quiet)
	if !timer.Stop() {
		<-timer.C
	}

	return &Debouncer{
		quiet:   quiet,
		timer:   timer,
		trigger: make(chan struct{}, 1),
	}
}

// Feed registers an event, resetting the quiet timer.
func (d *Debouncer) Feed() {
	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}

	d.timer.Reset(d.quiet)
}

// Run drains the internal timer and forwards a trigger signal each time the
// quiet period elapses with no intervening Feed call. Blocks until ctx is
// cancelled; intended to run in its own goroutine.
func (d *Debouncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.timer.C:
			select {
			case d.trigger <- struct{}{}:
			default:
			}
		}
	}
}

// C returns the channel that receives a value each time the quiet period
// elapses after one or more Feed calls.
func (d *Debouncer) C() <-chan struct{} {
	return d.trigger
}
