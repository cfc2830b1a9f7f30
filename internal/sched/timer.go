package sched

import (
	"time"

	"github.com/benbjohnson/clock"
)

// frameTimer is a one-shot timer programmed with absolute deadlines. It
// drives the window state machine of one CPU.
//
// start and stop are called under the run queue lock. The underlying
// clock fires the handler without the lock; the handler re-acquires it
// and validates the generation it was armed with, so a stop or restart
// invalidates any callback still in flight.
type frameTimer struct {
	c    clock.Clock
	fire func(gen uint64)

	timer    *clock.Timer
	gen      uint64
	running  bool
	deadline time.Time
}

// start (re)programs the timer for the absolute deadline t.
func (ft *frameTimer) start(t time.Time) {
	ft.gen++
	gen := ft.gen
	if ft.timer != nil {
		ft.timer.Stop()
	}
	ft.running = true
	ft.deadline = t
	delay := t.Sub(ft.c.Now())
	if delay < 0 {
		delay = 0
	}
	ft.timer = ft.c.AfterFunc(delay, func() {
		ft.fire(gen)
	})
}

// stop cancels the timer. Once the run queue lock is dropped, a stale
// callback may still run, but valid() will reject it.
func (ft *frameTimer) stop() {
	ft.gen++
	ft.running = false
	if ft.timer != nil {
		ft.timer.Stop()
		ft.timer = nil
	}
}

// valid reports whether a firing callback still matches the armed
// generation. Checked under the run queue lock before any state change.
func (ft *frameTimer) valid(gen uint64) bool {
	return ft.running && gen == ft.gen
}

// isRunning reports whether the timer is armed.
func (ft *frameTimer) isRunning() bool {
	return ft.running
}
