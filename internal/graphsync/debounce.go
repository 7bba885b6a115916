package graphsync

import (
	"sync"
	"time"
)

// debounced coalesces bursts of triggers into one callback after a quiet
// period. Every collection publisher and the layout scheduler share this one
// utility instead of carrying their own timer bookkeeping.
type debounced struct {
	mu      sync.Mutex
	quiet   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

func newDebounced(quiet time.Duration, fn func()) *debounced {
	return &debounced{quiet: quiet, fn: fn}
}

// Trigger (re)arms the timer. The callback fires on a timer goroutine once
// no further trigger arrives within the quiet period.
func (d *debounced) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.fire)
}

func (d *debounced) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Stop cancels any pending fire and ignores further triggers. Used on
// teardown so no timer outlives its engine.
func (d *debounced) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
