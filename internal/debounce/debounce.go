// Package debounce provides a timer-based coalescing primitive for rapid
// repeated events. A burst of calls fires the callback once after a quiet
// period (the quantum), or forcibly once the max-wait bound elapses under
// continuous activity.
package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid successive Call invocations into a single
// callback run.
//
// All methods are safe for concurrent use. The callback is never invoked
// concurrently with itself from the debouncer.
type Debouncer struct {
	mu       sync.Mutex
	quantum  time.Duration
	maxWait  time.Duration // 0 disables the upper bound
	timer    *time.Timer
	pending  bool
	first    time.Time // time of the first call of the current burst
	seq      uint64    // invalidates stale timer callbacks
	callback func()
}

// New creates a debouncer firing callback after quantum of quiet, or maxWait
// after the first call of a burst, whichever comes first. A zero maxWait
// means no upper bound.
func New(quantum, maxWait time.Duration, callback func()) *Debouncer {
	return &Debouncer{
		quantum:  quantum,
		maxWait:  maxWait,
		callback: callback,
	}
}

// Call schedules the callback. Repeated calls within the quantum push the
// deadline out, up to maxWait from the burst's first call.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if !d.pending {
		d.first = now
	}
	d.pending = true
	d.seq++
	currentSeq := d.seq

	delay := d.quantum
	if d.maxWait > 0 {
		remaining := d.maxWait - now.Sub(d.first)
		if remaining < delay {
			delay = remaining
		}
		if delay < 0 {
			delay = 0
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.pending && d.seq == currentSeq && d.callback != nil {
			d.pending = false
			d.mu.Unlock()
			d.callback()
			return
		}
		d.mu.Unlock()
	})
}

// Flush runs the callback synchronously if a call is pending, canceling the
// scheduled timer. Callers use this before a save or teardown so no pending
// work is lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	if d.pending && d.callback != nil {
		d.pending = false
		d.mu.Unlock()
		d.callback()
		return
	}
	d.mu.Unlock()
}

// Cancel drops any pending call without running it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

// IsPending reports whether a call is waiting to fire.
func (d *Debouncer) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
