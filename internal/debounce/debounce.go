// Package debounce collapses bursts of triggers into a single delayed call.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the delay between the first trigger of a burst and the call.
const DefaultWindow = 2000 * time.Millisecond

// Debouncer calls fn once per burst of Trigger calls. The first trigger arms
// a single-shot timer; triggers while it is pending are absorbed. The pending
// flag clears only after fn returns, so triggers raised by fn itself are also
// absorbed.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	pending bool
	stopped bool
	timer   *time.Timer
}

// New creates a Debouncer. A non-positive window uses DefaultWindow.
func New(window time.Duration, fn func()) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window, fn: fn}
}

// Trigger schedules fn unless a call is already pending. It reports whether
// this trigger armed the timer.
func (d *Debouncer) Trigger() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending || d.stopped {
		return false
	}
	d.pending = true
	d.timer = time.AfterFunc(d.window, d.fire)
	return true
}

// Pending reports whether a call is scheduled or running.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels a scheduled call and rejects further triggers. A call that is
// already running is not interrupted.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.pending = false
	}
}

func (d *Debouncer) fire() {
	defer func() {
		d.mu.Lock()
		d.pending = false
		d.mu.Unlock()
	}()
	d.fn()
}
