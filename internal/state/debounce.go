package state

import (
	"sync"
	"time"

	"github.com/vmorsell/headsetd/internal/clock"
)

// Debouncer runs f once a quiet period has passed since the last Trigger.
// At most one run is pending at any time.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration
	f     func()

	mu    sync.Mutex
	gen   uint64
	timer clock.Timer
}

func NewDebouncer(c clock.Clock, delay time.Duration, f func()) *Debouncer {
	return &Debouncer{clock: c, delay: delay, f: f}
}

// Trigger restarts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.f()
}

// Flush runs a pending f immediately. It reports whether one was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	d.mu.Unlock()

	d.f()
	return true
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
