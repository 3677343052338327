// Package gate serializes access to the external tools. The audio
// subsystem they share does not tolerate two of them running at once.
package gate

import (
	"sync/atomic"
	"time"

	"github.com/vmorsell/headsetd/internal/clock"
)

// Gate is a non-blocking mutual exclusion flag. The zero value is open.
type Gate struct {
	busy atomic.Bool
}

// TryEnter takes the gate if it is free.
func (g *Gate) TryEnter() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Exit releases the gate.
func (g *Gate) Exit() {
	g.busy.Store(false)
}

// Busy reports whether the gate is held.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// RunOrSkip runs f while holding the gate. When the gate is held it does
// nothing and returns false.
func (g *Gate) RunOrSkip(f func()) bool {
	if !g.TryEnter() {
		return false
	}
	defer g.Exit()
	f()
	return true
}

// RunOrRetry runs f while holding the gate. When the gate is held it
// schedules retry after delay and returns false.
func (g *Gate) RunOrRetry(c clock.Clock, delay time.Duration, f func(), retry func()) bool {
	if !g.TryEnter() {
		c.AfterFunc(delay, retry)
		return false
	}
	defer g.Exit()
	f()
	return true
}
