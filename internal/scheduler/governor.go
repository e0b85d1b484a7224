// Package scheduler provides admission control for the reply pipeline.
package scheduler

import "sync/atomic"

// Governor caps the number of concurrently running reply jobs. Acquisition is
// non-blocking: callers that cannot get a slot drop the job (backpressure)
// instead of queuing behind it.
type Governor struct {
	max     int64
	active  atomic.Int64
	dropped atomic.Int64
}

// NewGovernor creates a governor admitting at most max concurrent jobs.
func NewGovernor(max int) *Governor {
	if max <= 0 {
		max = 50
	}
	return &Governor{max: int64(max)}
}

// TryAcquire claims a slot if one is free. Every successful acquire must be
// paired with exactly one Release on every exit path of the job it admits.
func (g *Governor) TryAcquire() bool {
	for {
		n := g.active.Load()
		if n >= g.max {
			g.dropped.Add(1)
			return false
		}
		if g.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release frees a slot claimed by TryAcquire.
func (g *Governor) Release() {
	if g.active.Add(-1) < 0 {
		// Unbalanced release is a programming error; clamp instead of going negative.
		g.active.Store(0)
	}
}

// Active returns the number of jobs currently admitted.
func (g *Governor) Active() int { return int(g.active.Load()) }

// Dropped returns how many acquisitions were rejected at capacity.
func (g *Governor) Dropped() int64 { return g.dropped.Load() }
