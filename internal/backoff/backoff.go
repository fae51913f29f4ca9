// Package backoff tracks consecutive delivery failures per
// (tenant, source) and gates retries for noisy or broken sources.
package backoff

import (
	"sync"
	"time"
)

// State describes the health of one (tenant, source) pair.
type State string

// Source states.
const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StatePaused   State = "paused"
)

// Status is a read-only view of one tracked source.
type Status struct {
	State       State
	Streak      int
	PausedUntil time.Time
}

// Controller is an in-memory failure streak tracker. State is rebuilt
// from zero on restart; the delivery ledger, not this state, is the
// correctness backstop.
type Controller struct {
	mu       sync.Mutex
	maxFails int
	pause    time.Duration
	entries  map[string]*entry
}

type entry struct {
	streak      int
	pausedUntil time.Time
}

// New creates a Controller that pauses a source for the given duration
// once its streak reaches maxFails.
func New(maxFails int, pause time.Duration) *Controller {
	return &Controller{
		maxFails: maxFails,
		pause:    pause,
		entries:  make(map[string]*entry),
	}
}

// Allow reports whether an attempt against the source may proceed.
// An expired pause resets the source to healthy.
func (c *Controller) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return true
	}
	if e.pausedUntil.IsZero() {
		return true
	}
	if now.Before(e.pausedUntil) {
		return false
	}
	delete(c.entries, key)
	return true
}

// Success resets the source to healthy.
func (c *Controller) Success(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Failure increments the source's streak and pauses it once the streak
// reaches the configured threshold.
func (c *Controller) Failure(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.streak++
	if e.streak >= c.maxFails {
		e.pausedUntil = now.Add(c.pause)
	}
}

// StatusOf returns the current state of one source.
func (c *Controller) StatusOf(key string, now time.Time) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(key, now)
}

// Snapshot returns the state of every tracked source whose key has the
// given prefix. Untracked sources are healthy and not reported.
func (c *Controller) Snapshot(prefix string, now time.Time) map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Status)
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out[key] = c.statusLocked(key, now)
		}
	}
	return out
}

func (c *Controller) statusLocked(key string, now time.Time) Status {
	e, ok := c.entries[key]
	if !ok {
		return Status{State: StateHealthy}
	}
	if !e.pausedUntil.IsZero() && now.Before(e.pausedUntil) {
		return Status{State: StatePaused, Streak: e.streak, PausedUntil: e.pausedUntil}
	}
	if !e.pausedUntil.IsZero() {
		// Pause elapsed but no attempt has been made yet.
		return Status{State: StateHealthy}
	}
	return Status{State: StateDegraded, Streak: e.streak}
}
