// Package typing decides when the local user is typing and tracks which
// remote users are. Nothing here is safe for concurrent use; callers own the
// values from a single goroutine.
package typing

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultIdle     = 3 * time.Second
	DefaultDebounce = time.Second
)

type Signal int

const (
	SignalNone Signal = iota
	SignalStart
	SignalStop
)

func (s Signal) String() string {
	switch s {
	case SignalStart:
		return "start"
	case SignalStop:
		return "stop"
	}
	return "none"
}

// Coordinator turns local input deltas into start/stop signals.
// A session opens with the first start and closes with exactly one stop.
type Coordinator struct {
	idle    time.Duration
	limiter *rate.Limiter

	active    bool
	lastInput time.Time
}

// NewCoordinator allows at most one start per debounce interval and closes
// a session after idle without input.
func NewCoordinator(idle, debounce time.Duration) *Coordinator {
	if idle <= 0 {
		idle = DefaultIdle
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if debounce > 0 {
		lim = rate.NewLimiter(rate.Every(debounce), 1)
	}
	return &Coordinator{idle: idle, limiter: lim}
}

func (c *Coordinator) Active() bool { return c.active }

// Input reports the signal to broadcast after the input went from prev to next.
func (c *Coordinator) Input(prev, next string, now time.Time) Signal {
	if next == "" {
		return c.stop()
	}
	c.lastInput = now
	if !c.active {
		if !c.limiter.AllowN(now, 1) {
			return SignalNone
		}
		c.active = true
		return SignalStart
	}
	// heartbeat while the text keeps growing
	if len(next) > len(prev) && c.limiter.AllowN(now, 1) {
		return SignalStart
	}
	return SignalNone
}

// Submit closes the session when a message is sent.
func (c *Coordinator) Submit(now time.Time) Signal {
	c.lastInput = now
	return c.stop()
}

// Expire closes the session when no input arrived for the idle window.
func (c *Coordinator) Expire(now time.Time) Signal {
	if !c.active || now.Sub(c.lastInput) < c.idle {
		return SignalNone
	}
	return c.stop()
}

// Deadline is when Expire will close the current session.
func (c *Coordinator) Deadline() (time.Time, bool) {
	if !c.active {
		return time.Time{}, false
	}
	return c.lastInput.Add(c.idle), true
}

// Reset drops the session without emitting a stop.
func (c *Coordinator) Reset() {
	c.active = false
	c.lastInput = time.Time{}
}

func (c *Coordinator) stop() Signal {
	if !c.active {
		return SignalNone
	}
	c.active = false
	return SignalStop
}
