// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/synology-mcp/internal/ports"
)

// Clock is a fake clock that can be controlled in tests.
//
// In manual mode time only moves on Advance. In auto-advance mode every
// After and Sleep call moves time forward by its duration and returns at
// once, so code that waits on the clock runs to completion instantly while
// still observing the elapsed time it asked for.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	auto    bool
	waiters []waiter
	sleeps  []time.Duration
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// New creates a new fake clock in manual mode.
func New(initial time.Time) *Clock {
	return &Clock{current: initial}
}

// NewAutoAdvance creates a new fake clock in auto-advance mode.
func NewAutoAdvance(initial time.Time) *Clock {
	return &Clock{current: initial, auto: true}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep returns immediately. In auto-advance mode it also moves time
// forward by d.
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	auto := c.auto
	c.mu.Unlock()
	if auto {
		c.Advance(d)
	}
}

// After returns a channel that receives the time after duration d.
// In manual mode the channel fires when Advance() is called past the deadline.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	deadline := c.current.Add(d)
	if c.auto && d > 0 {
		c.current = deadline
		c.fireLocked()
	}

	// If already past deadline, fire immediately
	if !c.current.Before(deadline) {
		ch <- c.current
		c.mu.Unlock()
		return ch
	}

	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	c.mu.Unlock()
	return ch
}

// Advance moves the clock forward by duration d, firing any waiters.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.fireLocked()
	c.mu.Unlock()
}

func (c *Clock) fireLocked() {
	now := c.current
	var remaining []waiter
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			select {
			case w.ch <- now:
			default:
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

// Set sets the clock to a specific time without firing waiters.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Waits returns the durations passed to After and Sleep, in call order.
func (c *Clock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Ensure Clock implements ports.Clock.
var _ ports.Clock = (*Clock)(nil)
