// Package backoff implements the exponential delay generator that paces
// stream restart attempts. RunAfterDelay schedules a deferred task on a
// worker queue and returns immediately rather than blocking on
// time.Sleep; the delay sequence is decoupled from executing any
// particular attempt.
package backoff

import (
	"sync"
	"time"

	"github.com/lumen-data/firestream/internal/queue"
)

// Config holds the backoff tunables.
type Config struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
}

// DefaultConfig is 1s initial delay, 1.5x growth factor, 60s cap.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		Factor:       1.5,
		MaxDelay:     60 * time.Second,
	}
}

// Controller generates the growing delay between restart attempts. It is
// not shared across streams; each stream owns exactly one.
type Controller struct {
	cfg Config
	q   *queue.Queue

	mu           sync.Mutex
	currentDelay time.Duration
	pending      *queue.CancelableTask
}

// New creates a backoff controller bound to q, the worker queue its
// scheduled tasks (and therefore all delegate callbacks they trigger) must
// run on.
func New(q *queue.Queue, cfg Config) *Controller {
	return &Controller{cfg: cfg, q: q}
}

// RunAfterDelay schedules task to run on the worker queue after the current
// delay has elapsed, then grows the delay for the next call. The first call
// after construction or Reset fires with zero delay; every call after that
// experiences exponential growth.
func (c *Controller) RunAfterDelay(task func()) {
	c.mu.Lock()
	delay := c.currentDelay
	c.pending.Cancel()
	c.pending = c.q.DispatchAfter(delay, task)

	next := time.Duration(float64(c.currentDelay) * c.cfg.Factor)
	if next < c.cfg.InitialDelay {
		next = c.cfg.InitialDelay
	}
	if next > c.cfg.MaxDelay {
		next = c.cfg.MaxDelay
	}
	c.currentDelay = next
	c.mu.Unlock()
}

// Reset cancels any pending task and sets the delay back to zero, so the
// next RunAfterDelay call fires immediately. Called on clean close and on
// the first successful inbound frame.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Cancel()
	c.pending = nil
	c.currentDelay = 0
}

// ResetToMax saturates the delay to MaxDelay, used to throttle aggressively
// after a ResourceExhausted signal.
func (c *Controller) ResetToMax() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentDelay = c.cfg.MaxDelay
}

// Cancel cancels any pending scheduled task without altering the current
// delay value.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Cancel()
	c.pending = nil
}

// CurrentDelay returns the delay the next RunAfterDelay call will wait
// before firing.
func (c *Controller) CurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}
