package engine

import (
	"context"
	"sync"
)

// control is the pause/stop state of a running session. Turns consult it at
// every boundary through Wait.
type control struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
	changed chan struct{}
}

func newControl() *control {
	return &control{changed: make(chan struct{})}
}

// broadcastLocked wakes every waiter; caller must hold the lock.
func (c *control) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// pause reports whether the call changed the state.
func (c *control) pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused || c.stopped {
		return false
	}

	c.paused = true
	c.broadcastLocked()

	return true
}

// resume reports whether the call changed the state.
func (c *control) resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return false
	}

	c.paused = false
	c.broadcastLocked()

	return true
}

func (c *control) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.stopped = true
	c.broadcastLocked()
}

func (c *control) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopped
}

func (c *control) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.paused
}

// Wait blocks while the session is paused. It returns false once the session
// is stopped or ctx is done, true when the next turn may start.
func (c *control) Wait(ctx context.Context) bool {
	for {
		c.mu.Lock()
		stopped, paused, changed := c.stopped, c.paused, c.changed
		c.mu.Unlock()

		if stopped {
			return false
		}

		if !paused {
			return ctx.Err() == nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}
