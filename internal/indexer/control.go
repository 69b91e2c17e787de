package indexer

import (
	"context"
	"sync"
)

// controller is the cooperative pause/cancel state machine. Pipeline loops
// call wait at batch boundaries; a paused run parks on a channel until
// resumed instead of spinning, cancellation surfaces as ErrCancelled.
type controller struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	resume    chan struct{}
}

func newController() *controller {
	return &controller{resume: make(chan struct{})}
}

// Pause requests suspension at the next batch boundary.
func (c *controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

// Resume releases a paused run.
func (c *controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

// Cancel requests abort at the next batch boundary. A paused run is woken
// so it can observe the cancellation.
func (c *controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

// reset prepares the controller for a new run.
func (c *controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.cancelled = false
	c.resume = make(chan struct{})
}

// Paused reports whether a pause is pending or in effect.
func (c *controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// wait blocks while paused and returns ErrCancelled once cancellation is
// requested. Called only at batch boundaries, so an in-flight batch always
// completes before either state is honored.
func (c *controller) wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return ErrCancelled
		}
		if !c.paused {
			c.mu.Unlock()
			return nil
		}
		gate := c.resume
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}
}
