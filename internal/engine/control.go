package engine

import (
	"sync"
	"time"
)

const pauseCheckInterval = 100 * time.Millisecond

// Control manages pause/resume/cancel for the orchestration loop and its
// workers. One instance is shared by all workers.
type Control struct {
	mu       sync.Mutex
	paused   bool
	canceled bool
	resumeCh chan struct{}
}

// NewControl creates a Control in the running state
func NewControl() *Control {
	return &Control{
		resumeCh: make(chan struct{}),
	}
}

// Pause sets the paused state to true
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume clears the paused state and signals waiting goroutines
func (c *Control) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()

	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
}

// Cancel sets the canceled state to true
func (c *Control) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = true
}

// Reset clears the paused and canceled states
func (c *Control) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.canceled = false
}

// IsPaused returns whether the controller is paused
func (c *Control) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// IsCanceled returns whether the controller is canceled
func (c *Control) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// WaitIfPaused blocks until the loop is resumed or canceled. If cancelCh
// is non-nil it also unblocks when that channel closes.
func (c *Control) WaitIfPaused(cancelCh <-chan struct{}) {
	for {
		c.mu.Lock()
		paused := c.paused
		canceled := c.canceled
		c.mu.Unlock()

		if canceled || !paused {
			return
		}

		if cancelCh != nil {
			select {
			case <-c.resumeCh:
				return
			case <-cancelCh:
				return
			case <-time.After(pauseCheckInterval):
			}
		} else {
			select {
			case <-c.resumeCh:
				return
			case <-time.After(pauseCheckInterval):
			}
		}
	}
}
