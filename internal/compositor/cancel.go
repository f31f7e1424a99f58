package compositor

import (
	"sync"
	"sync/atomic"
)

// cancelController publishes the "cancel all" pulse. Readers never block.
// The flag stays raised until the worker has swept its backlog, then clears
// and every caller waiting on that sweep is released.
type cancelController struct {
	flag atomic.Bool

	mu      sync.Mutex
	waiters []chan struct{}
	wake    chan struct{}
}

func newCancelController() *cancelController {
	return &cancelController{wake: make(chan struct{}, 1)}
}

// requestCancelAll raises the flag and returns a channel closed once it clears
func (c *cancelController) requestCancelAll() <-chan struct{} {
	done := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, done)
	c.flag.Store(true)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return done
}

func (c *cancelController) isCancelled() bool {
	return c.flag.Load()
}

// reset lowers the flag and releases waiters. Called by the worker only.
func (c *cancelController) reset() {
	c.mu.Lock()
	c.flag.Store(false)
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}
