package compositor

import "github.com/bryanchriswhite/framecompositor/internal/logger"

// run is the single worker. It drains the queue in order and clears a
// cancellation once nothing queued before or during the sweep is left.
func (c *Compositor) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case req := <-c.queue:
			c.process(req)
		case <-c.cancelAll.wake:
		}

		if c.cancelAll.isCancelled() && len(c.queue) == 0 {
			c.cancelAll.reset()
			logger.WithComponent("compositor").Debug().Msg("Cancellation sweep complete")
		}
	}
}

// shutdown refuses new submissions and resolves whatever is still queued
func (c *Compositor) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	drained := 0
	for {
		select {
		case req := <-c.queue:
			if req.finishWithError(ErrClosed) {
				c.emit(req, 0, OutcomeFailed, ErrClosed)
			}
			drained++
		default:
			// Anyone still waiting on a sweep would otherwise hang forever
			c.cancelAll.reset()

			c.listenersMu.Lock()
			for _, ch := range c.listeners {
				close(ch)
			}
			c.listeners = nil
			c.listenersClosed = true
			c.listenersMu.Unlock()

			logger.WithComponent("compositor").Info().
				Int("drained", drained).
				Msg("Compositor stopped")
			return
		}
	}
}
