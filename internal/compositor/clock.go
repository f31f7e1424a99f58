package compositor

import "time"

// frameClock anchors the renderer timeline at the first request that is
// resolved with a frame. Only the worker goroutine touches it.
type frameClock struct {
	epoch   time.Duration
	started bool
}

// peek returns t relative to the epoch without changing the clock. Before
// the clock has started every time is elapsed zero and first is true.
// Out-of-order timestamps pass through unclamped.
func (c *frameClock) peek(t time.Duration) (elapsed time.Duration, first bool) {
	if !c.started {
		return 0, true
	}
	return t - c.epoch, false
}

// start fixes the epoch at t. Later calls are ignored.
func (c *frameClock) start(t time.Duration) {
	if c.started {
		return
	}
	c.epoch = t
	c.started = true
}
