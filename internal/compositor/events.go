package compositor

import "time"

// Outcome names how a request was resolved
type Outcome string

const (
	OutcomeRendered  Outcome = "rendered"
	OutcomeFallback  Outcome = "fallback"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Event reports the resolution of one request to subscribers
type Event struct {
	RequestID       uint64        `json:"request_id"`
	CompositionTime time.Duration `json:"composition_time"`
	Elapsed         time.Duration `json:"elapsed"`
	Outcome         Outcome       `json:"outcome"`
	Error           string        `json:"error,omitempty"`
	Latency         time.Duration `json:"latency"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Subscribe returns a channel receiving resolution events. Slow subscribers
// miss events rather than stall the worker. The channel is closed when the
// compositor stops, or right away if it already has.
func (c *Compositor) Subscribe() chan Event {
	ch := make(chan Event, 64)
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.listenersClosed {
		close(ch)
		return ch
	}
	c.listeners = append(c.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener
func (c *Compositor) Unsubscribe(ch chan Event) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	for i, listener := range c.listeners {
		if listener == ch {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (c *Compositor) emit(req *Request, elapsed time.Duration, outcome Outcome, err error) {
	c.emitElapsed(req, elapsed, outcome, err, req.submitted)
}

func (c *Compositor) emitElapsed(req *Request, elapsed time.Duration, outcome Outcome, err error, start time.Time) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	if len(c.listeners) == 0 {
		return
	}

	ev := Event{
		RequestID:       req.id,
		CompositionTime: req.CompositionTime,
		Elapsed:         elapsed,
		Outcome:         outcome,
		Latency:         time.Since(start),
		Timestamp:       time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}

	for _, listener := range c.listeners {
		select {
		case listener <- ev:
		default:
			// Skip if channel is full
		}
	}
}
