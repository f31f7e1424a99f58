package compositor

import (
	"sync"
	"time"
)

// PendingInfo is a diagnostic view of one in-flight request
type PendingInfo struct {
	ID              uint64        `json:"id"`
	TrackIDs        []TrackID     `json:"track_ids"`
	CompositionTime time.Duration `json:"composition_time"`
	Age             time.Duration `json:"age"`
}

// pendingRequests records in-flight requests, most recent first. It plays no
// part in ordering, which the single worker already guarantees. The lock only
// exists so diagnostics can snapshot it from other goroutines.
type pendingRequests struct {
	mu       sync.Mutex
	requests []*Request
}

func (p *pendingRequests) pushFront(r *Request) {
	p.mu.Lock()
	p.requests = append(p.requests, nil)
	copy(p.requests[1:], p.requests)
	p.requests[0] = r
	p.mu.Unlock()
}

func (p *pendingRequests) remove(r *Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, req := range p.requests {
		if req == r {
			p.requests = append(p.requests[:i], p.requests[i+1:]...)
			return
		}
	}
}

func (p *pendingRequests) snapshot() []PendingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := make([]PendingInfo, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, PendingInfo{
			ID:              r.id,
			TrackIDs:        r.TrackIDs,
			CompositionTime: r.CompositionTime,
			Age:             now.Sub(r.submitted),
		})
	}
	return out
}
