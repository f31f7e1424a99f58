package source

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// TrackInfo describes a registered track
type TrackInfo struct {
	ID      compositor.TrackID `json:"id"`
	Name    string             `json:"name"`
	Running bool               `json:"running"`
}

// Router routes frame lookups to the source registered for each track
type Router struct {
	sources map[compositor.TrackID]Source
	running map[compositor.TrackID]bool
	mu      sync.RWMutex
	started bool
}

// NewRouter creates a new source router
func NewRouter() *Router {
	return &Router{
		sources: make(map[compositor.TrackID]Source),
		running: make(map[compositor.TrackID]bool),
	}
}

// Add registers src under id, replacing and stopping any previous source.
// The source is started right away when the router is running.
func (r *Router) Add(id compositor.TrackID, src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sources[id]; ok && r.running[id] {
		old.Stop()
	}
	r.sources[id] = src
	r.running[id] = false

	if r.started {
		if err := src.Start(); err != nil {
			return fmt.Errorf("failed to start track %d (%s): %w", id, src.Name(), err)
		}
		r.running[id] = true
	}

	logger.WithComponent("source").Info().
		Int32("track_id", int32(id)).
		Str("source", src.Name()).
		Msg("Track registered")
	return nil
}

// Remove stops and unregisters the source for id
func (r *Router) Remove(id compositor.TrackID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src, ok := r.sources[id]; ok {
		if r.running[id] {
			src.Stop()
		}
		delete(r.sources, id)
		delete(r.running, id)
	}
}

// Start starts every registered source. Sources that fail to start are
// logged and left registered; their frames fail until they are replaced.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	log := logger.WithComponent("source")

	startedCount := 0
	for id, src := range r.sources {
		if err := src.Start(); err != nil {
			log.Warn().
				Err(err).
				Int32("track_id", int32(id)).
				Str("source", src.Name()).
				Msg("Source not available")
			continue
		}
		r.running[id] = true
		startedCount++
	}

	if len(r.sources) > 0 && startedCount == 0 {
		return fmt.Errorf("no sources available")
	}

	r.started = true
	log.Info().
		Int("started", startedCount).
		Int("registered", len(r.sources)).
		Msg("Sources started")
	return nil
}

// Stop stops all sources
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, src := range r.sources {
		if r.running[id] {
			src.Stop()
			r.running[id] = false
		}
	}

	r.started = false
	return nil
}

// SourceFrame returns the frame for trackID at the given time
func (r *Router) SourceFrame(trackID compositor.TrackID, at time.Duration) (*pixel.Buffer, error) {
	r.mu.RLock()
	src, ok := r.sources[trackID]
	running := r.running[trackID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("track %d: %w", trackID, ErrUnknownTrack)
	}
	if !running {
		return nil, fmt.Errorf("track %d (%s) is not running", trackID, src.Name())
	}

	buf, err := src.FrameAt(at)
	if err != nil {
		return nil, fmt.Errorf("track %d (%s): %w", trackID, src.Name(), err)
	}
	return buf, nil
}

// Tracks lists the registered tracks ordered by ID
func (r *Router) Tracks() []TrackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tracks := make([]TrackInfo, 0, len(r.sources))
	for id, src := range r.sources {
		tracks = append(tracks, TrackInfo{ID: id, Name: src.Name(), Running: r.running[id]})
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })
	return tracks
}

// HasTrack reports whether a source is registered for id
func (r *Router) HasTrack(id compositor.TrackID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[id]
	return ok
}
