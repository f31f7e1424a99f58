package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/playback"
	"github.com/gorilla/websocket"
)

// cancelWaitLimit bounds how long a cancel request waits for the sweep
const cancelWaitLimit = 5 * time.Second

type contextPayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type statusResponse struct {
	Context    contextPayload   `json:"context"`
	StartTime  *time.Duration   `json:"start_time,omitempty"`
	Compositor compositor.Stats `json:"compositor"`
	Playback   *playback.Stats  `json:"playback,omitempty"`
	Pending    int              `json:"pending"`
	Chain      []string         `json:"chain"`
	Tracks     interface{}      `json:"tracks,omitempty"`
	Stream     interface{}      `json:"stream,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	comp := s.deps.Compositor
	width, height := comp.Dimensions()

	resp := statusResponse{
		Context:    contextPayload{Width: width, Height: height},
		Compositor: comp.Stats(),
		Pending:    len(comp.Pending()),
		Chain:      []string{},
	}
	if start, ok := comp.StartTime(); ok {
		resp.StartTime = &start
	}
	if s.deps.Engine != nil {
		stats := s.deps.Engine.Stats()
		resp.Playback = &stats
	}
	if s.deps.Renderer != nil {
		resp.Chain = s.deps.Renderer.Chain()
	}
	if s.deps.Sources != nil {
		resp.Tracks = s.deps.Sources.Tracks()
	}
	if s.deps.Stream != nil {
		resp.Stream = s.deps.Stream.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompositorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Compositor.Stats())
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Compositor.Pending())
}

// handleCancel raises the cancel-all pulse. With ?wait=true it answers once
// the sweep is over.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	done := s.deps.Compositor.CancelAll()
	logger.WithComponent("api").Info().Msg("Cancel-all requested")

	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
		return
	}

	select {
	case <-done:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case <-r.Context().Done():
	case <-time.After(cancelWaitLimit):
		http.Error(w, "cancellation still in progress", http.StatusGatewayTimeout)
	}
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	width, height := s.deps.Compositor.Dimensions()
	writeJSON(w, http.StatusOK, contextPayload{Width: width, Height: height})
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var req contextPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		http.Error(w, "width and height must be positive", http.StatusBadRequest)
		return
	}

	s.deps.Compositor.UpdateContext(compositor.NewRenderContext(req.Width, req.Height))

	if s.deps.ConfigMgr != nil {
		if err := s.deps.ConfigMgr.SetOutputSize(req.Width, req.Height); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, req)
}

// handleEvents streams request resolutions over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events := s.deps.Compositor.Subscribe()
	defer s.deps.Compositor.Unsubscribe(events)

	// The client never sends anything; reading notices when it goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "compositor stopped"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		http.Error(w, "playback not available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  s.deps.Engine.Stats(),
		"tracks": s.deps.Engine.Tracks(),
	})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		http.Error(w, "playback not available", http.StatusNotFound)
		return
	}

	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Seconds < 0 {
		http.Error(w, "position must not be negative", http.StatusBadRequest)
		return
	}

	to := time.Duration(req.Seconds * float64(time.Second))
	if err := s.deps.Engine.Seek(r.Context(), to); err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"position": s.deps.Engine.Position(),
	})
}

func (s *Server) handleSetPlaybackTracks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		http.Error(w, "playback not available", http.StatusNotFound)
		return
	}

	var req struct {
		IDs []compositor.TrackID `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// An empty list is allowed; every frame then fails with a missing track
	s.deps.Engine.SetTracks(req.IDs)
	writeSuccess(w)
}
