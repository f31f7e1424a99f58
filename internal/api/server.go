package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/filter"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/output"
	"github.com/bryanchriswhite/framecompositor/internal/overlay"
	"github.com/bryanchriswhite/framecompositor/internal/playback"
	"github.com/bryanchriswhite/framecompositor/internal/source"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const version = "0.1.0"

// Deps holds the pipeline pieces the API inspects and controls.
// ConfigMgr and Stream may be nil.
type Deps struct {
	Compositor *compositor.Compositor
	Engine     *playback.Engine
	Sources    *source.Router
	Renderer   *filter.Renderer
	Overlays   *overlay.Manager
	ConfigMgr  *config.Manager
	Stream     *output.MJPEGOutput
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	deps     Deps
	upgrader websocket.Upgrader
	started  time.Time

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local tools
			},
		},
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Compositor diagnostics and control
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compositor/stats", s.handleCompositorStats).Methods("GET")
	api.HandleFunc("/compositor/pending", s.handlePending).Methods("GET")
	api.HandleFunc("/compositor/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/compositor/context", s.handleGetContext).Methods("GET")
	api.HandleFunc("/compositor/context", s.handleUpdateContext).Methods("PUT")
	api.HandleFunc("/compositor/events", s.handleEvents)

	// Playback
	api.HandleFunc("/playback", s.handlePlayback).Methods("GET")
	api.HandleFunc("/playback/seek", s.handleSeek).Methods("POST")
	api.HandleFunc("/playback/tracks", s.handleSetPlaybackTracks).Methods("PUT")

	// Tracks
	api.HandleFunc("/tracks", s.handleGetTracks).Methods("GET")
	api.HandleFunc("/tracks", s.handleAddTrack).Methods("POST")
	api.HandleFunc("/tracks/{id:[0-9]+}", s.handleRemoveTrack).Methods("DELETE")

	// Effect chain
	api.HandleFunc("/filter/effects", s.handleGetEffects).Methods("GET")
	api.HandleFunc("/filter/chain", s.handleGetChain).Methods("GET")
	api.HandleFunc("/filter/chain", s.handleSetChain).Methods("PUT")

	// Overlay widgets
	api.HandleFunc("/overlay/types", s.handleWidgetTypes).Methods("GET")
	api.HandleFunc("/overlay/widgets", s.handleGetWidgets).Methods("GET")
	api.HandleFunc("/overlay/widgets", s.handleAddWidget).Methods("POST")
	api.HandleFunc("/overlay/widgets/{id}", s.handleUpdateWidget).Methods("PUT")
	api.HandleFunc("/overlay/widgets/{id}", s.handleRemoveWidget).Methods("DELETE")
	api.HandleFunc("/overlay/enabled", s.handleSetOverlayEnabled).Methods("PUT")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Live output
	if s.deps.Stream != nil {
		s.router.HandleFunc("/stream", s.deps.Stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot", s.deps.Stream.GetSnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.deps.Stream.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/", s.deps.Stream.GetViewerHandler()).Methods("GET")
	}
}

// Handler returns the router wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves the API until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Msgf("Starting server on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for open requests up to ctx
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.ConfigMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.ConfigMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}
