package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/filter"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/source"
	"github.com/gorilla/mux"
)

func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sources == nil {
		writeJSON(w, http.StatusOK, []source.TrackInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sources.Tracks())
}

func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sources == nil {
		http.Error(w, "tracks not available", http.StatusNotFound)
		return
	}

	var track config.TrackConfig
	if err := json.NewDecoder(r.Body).Decode(&track); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !track.Type.Valid() {
		http.Error(w, "unknown track type: "+string(track.Type), http.StatusBadRequest)
		return
	}

	width, height := s.deps.Compositor.Dimensions()
	src, err := source.FromConfig(track, width, height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Persist first so an invalid track never reaches the router
	if s.deps.ConfigMgr != nil {
		if err := s.deps.ConfigMgr.AddTrack(track); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := s.deps.Sources.Add(compositor.TrackID(track.ID), src); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.WithComponent("api").Info().
		Int32("track_id", track.ID).
		Str("type", string(track.Type)).
		Msg("Track added")
	writeJSON(w, http.StatusCreated, track)
}

func (s *Server) handleRemoveTrack(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sources == nil {
		http.Error(w, "tracks not available", http.StatusNotFound)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, "invalid track id", http.StatusBadRequest)
		return
	}
	if !s.deps.Sources.HasTrack(compositor.TrackID(id)) {
		http.Error(w, "track not found", http.StatusNotFound)
		return
	}

	s.deps.Sources.Remove(compositor.TrackID(id))
	if s.deps.ConfigMgr != nil {
		if err := s.deps.ConfigMgr.RemoveTrack(int32(id)); err != nil {
			logger.WithComponent("api").Warn().Err(err).Int64("track_id", id).Msg("Track was not in the config")
		}
	}
	writeSuccess(w)
}

func (s *Server) handleGetEffects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, filter.Effects())
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		writeJSON(w, http.StatusOK, map[string][]string{"chain": {}})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"chain": s.deps.Renderer.Chain()})
}

func (s *Server) handleSetChain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		http.Error(w, "renderer not available", http.StatusNotFound)
		return
	}

	var req struct {
		Chain []string `json:"chain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Renderer.SetChain(req.Chain); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.deps.ConfigMgr != nil {
		if err := s.deps.ConfigMgr.SetFilterChain(req.Chain); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"chain": s.deps.Renderer.Chain()})
}

func (s *Server) handleWidgetTypes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Overlays == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Overlays.GetAvailableWidgetTypes())
}

func (s *Server) handleGetWidgets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Overlays == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false, "widgets": []interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": s.deps.Overlays.IsEnabled(),
		"widgets": s.deps.Overlays.ExportConfig(),
	})
}

func (s *Server) handleAddWidget(w http.ResponseWriter, r *http.Request) {
	if s.deps.Overlays == nil {
		http.Error(w, "overlay not available", http.StatusNotFound)
		return
	}

	var cfg map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	widgetType, _ := cfg["type"].(string)
	id, _ := cfg["id"].(string)
	if widgetType == "" || id == "" {
		http.Error(w, "widget type and id are required", http.StatusBadRequest)
		return
	}

	widget, err := s.deps.Overlays.CreateWidget(widgetType, id, cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Overlays.AddWidget(widget); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.persistWidgets()
	writeJSON(w, http.StatusCreated, widget.GetConfig())
}

func (s *Server) handleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	if s.deps.Overlays == nil {
		http.Error(w, "overlay not available", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]
	widget, ok := s.deps.Overlays.GetWidget(id)
	if !ok {
		http.Error(w, "widget not found", http.StatusNotFound)
		return
	}

	var cfg map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Overlays.UpdateWidget(id, cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.persistWidgets()
	writeJSON(w, http.StatusOK, widget.GetConfig())
}

func (s *Server) handleRemoveWidget(w http.ResponseWriter, r *http.Request) {
	if s.deps.Overlays == nil {
		http.Error(w, "overlay not available", http.StatusNotFound)
		return
	}

	if err := s.deps.Overlays.RemoveWidget(mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.persistWidgets()
	writeSuccess(w)
}

func (s *Server) handleSetOverlayEnabled(w http.ResponseWriter, r *http.Request) {
	if s.deps.Overlays == nil {
		http.Error(w, "overlay not available", http.StatusNotFound)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.deps.Overlays.SetEnabled(req.Enabled)
	if s.deps.ConfigMgr != nil {
		if err := s.deps.ConfigMgr.SetOverlayEnabled(req.Enabled); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeSuccess(w)
}

// persistWidgets writes the current widget list back to the config file
func (s *Server) persistWidgets() {
	if s.deps.ConfigMgr == nil {
		return
	}
	if err := s.deps.ConfigMgr.SetWidgets(s.deps.Overlays.ExportConfig()); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to save widgets")
	}
}
