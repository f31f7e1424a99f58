package commands

import (
	"context"
	"fmt"
	"reflect"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/filter"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/overlay"
	"github.com/bryanchriswhite/framecompositor/internal/playback"
	"github.com/bryanchriswhite/framecompositor/internal/source"
)

// pipeline is everything between the source tracks and the outputs
type pipeline struct {
	cfg      *config.Config
	sources  *source.Router
	overlays *overlay.Manager
	renderer *filter.Renderer
	comp     *compositor.Compositor
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	sources, err := source.RouterFromConfig(cfg.Tracks, cfg.Output.Width, cfg.Output.Height)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracks: %w", err)
	}
	if err := sources.Start(); err != nil {
		return nil, fmt.Errorf("failed to start tracks: %w", err)
	}

	overlays := overlay.NewManager()
	overlays.SetEnabled(cfg.Overlay.Enabled)
	overlays.LoadFromConfig(cfg.Overlay.Widgets)

	renderer, err := filter.New(cfg.Filter.Chain, overlays)
	if err != nil {
		sources.Stop()
		return nil, fmt.Errorf("failed to set up effect chain: %w", err)
	}

	comp := compositor.New(ctx, sources, renderer, compositor.WithMaxPending(cfg.Compositor.MaxPending))
	comp.UpdateContext(compositor.NewRenderContext(cfg.Output.Width, cfg.Output.Height))

	return &pipeline{
		cfg:      cfg,
		sources:  sources,
		overlays: overlays,
		renderer: renderer,
		comp:     comp,
	}, nil
}

func (p *pipeline) close() {
	p.comp.Close()
	p.sources.Stop()
}

// trackIDs lists the configured tracks in config order; the first one is
// the one composited
func trackIDs(tracks []config.TrackConfig) []compositor.TrackID {
	ids := make([]compositor.TrackID, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, compositor.TrackID(t.ID))
	}
	return ids
}

// apply brings the running pipeline in line with a reloaded config
func (p *pipeline) apply(next *config.Config, engine *playback.Engine) {
	log := logger.WithComponent("config")
	prev := p.cfg
	p.cfg = next

	applyLogLevel(next.LogLevel)

	resized := prev.Output.Width != next.Output.Width || prev.Output.Height != next.Output.Height
	if resized {
		if err := engine.Resize(next.Output.Width, next.Output.Height); err != nil {
			log.Warn().Err(err).Msg("Ignoring output size")
		}
	}

	p.applyTracks(prev.Tracks, next.Tracks, resized)
	engine.SetTracks(trackIDs(next.Tracks))

	if !reflect.DeepEqual(prev.Filter.Chain, next.Filter.Chain) {
		if err := p.renderer.SetChain(next.Filter.Chain); err != nil {
			log.Warn().Err(err).Msg("Ignoring effect chain")
		}
	}

	if prev.Overlay.Enabled != next.Overlay.Enabled {
		p.overlays.SetEnabled(next.Overlay.Enabled)
	}
	if !reflect.DeepEqual(prev.Overlay.Widgets, next.Overlay.Widgets) {
		p.overlays.Clear()
		p.overlays.LoadFromConfig(next.Overlay.Widgets)
	}

	if prev.Output.FPS != next.Output.FPS ||
		prev.ServerPort != next.ServerPort ||
		prev.Compositor.MaxPending != next.Compositor.MaxPending {
		log.Warn().Msg("Frame rate, port and queue size changes take effect after a restart")
	}
}

// applyTracks re-creates changed tracks and drops removed ones. All tracks
// are rebuilt when the output size changed.
func (p *pipeline) applyTracks(prev, next []config.TrackConfig, rebuild bool) {
	log := logger.WithComponent("config")

	old := make(map[int32]config.TrackConfig, len(prev))
	for _, t := range prev {
		old[t.ID] = t
	}

	for _, t := range next {
		if o, ok := old[t.ID]; ok && o == t && !rebuild {
			delete(old, t.ID)
			continue
		}
		delete(old, t.ID)

		src, err := source.FromConfig(t, p.cfg.Output.Width, p.cfg.Output.Height)
		if err != nil {
			log.Warn().Err(err).Int32("track_id", t.ID).Msg("Ignoring track")
			continue
		}
		if err := p.sources.Add(compositor.TrackID(t.ID), src); err != nil {
			log.Warn().Err(err).Int32("track_id", t.ID).Msg("Track not available")
		}
	}

	for id := range old {
		p.sources.Remove(compositor.TrackID(id))
		log.Info().Int32("track_id", id).Msg("Track removed")
	}
}
