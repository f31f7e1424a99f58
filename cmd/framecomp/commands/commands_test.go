package commands

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Output:     config.OutputConfig{Width: 8, Height: 8, FPS: 10, Quality: 80, Directory: "render"},
		Compositor: config.CompositorConfig{MaxPending: 16},
		Tracks: []config.TrackConfig{
			{ID: 1, Type: config.TrackTypeSolid, Color: "#ff0000"},
		},
		Filter:     config.FilterConfig{Chain: []string{}},
		Overlay:    config.OverlayConfig{Enabled: true, Widgets: []map[string]interface{}{}},
		ServerPort: 8080,
		LogLevel:   "error",
	}
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 12, frameCount(12, time.Hour, 30))
	assert.Equal(t, 150, frameCount(0, 5*time.Second, 30))
	assert.Equal(t, 12, frameCount(0, 500*time.Millisecond, 25))
	assert.Equal(t, 0, frameCount(0, 0, 30))
}

func TestTrackIDsKeepConfigOrder(t *testing.T) {
	ids := trackIDs([]config.TrackConfig{{ID: 7}, {ID: 2}, {ID: 5}})
	assert.Equal(t, []compositor.TrackID{7, 2, 5}, ids)
}

func TestApplyReconcilesPipeline(t *testing.T) {
	p, err := newPipeline(context.Background(), testConfig())
	require.NoError(t, err)
	defer p.close()

	engine, err := playback.New(p.comp, playback.Options{FPS: 10, Tracks: trackIDs(p.cfg.Tracks)})
	require.NoError(t, err)

	next := testConfig()
	next.Output.Width, next.Output.Height = 16, 4
	next.Tracks = []config.TrackConfig{
		{ID: 1, Type: config.TrackTypeSolid, Color: "#0000ff"},
		{ID: 2, Type: config.TrackTypeSolid, Color: "#00ff00"},
	}
	next.Filter.Chain = []string{"invert"}
	next.Overlay.Enabled = false
	next.Overlay.Widgets = []map[string]interface{}{{"type": "text", "id": "t", "text": "hi"}}

	p.apply(next, engine)

	w, h := p.comp.Dimensions()
	assert.Equal(t, 16, w)
	assert.Equal(t, 4, h)

	buf, err := p.sources.SourceFrame(1, 0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, buf.At(0, 0))
	assert.Equal(t, 16, buf.Width, "tracks rebuilt at the new size")
	buf.Release()

	assert.True(t, p.sources.HasTrack(2))
	assert.Equal(t, []compositor.TrackID{1, 2}, engine.Tracks())
	assert.Equal(t, []string{"invert"}, p.renderer.Chain())
	assert.False(t, p.overlays.IsEnabled())
	_, ok := p.overlays.GetWidget("t")
	assert.True(t, ok)

	// Dropping a track unregisters it
	last := testConfig()
	last.Output = next.Output
	last.Filter = next.Filter
	last.Overlay = next.Overlay
	p.apply(last, engine)

	assert.False(t, p.sources.HasTrack(2))
	assert.Equal(t, []compositor.TrackID{1}, engine.Tracks())

	// An unknown effect keeps the running chain
	broken := testConfig()
	broken.Output = next.Output
	broken.Overlay = next.Overlay
	broken.Filter.Chain = []string{"sparkle"}
	p.apply(broken, engine)
	assert.Equal(t, []string{"invert"}, p.renderer.Chain())
}

func TestRenderCommandWritesSequence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	mgr, err := config.NewManager(cfgPath)
	require.NoError(t, err)
	require.NoError(t, mgr.Update(testConfig()))

	out := filepath.Join(dir, "shots")
	rootCmd.SetArgs([]string{"--config", cfgPath, "render", "--frames", "3", "--out", out})
	require.NoError(t, rootCmd.Execute())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"frame_000000.png", "frame_000001.png", "frame_000002.png"}, names)
}

func TestConfigSetCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	rootCmd.SetArgs([]string{"--config", cfgPath, "config", "set", "output.width", "640"})
	require.NoError(t, rootCmd.Execute())

	mgr, err := config.NewManager(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 640, mgr.Get().Output.Width)

	rootCmd.SetArgs([]string{"--config", cfgPath, "config", "set", "output.width", "wide"})
	assert.Error(t, rootCmd.Execute())
}

func TestTracksCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	rootCmd.SetArgs([]string{"--config", cfgPath, "tracks", "add", "--id", "4", "--type", "solid", "--color", "#112233"})
	require.NoError(t, rootCmd.Execute())

	mgr, err := config.NewManager(cfgPath)
	require.NoError(t, err)
	track, ok := mgr.GetTrack(4)
	require.True(t, ok)
	assert.Equal(t, "#112233", track.Color)

	rootCmd.SetArgs([]string{"--config", cfgPath, "tracks", "remove", "4"})
	require.NoError(t, rootCmd.Execute())
	require.NoError(t, func() error { _, err := mgr.Reload(); return err }())
	_, ok = mgr.GetTrack(4)
	assert.False(t, ok)

	rootCmd.SetArgs([]string{"--config", cfgPath, "tracks", "remove", "4"})
	assert.Error(t, rootCmd.Execute())
}
