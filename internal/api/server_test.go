package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/filter"
	"github.com/bryanchriswhite/framecompositor/internal/output"
	"github.com/bryanchriswhite/framecompositor/internal/overlay"
	"github.com/bryanchriswhite/framecompositor/internal/playback"
	"github.com/bryanchriswhite/framecompositor/internal/source"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	url      string
	comp     *compositor.Compositor
	engine   *playback.Engine
	sources  *source.Router
	renderer *filter.Renderer
	overlays *overlay.Manager
	cfg      *config.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	sources := source.NewRouter()
	require.NoError(t, sources.Add(1, source.NewSolid(color.RGBA{R: 255, A: 255}, 8, 8)))
	require.NoError(t, sources.Start())
	t.Cleanup(func() { sources.Stop() })

	overlays := overlay.NewManager()
	renderer, err := filter.New(nil, overlays)
	require.NoError(t, err)

	comp := compositor.New(context.Background(), sources, renderer)
	t.Cleanup(comp.Close)
	comp.UpdateContext(compositor.NewRenderContext(8, 8))

	engine, err := playback.New(comp, playback.Options{FPS: 30, Tracks: []compositor.TrackID{1}})
	require.NoError(t, err)

	stream := output.NewMJPEGOutput(output.Config{Width: 8, Height: 8, FPS: 30})
	require.NoError(t, stream.Start())
	t.Cleanup(func() { stream.Stop() })

	s := NewServer(Deps{
		Compositor: comp,
		Engine:     engine,
		Sources:    sources,
		Renderer:   renderer,
		Overlays:   overlays,
		ConfigMgr:  cfg,
		Stream:     stream,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &harness{
		url:      ts.URL,
		comp:     comp,
		engine:   engine,
		sources:  sources,
		renderer: renderer,
		overlays: overlays,
		cfg:      cfg,
	}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.url+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"healthy"`)

	code, body = h.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, code)

	var status struct {
		Context contextPayload    `json:"context"`
		Chain   []string          `json:"chain"`
		Tracks  []json.RawMessage `json:"tracks"`
		Pending int               `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, contextPayload{Width: 8, Height: 8}, status.Context)
	assert.Empty(t, status.Chain)
	assert.Len(t, status.Tracks, 1)
	assert.Zero(t, status.Pending)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodOptions, h.url+"/api/compositor/context", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUpdateContext(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPut, "/api/compositor/context", contextPayload{Width: 16, Height: 4})
	require.Equal(t, http.StatusOK, code)

	w, ht := h.comp.Dimensions()
	assert.Equal(t, 16, w)
	assert.Equal(t, 4, ht)
	assert.Equal(t, 16, h.cfg.Get().Output.Width)

	code, body := h.do(t, http.MethodGet, "/api/compositor/context", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"width":16,"height":4}`, string(body))

	code, _ = h.do(t, http.MethodPut, "/api/compositor/context", contextPayload{Width: 0, Height: 4})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/compositor/cancel?wait=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "cancelled")

	code, _ = h.do(t, http.MethodPost, "/api/compositor/cancel", nil)
	assert.Equal(t, http.StatusAccepted, code)
}

func TestFilterChain(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPut, "/api/filter/chain", map[string][]string{"chain": {"invert", "blur"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"invert", "blur"}, h.renderer.Chain())
	assert.Equal(t, []string{"invert", "blur"}, h.cfg.Get().Filter.Chain)

	code, _ = h.do(t, http.MethodPut, "/api/filter/chain", map[string][]string{"chain": {"glitter"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, []string{"invert", "blur"}, h.renderer.Chain())

	code, body := h.do(t, http.MethodGet, "/api/filter/effects", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "manga")
}

func TestTracks(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPost, "/api/tracks", config.TrackConfig{ID: 2, Type: config.TrackTypeSolid, Color: "#00ff00"})
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, h.sources.HasTrack(2))
	saved, ok := h.cfg.GetTrack(2)
	require.True(t, ok)
	assert.Equal(t, "#00ff00", saved.Color)

	// New tracks are live right away
	buf, err := h.sources.SourceFrame(2, 0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, buf.At(0, 0))
	buf.Release()

	code, body := h.do(t, http.MethodGet, "/api/tracks", nil)
	require.Equal(t, http.StatusOK, code)
	var tracks []source.TrackInfo
	require.NoError(t, json.Unmarshal(body, &tracks))
	require.Len(t, tracks, 2)
	assert.EqualValues(t, 2, tracks[1].ID)

	code, _ = h.do(t, http.MethodPost, "/api/tracks", config.TrackConfig{ID: 3, Type: "hologram"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(t, http.MethodPost, "/api/tracks", config.TrackConfig{ID: 3, Type: config.TrackTypeSolid, Color: "green"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodDelete, "/api/tracks/2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, h.sources.HasTrack(2))
	_, ok = h.cfg.GetTrack(2)
	assert.False(t, ok)

	code, _ = h.do(t, http.MethodDelete, "/api/tracks/2", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWidgets(t *testing.T) {
	h := newHarness(t)

	widget := map[string]interface{}{"type": "text", "id": "title", "text": "hello"}
	code, _ := h.do(t, http.MethodPost, "/api/overlay/widgets", widget)
	require.Equal(t, http.StatusCreated, code)

	code, _ = h.do(t, http.MethodPost, "/api/overlay/widgets", widget)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = h.do(t, http.MethodPost, "/api/overlay/widgets", map[string]interface{}{"type": "text"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(t, http.MethodPut, "/api/overlay/widgets/title", map[string]interface{}{"x": 12})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"x":12`)

	saved := h.cfg.Get().Overlay.Widgets
	require.Len(t, saved, 1)
	assert.Equal(t, "title", saved[0]["id"])

	code, _ = h.do(t, http.MethodPut, "/api/overlay/enabled", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, code)
	assert.False(t, h.overlays.IsEnabled())
	assert.False(t, h.cfg.Get().Overlay.Enabled)

	code, _ = h.do(t, http.MethodDelete, "/api/overlay/widgets/title", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(t, http.MethodDelete, "/api/overlay/widgets/title", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Empty(t, h.cfg.Get().Overlay.Widgets)
}

func TestSeek(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPost, "/api/playback/seek", map[string]float64{"seconds": 2.5})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2500*time.Millisecond, h.engine.Position())
	assert.EqualValues(t, 1, h.engine.Stats().Seeks)

	code, _ = h.do(t, http.MethodPost, "/api/playback/seek", map[string]float64{"seconds": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPut, "/api/playback/tracks", map[string][]int{"ids": {4, 1}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []compositor.TrackID{4, 1}, h.engine.Tracks())
}

func TestEventsWebsocket(t *testing.T) {
	h := newHarness(t)

	wsURL := "ws" + strings.TrimPrefix(h.url, "http") + "/api/compositor/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan compositor.Event, 1)
	go func() {
		var ev compositor.Event
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
	}()

	// The subscription starts after the handshake, so keep submitting
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-received:
			assert.Equal(t, compositor.OutcomeRendered, ev.Outcome)
			assert.NotZero(t, ev.RequestID)
			return
		case <-ticker.C:
			req := compositor.NewRequest(0, 1)
			require.NoError(t, h.comp.Submit(req))
			go func() {
				if res := req.Result(); res.Buffer != nil {
					res.Buffer.Release()
				}
			}()
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestStreamRoutes(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `<img src="/stream"`)

	code, _ = h.do(t, http.MethodGet, "/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, code, "nothing rendered yet")

	code, body = h.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"server_port":8080`)
}
