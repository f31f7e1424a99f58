package output

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/pixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, c color.RGBA) *pixel.Buffer {
	buf := pixel.NewBuffer(w, h)
	buf.Fill(c)
	return buf
}

// readPart reads one multipart section written by the stream handler
func readPart(r *bufio.Reader) (image.Image, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length >= 0 {
				break
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			length, err = strconv.Atoi(v)
			if err != nil {
				return nil, err
			}
		}
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return jpeg.Decode(strings.NewReader(string(data)))
}

func TestMJPEGStreamsFrames(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 8, Height: 8, FPS: 30})
	require.NoError(t, m.Start())

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()
	defer m.Stop()

	frame := solidFrame(8, 8, color.RGBA{R: 255, A: 255})
	defer frame.Release()

	got := make(chan image.Image, 1)
	errs := make(chan error, 1)
	go func() {
		resp, err := http.Get(srv.URL)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
			errs <- fmt.Errorf("unexpected content type %q", ct)
			return
		}
		img, err := readPart(bufio.NewReader(resp.Body))
		if err != nil {
			errs <- err
			return
		}
		got <- img
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case img := <-got:
			assert.Equal(t, 8, img.Bounds().Dx())
			r, g, _, _ := img.At(4, 4).RGBA()
			assert.Greater(t, r, uint32(0xc000))
			assert.Less(t, g, uint32(0x4000))

			stats := m.Stats()
			assert.True(t, stats.Running)
			assert.Greater(t, stats.Frames, uint64(0))
			return
		case err := <-errs:
			t.Fatal(err)
		case <-ticker.C:
			require.NoError(t, m.WriteFrame(frame))
		case <-deadline:
			t.Fatal("no frame received")
		}
	}
}

func TestMJPEGSnapshotAndLifecycle(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 4, Height: 4})
	frame := solidFrame(4, 4, color.RGBA{B: 255, A: 255})
	defer frame.Release()

	assert.Error(t, m.WriteFrame(frame), "not started")

	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())

	rec = httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, m.WriteFrame(frame))
	rec = httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	assert.Equal(t, 1, int(frame.Refs()), "outputs do not keep frames")

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestPNGSequenceWritesNumberedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "render")
	p := NewPNGSequence(dir)

	frame := solidFrame(3, 2, color.RGBA{G: 200, A: 255})
	defer frame.Release()

	assert.Error(t, p.WriteFrame(frame), "not started")
	require.NoError(t, p.Start())
	for i := 0; i < 3; i++ {
		require.NoError(t, p.WriteFrame(frame))
	}
	assert.Equal(t, 3, p.Frames())
	require.NoError(t, p.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"frame_000000.png", "frame_000001.png", "frame_000002.png"}, names)

	f, err := os.Open(filepath.Join(dir, "frame_000001.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	r, g, b, a := img.At(1, 1).RGBA()
	assert.Equal(t, []uint32{0, 200 * 0x101, 0, 0xffff}, []uint32{r, g, b, a})
}

func TestPNGSequenceRejectsEmptyFrame(t *testing.T) {
	p := NewPNGSequence(t.TempDir())
	require.NoError(t, p.Start())
	defer p.Stop()

	empty := pixel.NewBuffer(0, 0)
	assert.Error(t, p.WriteFrame(empty))
	assert.Equal(t, 0, p.Frames())
}

func TestLetterbox(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255
		src.Pix[i+3] = 255
	}

	out := letterbox(src, 4, 4)
	require.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(2, 0))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(2, 1))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(2, 2))
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(2, 3))
}

func TestStripRows(t *testing.T) {
	assert.Equal(t, 51, stripRows(1280*4, 65535*4))
	assert.Equal(t, 1, stripRows(4096, 100))
}
