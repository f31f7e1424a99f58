package source

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
	"github.com/fsnotify/fsnotify"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// sniffLen is how much of a file filetype needs to recognise it
const sniffLen = 261

// ImageSequence plays a directory of still images at a fixed rate, looping
// at the end. Files are ordered by name and recognised by content, not
// extension. The directory is rescanned when files are added or removed.
type ImageSequence struct {
	dir           string
	fps           int
	width, height int

	mu      sync.RWMutex
	frames  []string
	cached  *pixel.Buffer
	cacheAt int

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewImageSequence creates a source over the images in dir. Frames are
// scaled to width x height.
func NewImageSequence(dir string, fps, width, height int) *ImageSequence {
	if fps <= 0 {
		fps = 1
	}
	return &ImageSequence{
		dir:     dir,
		fps:     fps,
		width:   width,
		height:  height,
		cacheAt: -1,
	}
}

func (s *ImageSequence) Name() string {
	return "images " + filepath.Base(s.dir)
}

// Start scans the directory and begins watching it
func (s *ImageSequence) Start() error {
	if err := s.rescan(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.watch(watcher, s.done)
	return nil
}

// Stop stops watching and drops the cached frame
func (s *ImageSequence) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.watcher != nil {
		close(s.done)
		err = s.watcher.Close()
		s.watcher = nil
	}
	s.dropCacheLocked()
	return err
}

// Len returns the number of frames found
func (s *ImageSequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// FrameAt returns the image for time at
func (s *ImageSequence) FrameAt(at time.Duration) (*pixel.Buffer, error) {
	s.mu.RLock()
	n := len(s.frames)
	if n == 0 {
		s.mu.RUnlock()
		return nil, fmt.Errorf("no images in %s", s.dir)
	}
	index := s.indexAt(at, n)
	if s.cached != nil && s.cacheAt == index {
		buf := s.cached.Retain()
		s.mu.RUnlock()
		return buf, nil
	}
	path := s.frames[index]
	s.mu.RUnlock()

	buf, err := s.decode(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.dropCacheLocked()
	s.cached = buf.Retain()
	s.cacheAt = index
	s.mu.Unlock()

	return buf, nil
}

func (s *ImageSequence) indexAt(at time.Duration, n int) int {
	if at < 0 {
		return 0
	}
	frame := int(at * time.Duration(s.fps) / time.Second)
	return frame % n
}

func (s *ImageSequence) decode(path string) (*pixel.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	logger.WithComponent("source").Trace().
		Str("file", filepath.Base(path)).
		Str("format", format).
		Msg("Decoded frame")
	return fitImage(img, s.width, s.height), nil
}

// rescan rebuilds the frame list from the directory contents
func (s *ImageSequence) rescan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.dir, err)
	}

	frames := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if isImageFile(path) {
			frames = append(frames, path)
		}
	}
	sort.Strings(frames)

	s.mu.Lock()
	s.frames = frames
	s.dropCacheLocked()
	s.mu.Unlock()

	logger.WithComponent("source").Debug().
		Str("dir", s.dir).
		Int("frames", len(frames)).
		Msg("Image sequence scanned")
	return nil
}

func (s *ImageSequence) dropCacheLocked() {
	if s.cached != nil {
		s.cached.Release()
		s.cached = nil
	}
	s.cacheAt = -1
}

func (s *ImageSequence) watch(watcher *fsnotify.Watcher, done chan struct{}) {
	log := logger.WithComponent("source")
	for {
		select {
		case <-done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if err := s.rescan(); err != nil {
				log.Warn().Err(err).Str("dir", s.dir).Msg("Rescan failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", s.dir).Msg("Image watcher error")
		}
	}
}

// isImageFile sniffs the file header
func isImageFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	return filetype.IsImage(head[:n])
}
