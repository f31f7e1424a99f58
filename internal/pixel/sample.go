package pixel

import (
	"fmt"
	"time"
)

// SampleBuffer wraps a Buffer with a presentation timestamp for handing frames
// to a renderer. It borrows the buffer: it never retains or releases it, and
// must not outlive the reference it was built from.
type SampleBuffer struct {
	buffer *Buffer
	pts    time.Duration
}

// NewSampleBuffer wraps buf at the given presentation time.
// It fails when buf is nil or not a well-formed BGRA32 image.
func NewSampleBuffer(buf *Buffer, pts time.Duration) (*SampleBuffer, error) {
	if buf == nil {
		return nil, fmt.Errorf("nil pixel buffer")
	}
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("cannot wrap pixel buffer: %w", err)
	}
	return &SampleBuffer{buffer: buf, pts: pts}, nil
}

// Buffer returns the wrapped pixel buffer
func (s *SampleBuffer) Buffer() *Buffer {
	return s.buffer
}

// PresentationTime returns the sample's timestamp
func (s *SampleBuffer) PresentationTime() time.Duration {
	return s.pts
}

// WithTime returns a sample over the same pixels at another timestamp
func (s *SampleBuffer) WithTime(pts time.Duration) *SampleBuffer {
	return &SampleBuffer{buffer: s.buffer, pts: pts}
}
