// Package mock provides scripted audio sources and streams for testing the
// recording pipeline without a real capture device.
package mock

import (
	"context"
	"sync"

	"github.com/voicecard-io/voicecard/pkg/audio"
)

// Source is a scripted [audio.Source]. If Err is non-nil every Acquire fails
// with it; otherwise each Acquire returns a fresh [Stream] preloaded with
// Frames.
type Source struct {
	// Err, when set, is returned from Acquire.
	Err error

	// Frames are delivered on each acquired stream before it idles.
	Frames []audio.Frame

	// Rate is the native rate reported by acquired streams. Zero means 48000.
	Rate int

	mu       sync.Mutex
	acquired []*Stream
}

// Acquire implements [audio.Source].
func (s *Source) Acquire(_ context.Context) (audio.Stream, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	rate := s.Rate
	if rate == 0 {
		rate = 48000
	}
	st := &Stream{
		rate:   rate,
		frames: make(chan audio.Frame, len(s.Frames)+1),
	}
	for _, f := range s.Frames {
		st.frames <- f
	}
	s.mu.Lock()
	s.acquired = append(s.acquired, st)
	s.mu.Unlock()
	return st, nil
}

// Acquired returns every stream handed out so far, in order.
func (s *Source) Acquired() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Stream, len(s.acquired))
	copy(out, s.acquired)
	return out
}

// Stream is a scripted [audio.Stream] that records whether it was closed.
type Stream struct {
	rate   int
	frames chan audio.Frame

	mu     sync.Mutex
	closed bool
}

// Frames implements [audio.Stream].
func (st *Stream) Frames() <-chan audio.Frame { return st.frames }

// SampleRate implements [audio.Stream].
func (st *Stream) SampleRate() int { return st.rate }

// Push delivers an extra frame mid-test. Returns false if the stream is
// already closed.
func (st *Stream) Push(f audio.Frame) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return false
	}
	st.frames <- f
	return true
}

// Close implements [audio.Stream]. Idempotent.
func (st *Stream) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	st.closed = true
	close(st.frames)
	return nil
}

// Closed reports whether Close has been called.
func (st *Stream) Closed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}
