package record

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/voicecard-io/voicecard/internal/transcribe"
	"github.com/voicecard-io/voicecard/pkg/audio"
)

// Warm bundles the speculatively-acquired resources held between prewarm and
// claim: a live microphone stream and an open transcription connection.
type Warm struct {
	Stream audio.Stream
	Conn   *transcribe.Conn
}

// WarmStart speculatively acquires a microphone stream and opens a
// transcription connection ahead of explicit user intent, so the next
// recording start is fast. At most one warm slot exists at a time and at most
// one acquisition is ever in flight (collapsed via singleflight).
//
// Safe for concurrent use.
type WarmStart struct {
	source audio.Source
	dial   DialFunc

	sf singleflight.Group

	mu   sync.Mutex
	slot *Warm
}

// NewWarmStart creates a warm-start manager over the given capture source and
// transcription dialer.
func NewWarmStart(source audio.Source, dial DialFunc) *WarmStart {
	return &WarmStart{source: source, dial: dial}
}

// Prewarm acquires and stores warm resources if none exist. Idempotent:
// concurrent and repeated calls share a single acquisition. On any failure
// partial state is released so a later Prewarm can retry.
func (w *WarmStart) Prewarm(ctx context.Context) error {
	w.mu.Lock()
	warmed := w.slot != nil
	w.mu.Unlock()
	if warmed {
		return nil
	}

	_, err, _ := w.sf.Do("prewarm", func() (any, error) {
		w.mu.Lock()
		if w.slot != nil {
			w.mu.Unlock()
			return nil, nil
		}
		w.mu.Unlock()

		stream, err := w.source.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		conn, err := w.dial(ctx)
		if err != nil {
			_ = stream.Close()
			return nil, err
		}

		w.mu.Lock()
		w.slot = &Warm{Stream: stream, Conn: conn}
		w.mu.Unlock()
		slog.Debug("warm start ready")
		return nil, nil
	})
	return err
}

// Claim atomically hands off the warm slot and clears it. Returns nil when no
// warm resources are available. The claimer must verify the connection is
// still open (see [transcribe.Conn.Ping]) and fall back to dialing its own
// if not.
func (w *WarmStart) Claim() *Warm {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.slot
	w.slot = nil
	return s
}

// Discard releases any held warm resources. Called on shutdown.
func (w *WarmStart) Discard() {
	w.mu.Lock()
	s := w.slot
	w.slot = nil
	w.mu.Unlock()
	if s == nil {
		return
	}
	_ = s.Stream.Close()
	_ = s.Conn.Close()
}
