// Package record drives one recording session end to end: microphone frames
// are downsampled, encoded, and pumped into the transcription connection,
// while a silence timer watches transcript activity for auto-submit.
//
// All cross-callback state for a session lives in an explicit [Session] value
// with mutation funnelled through its methods; the audio pump goroutine does
// only resample + encode + send and never blocks on UI work.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicecard-io/voicecard/internal/observe"
	"github.com/voicecard-io/voicecard/internal/transcribe"
	"github.com/voicecard-io/voicecard/pkg/audio"
)

// ErrAlreadyRecording is returned by Start while a session is active. There
// is at most one active microphone capture per engine.
var ErrAlreadyRecording = errors.New("record: a recording session is already active")

// warmPingTimeout bounds the open-state check on a claimed warm connection.
const warmPingTimeout = 1 * time.Second

// DialFunc opens a new transcription connection.
type DialFunc func(ctx context.Context) (*transcribe.Conn, error)

// Callbacks are the engine's notifications to its owner. All callbacks may be
// nil. They are invoked from internal goroutines and must not block.
type Callbacks struct {
	// OnTranscript receives the full transcript snapshot after every delta.
	OnTranscript func(snapshot string)

	// OnAutoSubmit receives the final transcript when the silence timer
	// fires with non-empty content. The session is already stopped.
	OnAutoSubmit func(text string)

	// OnError receives a recoverable recording error. The session is already
	// stopped and the microphone released.
	OnError func(err error)
}

// Option configures an [Engine].
type Option func(*Engine)

// WithWarmStart lets the engine claim pre-acquired resources on Start and
// re-arm the warm slot after each session ends.
func WithWarmStart(w *WarmStart) Option {
	return func(e *Engine) { e.warm = w }
}

// WithIdleWindow sets the silence window after which a non-empty transcript
// is auto-submitted. Default is [DefaultIdleWindow].
func WithIdleWindow(d time.Duration) Option {
	return func(e *Engine) { e.idle = d }
}

// WithMetrics attaches observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine starts and stops recording sessions over a capture source and a
// transcription dialer. Safe for concurrent use; at most one session is
// active at a time.
type Engine struct {
	source  audio.Source
	dial    DialFunc
	warm    *WarmStart
	idle    time.Duration
	metrics *observe.Metrics

	mu     sync.Mutex
	active *Session
}

// NewEngine creates a recording engine.
func NewEngine(source audio.Source, dial DialFunc, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		dial:   dial,
		idle:   DefaultIdleWindow,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start opens a recording session: it claims warm resources when available
// (verifying the warm connection is still open), otherwise acquires the
// microphone and dials fresh. Behaviour is identical either way.
func (e *Engine) Start(ctx context.Context, cb Callbacks) (*Session, error) {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	// Reserve the slot before the (slow) resource setup.
	placeholder := &Session{}
	e.active = placeholder
	e.mu.Unlock()

	stream, conn, err := e.resources(ctx)
	if err != nil {
		e.clearActive(placeholder)
		return nil, err
	}

	sess := &Session{
		engine: e,
		stream: stream,
		conn:   conn,
		timer:  NewAutoSubmitTimer(e.idle),
		cb:     cb,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.active = sess
	e.mu.Unlock()

	sess.timer.Arm(sess.autoSubmit)
	go sess.pump()
	go sess.watch()

	if e.metrics != nil {
		e.metrics.RecordingStarted(ctx)
	}
	slog.Debug("recording session started")
	return sess, nil
}

// Active returns the current session, or nil when not recording.
func (e *Engine) Active() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.conn == nil {
		return nil
	}
	return e.active
}

// resources produces the stream/connection pair for a new session, preferring
// the warm slot. A claimed connection that fails its open-state check is
// discarded and replaced by a fresh dial; the warm stream is kept either way.
func (e *Engine) resources(ctx context.Context) (audio.Stream, *transcribe.Conn, error) {
	var (
		stream audio.Stream
		conn   *transcribe.Conn
	)

	if e.warm != nil {
		if w := e.warm.Claim(); w != nil {
			stream = w.Stream
			pingCtx, cancel := context.WithTimeout(ctx, warmPingTimeout)
			err := w.Conn.Ping(pingCtx)
			cancel()
			if err == nil {
				conn = w.Conn
				if e.metrics != nil {
					e.metrics.WarmClaim(ctx, "hit")
				}
			} else {
				_ = w.Conn.Close()
				slog.Debug("warm connection stale, dialing fresh", "err", err)
				if e.metrics != nil {
					e.metrics.WarmClaim(ctx, "stale")
				}
			}
		} else if e.metrics != nil {
			e.metrics.WarmClaim(ctx, "miss")
		}
	}

	if stream == nil {
		s, err := e.source.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("record: acquire microphone: %w", err)
		}
		stream = s
	}
	if conn == nil {
		c, err := e.dial(ctx)
		if err != nil {
			_ = stream.Close()
			return nil, nil, fmt.Errorf("record: open transcription: %w", err)
		}
		conn = c
	}
	return stream, conn, nil
}

// clearActive releases the active slot if it is still owned by sess.
func (e *Engine) clearActive(sess *Session) {
	e.mu.Lock()
	if e.active == sess {
		e.active = nil
	}
	e.mu.Unlock()
}

// Session is one live recording turn. It owns the microphone stream, the
// transcription connection, and the silence timer, and guarantees exactly one
// teardown of all three no matter how the session ends.
type Session struct {
	engine *Engine
	stream audio.Stream
	conn   *transcribe.Conn
	timer  *AutoSubmitTimer
	cb     Callbacks

	done     chan struct{}
	stopOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Text returns the full transcript accumulated so far.
func (s *Session) Text() string {
	return s.conn.State().Snapshot()
}

// Err returns the recording error that ended the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop tears the session down: the silence timer is cancelled, the audio pump
// detaches, the microphone stream is closed, and the connection is closed
// (sending its stop message). Idempotent and synchronous from the caller's
// perspective — when Stop returns the microphone is no longer hot.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.timer.Cancel()
		close(s.done)
		_ = s.stream.Close()
		_ = s.conn.Close()
		s.engine.clearActive(s)

		if s.engine.metrics != nil {
			s.engine.metrics.RecordingStopped(context.Background())
		}
		slog.Debug("recording session stopped")

		// Re-arm the warm slot so the next start is fast again.
		if w := s.engine.warm; w != nil {
			go func() {
				if err := w.Prewarm(context.Background()); err != nil {
					slog.Debug("warm re-arm failed", "err", err)
				}
			}()
		}
	})
}

// StopAndText stops the session and returns the final transcript. Used by the
// manual stop-and-submit path.
func (s *Session) StopAndText() string {
	text := s.Text()
	s.Stop()
	return text
}

// pump moves frames from the microphone to the connection: downsample to the
// target rate, quantise to PCM16, send. It exits when the stream closes.
func (s *Session) pump() {
	for frame := range s.stream.Frames() {
		pcm := audio.DownsampleToPCM16(frame.Samples, frame.SampleRate, audio.TargetRate)
		if len(pcm) == 0 {
			continue
		}
		if err := s.conn.SendChunk(context.Background(), pcm); err != nil {
			if !errors.Is(err, transcribe.ErrClosed) {
				slog.Warn("record: send chunk failed", "err", err)
			}
			return
		}
	}
}

// watch reacts to transcript deltas (reset the silence timer, notify the UI)
// and to terminal connection errors (stop the session, surface the error).
func (s *Session) watch() {
	deltas := s.conn.Deltas()
	errs := s.conn.Errs()
	for {
		select {
		case snap, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			s.timer.Reset()
			if s.engine.metrics != nil {
				s.engine.metrics.TranscriptDeltas.Add(context.Background(), 1)
			}
			if s.cb.OnTranscript != nil {
				s.cb.OnTranscript(snap)
			}
		case err := <-errs:
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			s.Stop()
			if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
			return
		case <-s.done:
			return
		}
	}
}

// autoSubmit is the silence timer's fire action: stop recording, then submit
// the transcript as the user's turn when it is non-empty.
func (s *Session) autoSubmit() {
	text := strings.TrimSpace(s.Text())
	s.Stop()
	if text == "" {
		return
	}
	if s.cb.OnAutoSubmit != nil {
		s.cb.OnAutoSubmit(text)
	}
}
