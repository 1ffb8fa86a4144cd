// Package app wires the voicecard subsystems into one conversational session:
// the recording engine feeds finalized transcripts into the conversation
// machine, whose replies are spoken through the playback queue. Typed input
// bypasses the audio path and enters the machine directly.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/voicecard-io/voicecard/internal/convo"
	"github.com/voicecard-io/voicecard/internal/observe"
	"github.com/voicecard-io/voicecard/internal/playback"
	"github.com/voicecard-io/voicecard/internal/record"
	"github.com/voicecard-io/voicecard/internal/synth"
	"github.com/voicecard-io/voicecard/pkg/types"
)

// ErrClosed is returned for submissions after [Session.Close].
var ErrClosed = errors.New("app: session is closed")

// Option is a functional option for [New].
type Option func(*Session)

// WithVoiceFirst re-arms the microphone after each spoken reply finishes, so
// the user can keep talking hands-free.
func WithVoiceFirst() Option {
	return func(s *Session) { s.voiceFirst = true }
}

// WithWarmStart lets Close release any warm resources still parked.
func WithWarmStart(w *record.WarmStart) Option {
	return func(s *Session) { s.warm = w }
}

// WithMetrics attaches observability instruments to the playback queue.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithOnTranscript sets a callback receiving the live transcript snapshot
// after every delta while recording. Must not block.
func WithOnTranscript(fn func(snapshot string)) Option {
	return func(s *Session) { s.onTranscript = fn }
}

// WithOnReply sets a callback receiving every assistant reply, including
// those produced by silence auto-submit where no caller is waiting on a
// return value. Must not block.
func WithOnReply(fn func(*convo.Reply)) Option {
	return func(s *Session) { s.onReply = fn }
}

// Session is the top-level conversational session. Safe for concurrent use.
type Session struct {
	machine *convo.Machine
	engine  *record.Engine
	queue   *playback.Queue
	warm    *record.WarmStart
	metrics *observe.Metrics

	voiceFirst   bool
	onTranscript func(string)
	onReply      func(*convo.Reply)

	mu         sync.Mutex
	closed     bool
	turnCancel context.CancelFunc
	turnDone   chan struct{}
}

// New assembles a session. The playback queue is owned by the session and
// torn down by [Session.Close]. synthesizer and player may be nil for
// text-only operation.
func New(machine *convo.Machine, engine *record.Engine, synthesizer synth.Synthesizer, player playback.Player, opts ...Option) *Session {
	s := &Session{
		machine: machine,
		engine:  engine,
	}
	for _, o := range opts {
		o(s)
	}
	qopts := []playback.Option{playback.WithOnIdle(s.playbackIdle)}
	if s.metrics != nil {
		qopts = append(qopts, playback.WithMetrics(s.metrics))
	}
	s.queue = playback.New(synthesizer, player, qopts...)
	return s
}

// Stage returns the current conversation stage.
func (s *Session) Stage() types.Stage { return s.machine.Stage() }

// Card returns a copy of the working card family, or nil.
func (s *Session) Card() *types.CardFamily { return s.machine.Card() }

// Recording reports whether a capture session is live.
func (s *Session) Recording() bool { return s.engine.Active() != nil }

// StartRecording opens the microphone and the transcription stream. Returns
// [record.ErrAlreadyRecording] when a session is already live.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	_, err := s.engine.Start(ctx, record.Callbacks{
		OnTranscript: s.onTranscript,
		OnAutoSubmit: func(text string) {
			// Timer goroutine; the turn runs detached.
			go s.autoSubmit(text)
		},
		OnError: func(err error) {
			slog.Warn("recording ended with error", "error", err)
		},
	})
	return err
}

// StopRecording ends the live capture session and submits its transcript as
// the user's turn. A nil reply with nil error means the transcript was empty
// or nothing was recording.
func (s *Session) StopRecording(ctx context.Context) (*convo.Reply, error) {
	sess := s.engine.Active()
	if sess == nil {
		return nil, nil
	}
	text := sess.StopAndText()
	if text == "" {
		return nil, nil
	}
	return s.submit(ctx, text, true)
}

// SubmitText enters typed input directly into the conversation. Any live
// recording is stopped without submitting its transcript, and any in-flight
// timer-submitted turn is superseded.
func (s *Session) SubmitText(ctx context.Context, text string) (*convo.Reply, error) {
	if sess := s.engine.Active(); sess != nil {
		sess.Stop()
	}
	return s.submit(ctx, text, true)
}

// autoSubmit runs the silence-timer turn. It never supersedes anything: a
// user-submitted turn in flight wins over the timer.
func (s *Session) autoSubmit(text string) {
	_, err := s.submit(context.Background(), text, false)
	if err != nil && !errors.Is(err, convo.ErrTurnInFlight) && !errors.Is(err, convo.ErrSuperseded) {
		slog.Warn("auto-submitted turn failed", "error", err)
	}
}

// submit runs one conversation turn end to end. A user-initiated submission
// supersedes an in-flight turn: the old turn's context is cancelled, its
// collaborator results are discarded, and the new turn starts once the old
// one has unwound.
func (s *Session) submit(ctx context.Context, text string, userInitiated bool) (*convo.Reply, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.turnDone != nil {
		if !userInitiated {
			s.mu.Unlock()
			return nil, convo.ErrTurnInFlight
		}
		cancel, done := s.turnCancel, s.turnDone
		s.machine.Supersede()
		s.mu.Unlock()
		cancel()
		<-done
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
	}
	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.turnCancel, s.turnDone = cancel, done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.turnDone == done {
			s.turnCancel, s.turnDone = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	reply, err := s.machine.HandleInput(turnCtx, text)
	if err != nil {
		return nil, err
	}

	if qErr := s.queue.Enqueue(reply.ID, reply.Text); qErr != nil && !errors.Is(qErr, playback.ErrQueueClosed) {
		slog.Warn("enqueue reply for playback failed", "error", qErr)
	}
	if s.onReply != nil {
		s.onReply(reply)
	}
	return reply, nil
}

// playbackIdle re-arms the microphone after spoken replies finish, when
// voice-first mode is on and nothing is already recording.
func (s *Session) playbackIdle() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || !s.voiceFirst || s.engine.Active() != nil {
		return
	}
	if err := s.StartRecording(context.Background()); err != nil && !errors.Is(err, record.ErrAlreadyRecording) {
		slog.Warn("voice-first re-arm failed", "error", err)
	}
}

// Close tears the session down: recording stops, playback is cancelled, and
// warm resources are released. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if sess := s.engine.Active(); sess != nil {
		sess.Stop()
	}
	s.queue.Close()
	if s.warm != nil {
		s.warm.Discard()
	}
}
