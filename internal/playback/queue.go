// Package playback serializes spoken rendering of assistant replies. A single
// worker drains a FIFO queue, synthesizing and playing one item at a time, so
// two replies never overlap. Items are de-duplicated by id: the same assistant
// message must not be spoken twice when the caller re-submits it.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/voicecard-io/voicecard/internal/observe"
	"github.com/voicecard-io/voicecard/internal/synth"
)

// ErrQueueClosed is returned by [Queue.Enqueue] after [Queue.Close].
var ErrQueueClosed = errors.New("playback: queue is closed")

// queueCapacity bounds pending items. A conversation produces one reply per
// turn, so a small buffer is plenty.
const queueCapacity = 16

// Player renders PCM16 audio to an output device, blocking until playback
// completes or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// item is one queued assistant reply.
type item struct {
	id   string
	text string
}

// Option is a functional option for configuring the [Queue].
type Option func(*Queue)

// WithOnIdle sets a callback invoked after an item finishes playing and the
// queue is empty. Used by voice-first mode to re-arm the microphone. The
// callback runs on the worker goroutine and must not block on playback.
func WithOnIdle(fn func()) Option {
	return func(q *Queue) { q.onIdle = fn }
}

// WithMetrics attaches observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue plays assistant replies one at a time in enqueue order.
// Safe for concurrent use.
type Queue struct {
	synth   synth.Synthesizer
	player  Player
	onIdle  func()
	metrics *observe.Metrics

	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool

	items chan item

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a running [Queue]. The worker goroutine lives until [Queue.Close].
// player may be nil (text-only sessions); items then complete immediately.
func New(s synth.Synthesizer, player Player, opts ...Option) *Queue {
	q := &Queue{
		synth:  s,
		player: player,
		seen:   make(map[string]struct{}),
		items:  make(chan item, queueCapacity),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.run()
	return q
}

// Enqueue schedules the reply text for playback. A second call with an id
// already enqueued is a no-op. Never blocks on playback; when the buffer is
// full the item is dropped with a warning rather than stalling the turn.
func (q *Queue) Enqueue(id, text string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if _, dup := q.seen[id]; dup {
		q.mu.Unlock()
		return nil
	}
	q.seen[id] = struct{}{}
	q.mu.Unlock()

	select {
	case q.items <- item{id: id, text: text}:
		if q.metrics != nil {
			q.metrics.PlaybackEnqueued(context.Background())
		}
		return nil
	default:
		slog.Warn("playback queue full, dropping item", "id", id)
		return nil
	}
}

// CancelAll interrupts the currently playing item and discards everything
// pending. The queue keeps running and accepts new items.
func (q *Queue) CancelAll() {
	q.cancelMu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.cancelMu.Unlock()

	for {
		select {
		case it := <-q.items:
			if q.metrics != nil {
				q.metrics.PlaybackDone(context.Background())
			}
			slog.Debug("playback item discarded", "id", it.id)
		default:
			return
		}
	}
}

// Close cancels playback and stops the worker. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.CancelAll()
		close(q.done)
	})
}

// run is the single worker draining the queue.
func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case it := <-q.items:
			q.play(it)
			if q.metrics != nil {
				q.metrics.PlaybackDone(context.Background())
			}
			if q.onIdle != nil && len(q.items) == 0 {
				q.onIdle()
			}
		}
	}
}

// play synthesizes and renders one item. Failures degrade to silence: the
// reply is already visible as text, so the item is treated as complete.
func (q *Queue) play(it item) {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancelMu.Lock()
	q.cancel = cancel
	q.cancelMu.Unlock()
	defer func() {
		q.cancelMu.Lock()
		q.cancel = nil
		q.cancelMu.Unlock()
		cancel()
	}()

	if q.synth == nil || q.player == nil {
		return
	}

	pcm, err := q.synth.Synthesize(ctx, it.text)
	if err != nil {
		if errors.Is(err, synth.ErrNoAudio) {
			slog.Debug("no audio for reply, skipping playback", "id", it.id)
		} else {
			slog.Warn("synthesis failed, reply stays text-only", "id", it.id, "error", err)
		}
		return
	}

	if err := q.player.Play(ctx, pcm); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("audio playback failed", "id", it.id, "error", err)
	}
}
