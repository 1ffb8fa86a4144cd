package playback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicecard-io/voicecard/internal/playback"
	"github.com/voicecard-io/voicecard/internal/synth"
)

// fakeSynth renders text as its own bytes, or fails when Err is set.
type fakeSynth struct {
	Err error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return []byte(text), nil
}

// fakePlayer records what it played and when, optionally blocking to simulate
// real playback time.
type fakePlayer struct {
	mu      sync.Mutex
	played  []string
	playing int
	overlap bool
	block   time.Duration
	release chan struct{}
}

func (p *fakePlayer) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	p.playing++
	if p.playing > 1 {
		p.overlap = true
	}
	p.played = append(p.played, string(pcm))
	p.mu.Unlock()

	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
		}
	} else if p.block > 0 {
		select {
		case <-time.After(p.block):
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	p.playing--
	p.mu.Unlock()
	return ctx.Err()
}

func (p *fakePlayer) snapshot() ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out, p.overlap
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never met")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestQueue_PlaysItemsInOrderWithoutOverlap(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{block: 20 * time.Millisecond}
	q := playback.New(&fakeSynth{}, player)
	defer q.Close()

	for _, it := range []struct{ id, text string }{
		{"a", "first"}, {"b", "second"}, {"c", "third"},
	} {
		if err := q.Enqueue(it.id, it.text); err != nil {
			t.Fatalf("Enqueue(%s): %v", it.id, err)
		}
	}

	waitFor(t, func() bool {
		played, _ := player.snapshot()
		return len(played) == 3
	})

	played, overlap := player.snapshot()
	if overlap {
		t.Error("two items played concurrently")
	}
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if played[i] != w {
			t.Errorf("played[%d] = %q, want %q", i, played[i], w)
		}
	}
}

func TestQueue_DuplicateIDPlaysOnce(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	q := playback.New(&fakeSynth{}, player)
	defer q.Close()

	for range 3 {
		if err := q.Enqueue("same-id", "hello"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	time.Sleep(150 * time.Millisecond)
	played, _ := player.snapshot()
	if len(played) != 1 {
		t.Errorf("played %d times, want 1", len(played))
	}
}

func TestQueue_SynthesisFailureCompletesItem(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	q := playback.New(&fakeSynth{Err: errors.New("backend down")}, player)
	defer q.Close()

	if err := q.Enqueue("a", "text"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue("b", "more text"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	played, _ := player.snapshot()
	if len(played) != 0 {
		t.Errorf("played %d items despite synthesis failure, want 0", len(played))
	}
}

func TestQueue_OnIdleFiresAfterDraining(t *testing.T) {
	t.Parallel()

	idle := make(chan struct{}, 4)
	player := &fakePlayer{}
	q := playback.New(&fakeSynth{}, player, playback.WithOnIdle(func() {
		idle <- struct{}{}
	}))
	defer q.Close()

	if err := q.Enqueue("a", "spoken reply"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-idle:
	case <-time.After(3 * time.Second):
		t.Fatal("onIdle never fired")
	}
}

func TestQueue_CancelAllInterruptsPlayback(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{release: make(chan struct{})}
	q := playback.New(&fakeSynth{}, player)
	defer q.Close()

	if err := q.Enqueue("long", "long playback"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool {
		played, _ := player.snapshot()
		return len(played) == 1
	})

	q.CancelAll()

	// The player must unblock via context cancellation, not the release chan.
	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return player.playing == 0
	})
}

func TestQueue_EnqueueAfterCloseFails(t *testing.T) {
	t.Parallel()

	q := playback.New(&fakeSynth{}, &fakePlayer{})
	q.Close()
	q.Close() // idempotent

	if err := q.Enqueue("x", "text"); !errors.Is(err, playback.ErrQueueClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_NilPlayerCompletesImmediately(t *testing.T) {
	t.Parallel()

	idle := make(chan struct{}, 1)
	q := playback.New(nil, nil, playback.WithOnIdle(func() {
		select {
		case idle <- struct{}{}:
		default:
		}
	}))
	defer q.Close()

	if err := q.Enqueue("a", "text"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-idle:
	case <-time.After(3 * time.Second):
		t.Fatal("item never completed without a player")
	}
}

var _ synth.Synthesizer = (*fakeSynth)(nil)
