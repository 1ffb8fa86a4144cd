package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/voicecard-io/voicecard/internal/resilience"
)

// backend is a scripted chain entry.
type backend struct {
	name  string
	fail  bool
	calls int
}

func newChain(backends ...*backend) *resilience.Chain[*backend] {
	cfg := resilience.BreakerConfig{MaxFailures: 2, Cooldown: time.Hour}
	c := resilience.NewChain(backends[0], backends[0].name, cfg)
	for _, b := range backends[1:] {
		c.Add(b.name, b)
	}
	return c
}

func invoke(b *backend) (string, error) {
	b.calls++
	if b.fail {
		return "", errBoom
	}
	return b.name, nil
}

func TestChain_PrimaryWins(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary"}
	fallback := &backend{name: "fallback"}
	c := newChain(primary, fallback)

	got, name, err := resilience.DoWithResult(c, invoke)
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "primary" || name != "primary" {
		t.Errorf("result = %q via %q, want primary", got, name)
	}
	if fallback.calls != 0 {
		t.Error("fallback called while primary healthy")
	}
}

func TestChain_FallsThroughOnFailure(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary", fail: true}
	fallback := &backend{name: "fallback"}
	c := newChain(primary, fallback)

	got, name, err := resilience.DoWithResult(c, invoke)
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "fallback" || name != "fallback" {
		t.Errorf("result = %q via %q, want fallback", got, name)
	}
}

func TestChain_OpenBreakerSkipsBackend(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary", fail: true}
	fallback := &backend{name: "fallback"}
	c := newChain(primary, fallback)

	// Two failing rounds open the primary's breaker (MaxFailures: 2).
	for range 2 {
		if _, _, err := resilience.DoWithResult(c, invoke); err != nil {
			t.Fatalf("DoWithResult: %v", err)
		}
	}
	before := primary.calls

	if _, _, err := resilience.DoWithResult(c, invoke); err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if primary.calls != before {
		t.Errorf("primary called %d more times, want 0 (breaker open)", primary.calls-before)
	}
}

func TestChain_AllFailedWrapsLastError(t *testing.T) {
	t.Parallel()

	c := newChain(&backend{name: "a", fail: true}, &backend{name: "b", fail: true})
	_, _, err := resilience.DoWithResult(c, invoke)
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestChain_DoDiscardsResult(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary"}
	c := newChain(primary)

	name, err := c.Do(func(b *backend) error {
		_, err := invoke(b)
		return err
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if name != "primary" {
		t.Errorf("winning backend = %q, want primary", name)
	}
}
