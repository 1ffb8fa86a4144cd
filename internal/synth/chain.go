package synth

import (
	"context"
	"time"

	"github.com/voicecard-io/voicecard/internal/observe"
	"github.com/voicecard-io/voicecard/internal/resilience"
)

// Chain is a [Synthesizer] that tries a remote backend first and falls back
// to a local engine, with per-backend circuit breakers.
type Chain struct {
	chain   *resilience.Chain[Synthesizer]
	metrics *observe.Metrics
}

var _ Synthesizer = (*Chain)(nil)

// NewChain composes remote-first fallback synthesis. Either backend may be
// nil; at least one must be set or playback degrades to text-only (callers
// check with [Chain.Empty]).
func NewChain(remote, local Synthesizer, metrics *observe.Metrics) *Chain {
	cfg := resilience.BreakerConfig{MaxFailures: 3, Cooldown: 30 * time.Second}
	var rc *resilience.Chain[Synthesizer]
	if remote != nil {
		rc = resilience.NewChain(remote, "remote", cfg)
		if local != nil {
			rc.Add("local", local)
		}
	} else if local != nil {
		rc = resilience.NewChain(local, "local", cfg)
	}
	return &Chain{chain: rc, metrics: metrics}
}

// Empty reports whether no backend is configured.
func (c *Chain) Empty() bool { return c.chain == nil }

// Synthesize implements [Synthesizer]. With no backends it returns
// [ErrNoAudio] so playback can treat the item as immediately complete.
func (c *Chain) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.chain == nil {
		return nil, ErrNoAudio
	}
	start := time.Now()
	audio, backend, err := resilience.DoWithResult(c.chain, func(s Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text)
	})
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			backend = "none"
		}
		c.metrics.RecordSynthesis(ctx, backend, status, time.Since(start))
	}
	return audio, err
}
