package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [Chain] fails or has an
// open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// entry pairs a backend with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain wraps a primary and zero or more fallback backends of the same type.
// When the primary fails (or its breaker is open), the next healthy backend
// is tried in registration order.
type Chain[T any] struct {
	entries []entry[T]
	cfg     BreakerConfig
}

// NewChain creates a [Chain] with primary as the first backend. Fallbacks are
// registered with [Chain.Add]. The breaker config is shared; the per-entry
// name overrides cfg.Name.
func NewChain[T any](primary T, name string, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend, tried after all previously added entries.
func (c *Chain[T]) Add(name string, backend T) {
	cfg := c.cfg
	cfg.Name = name
	c.entries = append(c.entries, entry[T]{
		name:    name,
		value:   backend,
		breaker: NewBreaker(cfg),
	})
}

// Do tries fn against each backend in order until one succeeds. Open-breaker
// entries are skipped. The winning backend's name is returned alongside the
// result; on total failure the last error is wrapped in [ErrAllFailed].
//
// Do is a package-level pattern (method type parameters are not supported in
// Go), hence the result-returning variant lives in [DoWithResult].
func (c *Chain[T]) Do(fn func(T) error) (string, error) {
	_, name, err := DoWithResult(c, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return name, err
}

// DoWithResult tries fn against each backend in c until one succeeds,
// returning the result, the winning backend's name, and the error.
func DoWithResult[T, R any](c *Chain[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		e := &c.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(e.value)
			return innerErr
		})
		if err == nil {
			return result, e.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend (breaker open)", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
