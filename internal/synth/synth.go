// Package synth converts assistant reply text to playable audio. The primary
// backend is a remote synthesis service; a local HTTP engine (Piper-style)
// serves as fallback. Backends are composed with a resilience chain so that a
// flapping remote service is skipped after repeated failures.
package synth

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a backend answered successfully but produced no
// audio payload. The chain treats it like any other failure.
var ErrNoAudio = errors.New("synth: backend returned no audio")

// DefaultCharCap is the maximum text length sent to a backend when the config
// does not override it. Longer replies are truncated at a rune boundary.
const DefaultCharCap = 500

// Synthesizer renders text into 16-bit PCM audio at the backend's native rate.
type Synthesizer interface {
	// Synthesize returns PCM16 audio bytes for text. Implementations must
	// honour ctx cancellation.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// truncate caps text at limit runes without splitting a multi-byte sequence.
func truncate(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultCharCap
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
