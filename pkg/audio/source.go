// Package audio defines the capture-side abstractions of the voicecard
// pipeline: microphone sources, capture streams, and the float32 → PCM16
// downsampling used to feed the transcription connection.
//
// The two primary abstractions are:
//
//   - [Source] — acquires a microphone and returns a [Stream].
//   - [Stream] — an active capture session delivering [Frame] values.
//
// Concrete implementations are provided for ALSA-style command-line devices
// (see [ArecordSource]); tests use the scripted source in the mock subpackage.
// The interfaces are intentionally narrow so the recording engine stays
// decoupled from device details.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied indicates microphone access was refused. Terminal for
// the current attempt; the user must retry.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrDeviceUnavailable indicates no usable capture device exists.
var ErrDeviceUnavailable = errors.New("audio: no capture device available")

// Stream is an active microphone capture session.
//
// The frames channel is closed when the stream ends, either because Close was
// called or because the underlying device failed. Close must be idempotent:
// calling it a second time is a no-op, not an error.
type Stream interface {
	// Frames returns the channel of captured frames. The channel is owned by
	// the stream and closed on teardown.
	Frames() <-chan Frame

	// SampleRate returns the native capture rate in Hz.
	SampleRate() int

	// Close stops capture, detaches the device, and closes the frames
	// channel. After Close returns no further frames are delivered.
	Close() error
}

// Source acquires microphone streams. Implementations must be safe for
// concurrent use; at most one acquired stream is active per recording session,
// enforced by the recording engine, not the source.
type Source interface {
	// Acquire opens the capture device. The context governs the acquisition
	// attempt only; the returned stream lives until its Close is called.
	//
	// Returns [ErrPermissionDenied] or [ErrDeviceUnavailable] (possibly
	// wrapped) when the device cannot be opened.
	Acquire(ctx context.Context) (Stream, error)
}
