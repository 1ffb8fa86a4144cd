// Package config provides the configuration schema and loader for the
// voicecard client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] so YAML values like "10s" decode naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the voicecard process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voicecard.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Collaborator  CollaboratorConfig  `yaml:"collaborator"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Voice         VoiceConfig         `yaml:"voice"`
}

// ServerConfig holds network and logging settings for the local HTTP surface
// (/metrics and /healthz).
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TranscriptionConfig points at the streaming transcription service.
type TranscriptionConfig struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// Token is the bearer token sent when opening the connection.
	// Supports ${ENV_VAR} expansion.
	Token string `yaml:"token"`

	// SilenceWindow is how long the transcript may stay idle before the
	// recording auto-submits. Zero uses the built-in default (10s).
	SilenceWindow Duration `yaml:"silence_window"`
}

// CollaboratorConfig points at the extraction/clarify collaborator service.
type CollaboratorConfig struct {
	// BaseURL is the root of the collaborator HTTP API.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single collaborator call. Zero uses the default (30s).
	Timeout Duration `yaml:"timeout"`
}

// SynthesisConfig configures spoken reply rendering. Both URLs are optional;
// with neither set, replies stay text-only.
type SynthesisConfig struct {
	// URL is the remote /tts endpoint, tried first.
	URL string `yaml:"url"`

	// LocalURL is the on-device engine endpoint used as fallback.
	LocalURL string `yaml:"local_url"`

	// CharCap caps the text length sent to a backend. Zero uses the
	// default (500).
	CharCap int `yaml:"char_cap"`
}

// VoiceConfig holds capture-side behaviour toggles.
type VoiceConfig struct {
	// Device is the capture device name passed to the recorder
	// (e.g., "default" or "hw:1,0").
	Device string `yaml:"device"`

	// VoiceFirst re-arms the microphone after each spoken reply finishes.
	VoiceFirst bool `yaml:"voice_first"`

	// Prewarm acquires the microphone and transcription connection ahead of
	// the first recording to cut perceived start latency.
	Prewarm bool `yaml:"prewarm"`
}
