package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/voicecard-io/voicecard/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

transcription:
  url: wss://stt.example.com/stream
  token: ${VOICECARD_STT_TOKEN}
  silence_window: 10s

collaborator:
  base_url: https://api.example.com
  timeout: 30s

synthesis:
  url: https://tts.example.com/tts
  local_url: http://127.0.0.1:5002/api/tts
  char_cap: 500

voice:
  device: default
  voice_first: true
  prewarm: true
`

func TestLoadFromReader_ValidConfig(t *testing.T) {
	t.Setenv("VOICECARD_STT_TOKEN", "tok-123")

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Transcription.URL != "wss://stt.example.com/stream" {
		t.Errorf("transcription url = %q", cfg.Transcription.URL)
	}
	if cfg.Transcription.Token != "tok-123" {
		t.Errorf("token = %q, want env-expanded value", cfg.Transcription.Token)
	}
	if cfg.Transcription.SilenceWindow.Std() != 10*time.Second {
		t.Errorf("silence_window = %v, want 10s", cfg.Transcription.SilenceWindow.Std())
	}
	if cfg.Collaborator.Timeout.Std() != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Collaborator.Timeout.Std())
	}
	if !cfg.Voice.VoiceFirst || !cfg.Voice.Prewarm {
		t.Error("voice flags lost in decode")
	}
}

func TestLoadFromReader_UnknownFieldFails(t *testing.T) {
	t.Parallel()

	yaml := `
transcription:
  url: wss://stt.example.com
  typo_field: oops
collaborator:
  base_url: https://api.example.com
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown field accepted, want decode error")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()

	yaml := `
transcription:
  url: wss://stt.example.com
  silence_window: ten seconds
collaborator:
  base_url: https://api.example.com
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("bad duration accepted, want error")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Transcription.URL = "http://not-a-websocket"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "ws://", "base_url"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("does-not-exist.yaml"); err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q reported invalid", l)
		}
	}
	if config.LogLevel("loud").IsValid() {
		t.Error("unknown level reported valid")
	}
}
