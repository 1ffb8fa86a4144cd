package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Transcription.Token = expandEnv(cfg.Transcription.Token)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Transcription.URL == "" {
		errs = append(errs, errors.New("transcription.url must be set"))
	} else if !strings.HasPrefix(cfg.Transcription.URL, "ws://") && !strings.HasPrefix(cfg.Transcription.URL, "wss://") {
		errs = append(errs, fmt.Errorf("transcription.url %q must use a ws:// or wss:// scheme", cfg.Transcription.URL))
	}
	if cfg.Transcription.SilenceWindow < 0 {
		errs = append(errs, errors.New("transcription.silence_window must not be negative"))
	}

	if cfg.Collaborator.BaseURL == "" {
		errs = append(errs, errors.New("collaborator.base_url must be set"))
	}
	if cfg.Collaborator.Timeout < 0 {
		errs = append(errs, errors.New("collaborator.timeout must not be negative"))
	}

	if cfg.Synthesis.CharCap < 0 {
		errs = append(errs, errors.New("synthesis.char_cap must not be negative"))
	}

	return errors.Join(errs...)
}

// expandEnv substitutes ${VAR} references with environment values, so tokens
// never have to live in the config file itself.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
