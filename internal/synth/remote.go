package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// remoteTimeout bounds a single remote synthesis call.
const remoteTimeout = 15 * time.Second

// ttsRequest is the remote synthesis request body.
type ttsRequest struct {
	Text string `json:"text"`
}

// ttsResponse is the remote synthesis response body.
type ttsResponse struct {
	AudioBase64 string `json:"audio_base64"`
}

// Remote calls a network synthesis service: POST /tts with the reply text,
// expecting base64-encoded PCM16 audio back.
type Remote struct {
	url        string
	charCap    int
	httpClient *http.Client
}

var _ Synthesizer = (*Remote)(nil)

// RemoteOption configures a [Remote].
type RemoteOption func(*Remote)

// WithCharCap overrides the text length cap. Values <= 0 keep the default.
func WithCharCap(n int) RemoteOption {
	return func(r *Remote) {
		if n > 0 {
			r.charCap = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Mostly for tests.
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(r *Remote) { r.httpClient = hc }
}

// NewRemote creates a remote synthesizer for the given /tts endpoint URL.
func NewRemote(url string, opts ...RemoteOption) (*Remote, error) {
	if url == "" {
		return nil, errors.New("synth: remote URL must not be empty")
	}
	r := &Remote{
		url:        url,
		charCap:    DefaultCharCap,
		httpClient: &http.Client{Timeout: remoteTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Synthesize implements [Synthesizer].
func (r *Remote) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(ttsRequest{Text: truncate(text, r.charCap)})
	if err != nil {
		return nil, fmt.Errorf("synth: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("synth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synth: remote call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("synth: remote status %d: %s", resp.StatusCode, snippet)
	}

	var body ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("synth: decode response: %w", err)
	}
	if body.AudioBase64 == "" {
		return nil, ErrNoAudio
	}
	audio, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("synth: decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}
	return audio, nil
}
