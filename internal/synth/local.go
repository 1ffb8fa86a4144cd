package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// localTimeout bounds a single local engine call. Local engines run on the
// same host so anything slower means the engine is wedged.
const localTimeout = 10 * time.Second

// Local calls an on-device synthesis engine exposed over HTTP (Piper-style):
// GET with the text as a query parameter, raw PCM16 bytes in the response body.
type Local struct {
	baseURL    string
	httpClient *http.Client
}

var _ Synthesizer = (*Local)(nil)

// NewLocal creates a local synthesizer for the given engine base URL.
func NewLocal(baseURL string) (*Local, error) {
	if baseURL == "" {
		return nil, errors.New("synth: local URL must not be empty")
	}
	return &Local{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: localTimeout},
	}, nil
}

// Synthesize implements [Synthesizer].
func (l *Local) Synthesize(ctx context.Context, text string) ([]byte, error) {
	u := l.baseURL + "?text=" + url.QueryEscape(truncate(text, DefaultCharCap))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("synth: build local request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synth: local call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synth: local status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("synth: read local audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}
	return audio, nil
}
