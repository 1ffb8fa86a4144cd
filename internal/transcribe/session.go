// Package transcribe owns the streaming connection to the transcription
// service. It sends encoded audio chunks, receives incremental transcript
// text, and exposes the merged transcript for the current turn.
//
// Wire protocol (JSON over a persistent WebSocket):
//
//	client → server: {"type":"audio_chunk","data":<base64 PCM16>,"sample_rate":16000}
//	client → server: {"type":"stop"}
//	server → client: {"type":"transcript","transcript":<string>}
//	server → client: {"type":"error","detail":<string>}
package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voicecard-io/voicecard/pkg/audio"
)

// ErrConnection indicates the transcription connection failed to open or
// dropped mid-stream. Recoverable: capture stops and the user can retry or
// fall back to typing.
var ErrConnection = errors.New("transcribe: connection error")

// ErrClosed is returned by SendChunk after the connection has been closed.
var ErrClosed = errors.New("transcribe: connection is closed")

// clientMessage is the JSON payload sent to the transcription service.
type clientMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// serverMessage is the JSON payload received from the transcription service.
type serverMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Conn is a live transcription session over a single bidirectional streaming
// connection. Create one with [Dial] or wrap an already-open socket with
// [Adopt] (warm-start handoff). All methods are safe for concurrent use.
type Conn struct {
	ws    *websocket.Conn
	state *State

	deltas chan string
	errs   chan error
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial opens a streaming transcription connection. token, when non-empty, is
// sent as a bearer Authorization header.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	var headers http.Header
	if token != "" {
		headers = http.Header{}
		headers.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrConnection, err)
	}
	return Adopt(ws), nil
}

// Adopt wraps an already-open WebSocket in a [Conn] and starts its read loop.
// Used by the warm-start path, where the socket was opened ahead of intent.
func Adopt(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		state:  &State{},
		deltas: make(chan string, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// SendChunk encodes one PCM16 chunk and sends it as an audio_chunk message.
func (c *Conn) SendChunk(ctx context.Context, pcm []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	msg := clientMessage{
		Type:       "audio_chunk",
		Data:       base64.StdEncoding.EncodeToString(pcm),
		SampleRate: audio.TargetRate,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transcribe: encode chunk: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("%w: send chunk: %v", ErrConnection, err)
	}
	return nil
}

// Deltas returns a channel that emits the full transcript snapshot after each
// applied transcript message. Intermediate snapshots may be dropped under
// backpressure; each emitted value supersedes all previous ones.
func (c *Conn) Deltas() <-chan string { return c.deltas }

// Errs returns a channel that surfaces at most one terminal connection error:
// either a server-reported error message or an unexpected transport failure.
func (c *Conn) Errs() <-chan error { return c.errs }

// State returns the merged transcript state for this turn.
func (c *Conn) State() *State { return c.state }

// Ping verifies the connection is open and responsive. Used by the recording
// engine to validate a warm connection before claiming it.
func (c *Conn) Ping(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.ws.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrConnection, err)
	}
	return nil
}

// Close ends the turn: it sends an explicit stop message while the socket is
// still open, then closes the transport. Close is idempotent; calling it
// twice is a no-op.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		stop, _ := json.Marshal(clientMessage{Type: "stop"})
		c.writeMu.Lock()
		_ = c.ws.Write(context.Background(), websocket.MessageText, stop)
		c.writeMu.Unlock()

		_ = c.ws.Close(websocket.StatusNormalClosure, "turn ended")
		c.wg.Wait()
	})
	return nil
}

// readLoop receives server messages until the connection ends. Transcript
// text is merged into the state and the new snapshot is published on deltas.
// A malformed message is a connection-class event that is logged and ignored,
// never a crash.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.deltas)

	for {
		_, payload, err := c.ws.Read(context.Background())
		if err != nil {
			select {
			case <-c.done:
				// Closed by us; not an error.
			default:
				c.reportErr(fmt.Errorf("%w: read: %v", ErrConnection, err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			slog.Warn("transcribe: malformed server message ignored", "err", err, "bytes", len(payload))
			continue
		}

		switch msg.Type {
		case "transcript":
			c.state.Apply(msg.Transcript)
			select {
			case c.deltas <- c.state.Snapshot():
			default:
				// Consumer is behind; the next snapshot supersedes this one.
			}
		case "error":
			c.reportErr(fmt.Errorf("%w: %s", ErrConnection, msg.Detail))
			return
		default:
			slog.Debug("transcribe: unknown message type ignored", "type", msg.Type)
		}
	}
}

// reportErr delivers err on the errs channel without blocking; only the first
// terminal error is kept.
func (c *Conn) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
