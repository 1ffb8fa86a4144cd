package transcribe_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicecard-io/voicecard/internal/transcribe"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test transcription server. The handler receives the
// accepted conn; the server closes when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sendServerMsg pushes one server-side JSON frame.
func sendServerMsg(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("server write: %v (may be expected on close)", err)
	}
}

// waitSnapshot drains deltas until want appears or the timeout hits.
func waitSnapshot(t *testing.T, conn *transcribe.Conn, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-conn.Deltas():
			if !ok {
				t.Fatalf("deltas closed before seeing %q", want)
			}
			if snap == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for snapshot %q, have %q", want, conn.State().Snapshot())
		}
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_SendsBearerToken(t *testing.T) {
	t.Parallel()

	auth := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		<-conn.CloseRead(context.Background()).Done()
	})

	conn, err := transcribe.Dial(context.Background(), wsURL(srv), "sekrit")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case got := <-auth:
		if got != "Bearer sekrit" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer sekrit")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSendChunk_EncodesAudioChunkMessage(t *testing.T) {
	t.Parallel()

	frames := make(chan map[string]any, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		frames <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	conn, err := transcribe.Dial(context.Background(), wsURL(srv), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := conn.SendChunk(context.Background(), pcm); err != nil {
		t.Fatalf("SendChunk: %v", err)
	}

	select {
	case msg := <-frames:
		if msg["type"] != "audio_chunk" {
			t.Errorf("type = %v, want audio_chunk", msg["type"])
		}
		if msg["sample_rate"] != float64(16000) {
			t.Errorf("sample_rate = %v, want 16000", msg["sample_rate"])
		}
		if msg["data"] != base64.StdEncoding.EncodeToString(pcm) {
			t.Errorf("data = %v, want base64 of pcm", msg["data"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio_chunk")
	}
}

func TestConn_MergesTranscriptsAndPublishesSnapshots(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendServerMsg(t, conn, map[string]string{"type": "transcript", "transcript": "I led"})
		sendServerMsg(t, conn, map[string]string{"type": "transcript", "transcript": "I led a team"})
		<-conn.CloseRead(context.Background()).Done()
	})

	conn, err := transcribe.Dial(context.Background(), wsURL(srv), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	waitSnapshot(t, conn, "I led a team")
}

func TestConn_MalformedMessageIsIgnored(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		sendServerMsg(t, conn, map[string]string{"type": "transcript", "transcript": "still works"})
		<-conn.CloseRead(ctx).Done()
	})

	conn, err := transcribe.Dial(context.Background(), wsURL(srv), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	waitSnapshot(t, conn, "still works")

	select {
	case err := <-conn.Errs():
		t.Fatalf("unexpected terminal error: %v", err)
	default:
	}
}

func TestConn_ServerErrorSurfacesOnErrs(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		sendServerMsg(t, conn, map[string]string{"type": "error", "detail": "timeout"})
		<-conn.CloseRead(context.Background()).Done()
	})

	conn, err := transcribe.Dial(context.Background(), wsURL(srv), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case err := <-conn.Errs():
		if !errors.Is(err, transcribe.ErrConnection) {
			t.Errorf("err = %v, want ErrConnection", err)
		}
		if !strings.Contains(err.Error(), "timeout") {
			t.Errorf("err = %v, want detail %q included", err, "timeout")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestConn_CloseSendsStopAndIsIdempotent(t *testing.T) {
	t.Parallel()

	stops := make(chan string, 4)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				close(stops)
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				if s, _ := msg["type"].(string); s == "stop" {
					stops <- s
				}
			}
		}
	})

	conn, err := transcribe.Dial(context.Background(), wsURL(srv), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	count := 0
	for range stops {
		count++
	}
	if count != 1 {
		t.Errorf("stop messages = %d, want exactly 1", count)
	}

	if err := conn.SendChunk(context.Background(), []byte{0}); !errors.Is(err, transcribe.ErrClosed) {
		t.Errorf("SendChunk after Close = %v, want ErrClosed", err)
	}
}

func TestConn_PingAfterCloseFails(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	conn, err := transcribe.Dial(context.Background(), wsURL(srv), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping on open conn: %v", err)
	}

	conn.Close()
	if err := conn.Ping(ctx); err == nil {
		t.Error("Ping after Close succeeded, want error")
	}
}
