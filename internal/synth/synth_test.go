package synth_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voicecard-io/voicecard/internal/synth"
)

func TestRemote_DecodesBase64Audio(t *testing.T) {
	t.Parallel()

	audio := []byte{0x10, 0x20, 0x30}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["text"] != "hello" {
			t.Errorf("text = %q, want hello", req["text"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"audio_base64": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	t.Cleanup(srv.Close)

	r, err := synth.NewRemote(srv.URL)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	got, err := r.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("audio = %v, want %v", got, audio)
	}
}

func TestRemote_TruncatesAtCharCap(t *testing.T) {
	t.Parallel()

	sent := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		sent <- req["text"]
		json.NewEncoder(w).Encode(map[string]string{
			"audio_base64": base64.StdEncoding.EncodeToString([]byte{1}),
		})
	}))
	t.Cleanup(srv.Close)

	r, err := synth.NewRemote(srv.URL, synth.WithCharCap(10))
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	if _, err := r.Synthesize(context.Background(), strings.Repeat("x", 50)); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := <-sent; len(got) != 10 {
		t.Errorf("sent %d chars, want 10", len(got))
	}
}

func TestRemote_EmptyAudioIsErrNoAudio(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"audio_base64": ""})
	}))
	t.Cleanup(srv.Close)

	r, _ := synth.NewRemote(srv.URL)
	if _, err := r.Synthesize(context.Background(), "hi"); !errors.Is(err, synth.ErrNoAudio) {
		t.Errorf("Synthesize = %v, want ErrNoAudio", err)
	}
}

func TestLocal_ReturnsRawBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("text"); got != "hi there" {
			t.Errorf("text param = %q, want %q", got, "hi there")
		}
		w.Write([]byte{0xAA, 0xBB})
	}))
	t.Cleanup(srv.Close)

	l, err := synth.NewLocal(srv.URL)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	got, err := l.Synthesize(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(got) != 2 || got[0] != 0xAA {
		t.Errorf("audio = %v, want [aa bb]", got)
	}
}

func TestChain_FallsBackToLocal(t *testing.T) {
	t.Parallel()

	remoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(remoteSrv.Close)
	localSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("local audio"))
	}))
	t.Cleanup(localSrv.Close)

	remote, _ := synth.NewRemote(remoteSrv.URL)
	local, _ := synth.NewLocal(localSrv.URL)
	chain := synth.NewChain(remote, local, nil)

	got, err := chain.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != "local audio" {
		t.Errorf("audio = %q, want local fallback output", got)
	}
}

func TestChain_EmptyReturnsErrNoAudio(t *testing.T) {
	t.Parallel()

	chain := synth.NewChain(nil, nil, nil)
	if !chain.Empty() {
		t.Fatal("Empty() = false with no backends")
	}
	if _, err := chain.Synthesize(context.Background(), "hello"); !errors.Is(err, synth.ErrNoAudio) {
		t.Errorf("Synthesize = %v, want ErrNoAudio", err)
	}
}
