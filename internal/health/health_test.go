package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicecard-io/voicecard/internal/health"
)

func doRequest(t *testing.T, h *health.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	return rec, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	rec, body := doRequest(t, health.New(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body status = %v, want ok", body["status"])
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{
		Name:  "collaborator",
		Check: func(ctx context.Context) error { return nil },
	})
	rec, body := doRequest(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	checks := body["checks"].(map[string]any)
	if checks["collaborator"] != "ok" {
		t.Errorf("collaborator check = %v, want ok", checks["collaborator"])
	}
}

func TestReadyz_FailingCheckReturns503(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{
		Name:  "collaborator",
		Check: func(ctx context.Context) error { return errors.New("unreachable") },
	})
	rec, body := doRequest(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body["status"] != "fail" {
		t.Errorf("body status = %v, want fail", body["status"])
	}
}

func TestEndpoint_Checker(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(up.Close)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)

	if err := health.Endpoint("up", up.URL).Check(context.Background()); err != nil {
		t.Errorf("healthy endpoint reported error: %v", err)
	}
	if err := health.Endpoint("down", down.URL).Check(context.Background()); err == nil {
		t.Error("5xx endpoint reported healthy")
	}
}
