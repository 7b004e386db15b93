package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeState string

func (s fakeState) String() string { return string(s) }

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "never", Check: func(context.Context) error { return errors.New("down") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	running := true
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all pass",
			checkers: []Checker{
				Breaker("backend", func() fakeState { return "closed" }),
				Pinger("history", func(context.Context) error { return nil }),
				Running("voice", func() bool { return running }),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"backend": "ok", "history": "ok", "voice": "ok"},
		},
		{
			name: "half-open is ready",
			checkers: []Checker{
				Breaker("backend", func() fakeState { return "half-open" }),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"backend": "ok"},
		},
		{
			name: "open breaker and failed ping",
			checkers: []Checker{
				Breaker("backend", func() fakeState { return "open" }),
				Pinger("history", func(context.Context) error { return errors.New("connection refused") }),
				Running("voice", func() bool { return false }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"backend": "fail: health: circuit open",
				"history": "fail: connection refused",
				"voice":   "fail: health: not running",
			},
		},
		{
			name: "panicking checker",
			checkers: []Checker{
				{Name: "boom", Check: func(context.Context) error { panic("nil pool") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"boom": "fail: panic: nil pool"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tt.checkers...), context.Background())
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			wantBody := "ok"
			if tt.wantStatus != http.StatusOK {
				wantBody = "fail"
			}
			if body.Status != wantBody {
				t.Errorf("body status = %q, want %q", body.Status, wantBody)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait})

	done := make(chan bool, 1)
	go func() {
		_, ok := h.Evaluate(context.Background())
		done <- ok
	}()
	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if !<-done {
		t.Error("Evaluate reported failure")
	}
}

func TestReadyz_RespectsCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := readyz(t, h, ctx)
	if code != http.StatusServiceUnavailable || body.Checks["slow"] != "fail: context canceled" {
		t.Errorf("code = %d, checks = %v", code, body.Checks)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
