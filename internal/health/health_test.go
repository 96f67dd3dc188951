package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// audioRuntime is the state the readiness checks observe in the app.
type audioRuntime struct {
	lastTick time.Time
	loaded   int
	sink     string
}

var checkNow = time.Unix(10_000, 0)

// readiness wires the production checkers to rt with a fixed clock.
func readiness(rt *audioRuntime) *Handler {
	return New(
		TickRecentAt(func() time.Time { return rt.lastTick }, time.Second, func() time.Time { return checkNow }),
		LibraryLoaded(func() int { return rt.loaded }, 3),
		SinkOpen(func() string { return rt.sink }),
	)
}

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s: decode JSON: %v", path, err)
	}
	return rec.Code, body
}

func TestReadyz_AudioRuntime(t *testing.T) {
	healthy := audioRuntime{lastTick: checkNow.Add(-20 * time.Millisecond), loaded: 3, sink: "oto"}

	tests := []struct {
		name     string
		edit     func(rt *audioRuntime)
		draining bool
		want     int
		status   string
		failing  []string
	}{
		{name: "playing", want: http.StatusOK, status: "ok"},
		{
			name:    "sink closed",
			edit:    func(rt *audioRuntime) { rt.sink = "" },
			want:    http.StatusServiceUnavailable,
			status:  "fail",
			failing: []string{"sink"},
		},
		{
			name:    "scheduler stalled",
			edit:    func(rt *audioRuntime) { rt.lastTick = checkNow.Add(-5 * time.Second) },
			want:    http.StatusServiceUnavailable,
			status:  "fail",
			failing: []string{"scheduler"},
		},
		{
			name: "starting up",
			edit: func(rt *audioRuntime) {
				*rt = audioRuntime{loaded: 1}
			},
			want:    http.StatusServiceUnavailable,
			status:  "fail",
			failing: []string{"scheduler", "library", "sink"},
		},
		{
			name:     "draining",
			edit:     func(rt *audioRuntime) { rt.sink = "" },
			draining: true,
			want:     http.StatusServiceUnavailable,
			status:   "draining",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := healthy
			if tt.edit != nil {
				tt.edit(&rt)
			}
			h := readiness(&rt)
			h.SetDraining(tt.draining)

			code, body := serve(t, h, "/readyz")
			if code != tt.want || body.Status != tt.status {
				t.Fatalf("readyz = %d %q, want %d %q (%v)", code, body.Status, tt.want, tt.status, body.Checks)
			}
			if tt.draining {
				if len(body.Checks) != 0 {
					t.Errorf("checks ran while draining: %v", body.Checks)
				}
				return
			}
			if len(body.Checks) != 3 {
				t.Fatalf("checks = %v, want scheduler, library and sink", body.Checks)
			}
			for name, outcome := range body.Checks {
				wantFail := false
				for _, f := range tt.failing {
					wantFail = wantFail || f == name
				}
				if got := strings.HasPrefix(outcome, "fail: "); got != wantFail {
					t.Errorf("check %s = %q, want failing=%v", name, outcome, wantFail)
				}
			}

			// Liveness ignores readiness.
			if code, body := serve(t, h, "/healthz"); code != http.StatusOK || body.Status != "ok" {
				t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
			}
		})
	}
}

func TestReadyz_DrainingCanBeCleared(t *testing.T) {
	rt := audioRuntime{lastTick: checkNow, loaded: 3, sink: "wav"}
	h := readiness(&rt)

	h.SetDraining(true)
	if code, _ := serve(t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("draining readyz = %d, want 503", code)
	}
	h.SetDraining(false)
	if code, _ := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz after drain cleared = %d, want 200", code)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	if code, body := serve(t, New(), "/readyz"); code != http.StatusOK || body.Status != "ok" {
		t.Errorf("readyz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "sink", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var inFlight atomic.Int32
	started := make(chan struct{}, 2)
	block := func(context.Context) error {
		inFlight.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}
	h := New(
		Checker{Name: "scheduler", Check: block},
		Checker{Name: "sink", Check: block},
	)

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		done <- rec.Code
	}()

	// Both checks must be in flight before either is released.
	<-started
	<-started
	if n := inFlight.Load(); n != 2 {
		t.Errorf("in flight = %d, want 2", n)
	}
	close(release)

	if code := <-done; code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
}
