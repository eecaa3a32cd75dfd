package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tangyuling/deploy/internal/testutil"
)

// noSleep records requested delays without waiting.
type noSleep struct {
	delays []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.delays = append(n.delays, d)
	return ctx.Err()
}

func newHealthServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/health", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{Status: status})
}

func TestProbe_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		code    int
		status  string
		wantErr bool
	}{
		{"healthy", http.StatusOK, StatusHealthy, false},
		{"ok body", http.StatusOK, "ok", false},
		{"empty body status", http.StatusNoContent, "", false},
		{"server error", http.StatusInternalServerError, "", true},
		{"service unavailable", http.StatusServiceUnavailable, StatusUnhealthy, true},
		{"reports unhealthy with 200", http.StatusOK, StatusUnhealthy, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newHealthServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.code == http.StatusNoContent {
					w.WriteHeader(tt.code)
					return
				}
				writeStatus(w, tt.code, tt.status)
			})

			probe := NewProbe(nil, nil, testutil.DiscardLogger())
			result, err := probe.Check(context.Background(), srv.URL+"/health")

			if tt.wantErr {
				if !errors.Is(err, ErrUnhealthy) {
					t.Fatalf("expected ErrUnhealthy, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.StatusCode != tt.code {
				t.Errorf("StatusCode = %d, want %d", result.StatusCode, tt.code)
			}
			if result.Status != tt.status {
				t.Errorf("Status = %q, want %q", result.Status, tt.status)
			}
		})
	}
}

func TestProbe_CheckNoRedirect(t *testing.T) {
	t.Parallel()

	srv := newHealthServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})

	probe := NewProbe(nil, nil, testutil.DiscardLogger())
	_, err := probe.Check(context.Background(), srv.URL+"/health")
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("redirect should count as unhealthy, got %v", err)
	}
}

func TestProbe_CheckConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/health"
	srv.Close()

	probe := NewProbe(nil, nil, testutil.DiscardLogger())
	_, err := probe.Check(context.Background(), url)
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("expected ErrUnhealthy, got %v", err)
	}
}

func TestProbe_WaitEventuallyHealthy(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newHealthServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeStatus(w, http.StatusServiceUnavailable, StatusUnhealthy)
			return
		}
		writeStatus(w, http.StatusOK, StatusHealthy)
	})

	sleeper := &noSleep{}
	probe := NewProbe(nil, sleeper.sleep, testutil.DiscardLogger())
	schedule := Schedule{Initial: 5 * time.Second, Interval: 2 * time.Second, Attempts: 5}

	result, err := probe.Wait(context.Background(), srv.URL+"/health", schedule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusHealthy {
		t.Errorf("Status = %q, want %q", result.Status, StatusHealthy)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}

	want := []time.Duration{5 * time.Second, 2 * time.Second, 2 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sleeper.delays[i], want[i])
		}
	}
}

func TestProbe_WaitExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newHealthServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeStatus(w, http.StatusInternalServerError, "")
	})

	sleeper := &noSleep{}
	probe := NewProbe(nil, sleeper.sleep, testutil.DiscardLogger())

	_, err := probe.Wait(context.Background(), srv.URL+"/health", Schedule{Attempts: 3})
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("expected ErrUnhealthy, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestProbe_WaitCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := NewProbe(nil, Sleep, testutil.DiscardLogger())
	_, err := probe.Wait(ctx, "http://127.0.0.1:1/health", DefaultSchedule())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() on cancelled ctx = %v, want context.Canceled", err)
	}
}
