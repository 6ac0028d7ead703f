package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 2)
	handler := RateLimit(limiter, ClientIP, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/availability", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	other := httptest.NewRequest(http.MethodGet, "/api/v1/availability", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("a different client should have its own bucket, got %d", rec.Code)
	}
}

func TestCorrelationAndActorPropagate(t *testing.T) {
	var gotCorrelation, gotActor string
	handler := CorrelationID(ActorExtractor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = GetCorrelationID(r.Context())
		gotActor = GetActorID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	req.Header.Set("X-Actor-ID", "front-desk-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotCorrelation != "corr-1" || gotActor != "front-desk-7" {
		t.Fatalf("unexpected context values %q %q", gotCorrelation, gotActor)
	}
	if rec.Header().Get("X-Correlation-ID") != "corr-1" {
		t.Fatal("correlation id should be echoed")
	}
}

func TestRecovererReturnsJSON500(t *testing.T) {
	handler := Recoverer(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestIPRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2030, time.March, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(0.001, 1)
	limiter.now = func() time.Time { return now }
	limiter.lastSweep = now
	ctx := context.Background()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if ok, _ := limiter.Allow(ctx, ip); !ok {
			t.Fatalf("first request from %s refused", ip)
		}
	}
	if ok, _ := limiter.Allow(ctx, "10.0.0.1"); ok {
		t.Fatal("second request inside the burst window should be refused")
	}

	now = now.Add(5 * time.Minute)
	_, _ = limiter.Allow(ctx, "10.0.0.1")
	if got := limiter.size(); got != 3 {
		t.Fatalf("tracked %d clients before the idle limit, want 3", got)
	}

	now = now.Add(limiterIdleTTL)
	_, _ = limiter.Allow(ctx, "10.0.0.4")
	if got := limiter.size(); got != 1 {
		t.Fatalf("tracked %d clients after the idle limit, want 1", got)
	}
}
