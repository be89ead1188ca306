package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutate": {RequestsPerMinute: 1, Burst: 1},
	})
	handler := limiter.Middleware("mutate")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/sales", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"mutate": {RequestsPerMinute: 1, Burst: 1},
	})
	handler := limiter.Middleware("mutate")(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/sales", nil)
	first.Header.Set("Authorization", "Bearer token-a")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, first)
	if res.Code != http.StatusOK {
		t.Fatalf("client a: %d", res.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/sales", nil)
	second.Header.Set("Authorization", "Bearer token-b")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, second)
	if res.Code != http.StatusOK {
		t.Fatalf("client b must have its own bucket, got %d", res.Code)
	}
}

func TestRateLimiterUnknownKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{})
	handler := limiter.Middleware("mutate")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/sales", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, res.Code)
		}
	}
}
