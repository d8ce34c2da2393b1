package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterRejectsAfterBurst(t *testing.T) {
	handler := RateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})(okHandler())

	for i := 0; i < 2; i++ {
		rr := serveFrom(handler, "10.0.0.1:1234")
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}
	rr := serveFrom(handler, "10.0.0.1:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRateLimiterTracksClientsSeparately(t *testing.T) {
	handler := RateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})(okHandler())

	if rr := serveFrom(handler, "10.0.0.1:1000"); rr.Code != http.StatusOK {
		t.Fatalf("first client status = %d", rr.Code)
	}
	if rr := serveFrom(handler, "10.0.0.2:1000"); rr.Code != http.StatusOK {
		t.Fatalf("second client status = %d", rr.Code)
	}
	if rr := serveFrom(handler, "10.0.0.1:2000"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("first client again status = %d", rr.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	handler := RateLimiter(RateLimitConfig{})(okHandler())
	for i := 0; i < 20; i++ {
		if rr := serveFrom(handler, "10.0.0.1:1"); rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
