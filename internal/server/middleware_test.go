package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestWebhookRateLimit(t *testing.T) {
	handler := NewWebhookRateLimitMiddleware(2, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/in/sample", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	// Different source ports share the same bucket
	if w := send("192.0.2.10:40001"); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	if w := send("192.0.2.10:40002"); w.Code != http.StatusOK {
		t.Fatalf("second request status = %d, want 200", w.Code)
	}

	w := send("192.0.2.10:40003")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set")
	}

	if w := send("192.0.2.11:40001"); w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.10:5000", "192.0.2.10"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.10", "192.0.2.10"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
