package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr only", "203.0.113.9:4431", nil, "203.0.113.9"},
		{"x-forwarded-for single", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.7"}, "198.51.100.7"},
		{"x-forwarded-for chain", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.2"}, "198.51.100.7"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		for k, v := range tt.headers {
			req.Header.Set(k, v)
		}
		if got := clientIP(req); got != tt.want {
			t.Fatalf("%s: clientIP = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var inCtx string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if inCtx == "" {
		t.Fatal("request id missing from context")
	}
	if got := rr.Header().Get("X-Request-Id"); got != inCtx {
		t.Fatalf("header %q does not match context id %q", got, inCtx)
	}
}

func TestRequestIDMiddlewareKeepsIncomingID(t *testing.T) {
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "upstream-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-Id"); got != "upstream-1" {
		t.Fatalf("incoming request id was replaced: %q", got)
	}
}

func TestLoggingResponseWriterDefaultsTo200(t *testing.T) {
	rr := httptest.NewRecorder()
	lw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}
	if _, err := lw.Write([]byte("ok")); err != nil {
		t.Fatal(err)
	}
	if lw.status != http.StatusOK || lw.size != 2 {
		t.Fatalf("status=%d size=%d", lw.status, lw.size)
	}
}
