package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Request Logging Middleware Tests
// =============================================================================

func serveLogged(t *testing.T, status int, method, target string, setup func(*http.Request)) string {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	wrapped := NewRequestLoggingMiddleware(logger).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if setup != nil {
		setup(req)
	}
	wrapped.ServeHTTP(httptest.NewRecorder(), req)
	return buf.String()
}

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	out := serveLogged(t, http.StatusOK, "GET", "/api/users/u1/quotas", nil)

	for _, want := range []string{"GET", "/api/users/u1/quotas", "status=200", "duration_ms", "ip=192.168.1.1", "level=INFO"} {
		if !strings.Contains(out, want) {
			t.Errorf("log should contain %q, got: %s", want, out)
		}
	}
}

func TestRequestLoggingMiddleware_LogsForwardedClientIP(t *testing.T) {
	out := serveLogged(t, http.StatusOK, "GET", "/api/users/u1/quotas", func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.195, 10.0.0.2")
	})

	if !strings.Contains(out, "203.0.113.195") {
		t.Errorf("log should contain client IP from X-Forwarded-For, got: %s", out)
	}
}

func TestRequestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=INFO"},
		{http.StatusTooManyRequests, "level=DEBUG"},
		{http.StatusServiceUnavailable, "level=WARN"},
	}

	for _, tt := range tests {
		out := serveLogged(t, tt.status, "POST", "/api/users/u1/quotas/chat/consume", nil)
		if !strings.Contains(out, tt.level) {
			t.Errorf("status %d should log at %s, got: %s", tt.status, tt.level, out)
		}
	}
}

func TestRequestLoggingMiddleware_RedactsSensitiveQueryParams(t *testing.T) {
	out := serveLogged(t, http.StatusOK, "GET", "/api/users/u1/usage?from=2025-03-01&api_key=s3cr3t", nil)

	if strings.Contains(out, "s3cr3t") {
		t.Errorf("log should not contain the key value, got: %s", out)
	}
	if !strings.Contains(out, "from=2025-03-01") {
		t.Errorf("log should keep ordinary params, got: %s", out)
	}
}

func TestRequestLoggingMiddleware_SkipsNoisyEndpoints(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		if out := serveLogged(t, http.StatusOK, "GET", path, nil); out != "" {
			t.Errorf("%s should not be logged, got: %s", path, out)
		}
	}
}

func TestRequestLoggingMiddleware_PassesResponseThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	wrapped := NewRequestLoggingMiddleware(logger).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("response body"))
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/api/users/u1/usage", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "value" {
		t.Error("custom header should be preserved")
	}
	if rec.Body.String() != "response body" {
		t.Errorf("response body should be preserved, got: %s", rec.Body.String())
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
		want  string
	}{
		{"no query", "/api", "", "/api"},
		{"plain params", "/api", "from=a&to=b", "/api?from=a&to=b"},
		{"redacted", "/api", "token=abc&to=b", "/api?token=[REDACTED]&to=b"},
		{"case insensitive", "/api", "Email=x@y.z", "/api?Email=[REDACTED]"},
		{"valueless dropped", "/api", "flag", "/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizePath(tt.path, tt.query); got != tt.want {
				t.Errorf("sanitizePath(%q, %q) = %q, want %q", tt.path, tt.query, got, tt.want)
			}
		})
	}
}
