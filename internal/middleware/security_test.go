package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Security Headers Middleware Tests
// =============================================================================

func serveSecured(isSecure bool, method string) *httptest.ResponseRecorder {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"recorded":true}`))
	})

	rec := httptest.NewRecorder()
	NewSecurityHeadersMiddleware(isSecure).Handler(handler).ServeHTTP(rec, httptest.NewRequest(method, "/api/users/u1/usage", nil))
	return rec
}

func TestSecurityHeadersMiddleware_SetsAllHeaders(t *testing.T) {
	rec := serveSecured(false, "GET")

	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": apiCSP,
		"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
		"Cache-Control":           "no-store",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestSecurityHeadersMiddleware_HSTSOnlyWhenSecure(t *testing.T) {
	if got := serveSecured(true, "GET").Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("expected HSTS header in production")
	}
	if got := serveSecured(false, "GET").Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("expected no HSTS header in development, got %q", got)
	}
}

func TestSecurityHeadersMiddleware_PassesThroughResponse(t *testing.T) {
	rec := serveSecured(true, "POST")

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Error("handler headers should be preserved")
	}
	if rec.Body.String() != `{"recorded":true}` {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}
