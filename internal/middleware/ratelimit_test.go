package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *time.Time) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(limit, window)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_AllowUpToLimit(t *testing.T) {
	rl, _ := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		ok, _ := rl.Allow("192.168.1.1")
		assert.True(t, ok, "request %d", i+1)
	}
	ok, wait := rl.Allow("192.168.1.1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)

	okA, _ := rl.Allow("192.168.1.1")
	okB, _ := rl.Allow("192.168.1.2")
	require.True(t, okA && okB)

	again, _ := rl.Allow("192.168.1.1")
	assert.False(t, again)
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	rl, now := newTestLimiter(1, time.Minute)

	rl.Allow("ip")
	*now = now.Add(45 * time.Second)
	ok, wait := rl.Allow("ip")
	require.False(t, ok)
	assert.Equal(t, 15*time.Second, wait)

	*now = now.Add(15 * time.Second)
	ok, _ = rl.Allow("ip")
	assert.True(t, ok)
}

func TestRateLimiter_Evict(t *testing.T) {
	rl, now := newTestLimiter(1, time.Minute)

	rl.Allow("a")
	*now = now.Add(30 * time.Second)
	rl.Allow("b")
	*now = now.Add(40 * time.Second)
	rl.evict()

	assert.NotContains(t, rl.windows, "a")
	assert.Contains(t, rl.windows, "b")
}

func TestRateLimitMiddleware_BlocksAfterLimit(t *testing.T) {
	rl, _ := newTestLimiter(2, time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRateLimitMiddleware(rl, logger).Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users/u1/quotas", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)
	require.Equal(t, http.StatusOK, send().Code)

	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "10.0.0.1:5000", nil, "10.0.0.1"},
		{"remote without port", "10.0.0.1", nil, "10.0.0.1"},
		{"forwarded for", "10.0.0.1:5000", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, "203.0.113.5"},
		{"real ip", "10.0.0.1:5000", map[string]string{"X-Real-IP": " 198.51.100.7 "}, "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
