package middleware

import (
	"crypto/subtle"
	"net/http"
)

// MetricsAuthMiddleware puts HTTP basic auth in front of operator endpoints
// (/metrics and the local export file server).
type MetricsAuthMiddleware struct {
	user, pass []byte
}

// NewMetricsAuthMiddleware returns a guard for the given credentials. With
// both empty the guard lets every request through.
func NewMetricsAuthMiddleware(username, password string) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{user: []byte(username), pass: []byte(password)}
}

// Enabled reports whether credentials are required.
func (m *MetricsAuthMiddleware) Enabled() bool {
	return len(m.user) > 0 || len(m.pass) > 0
}

func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics", charset="UTF-8"`)
			writeGateError(w, http.StatusUnauthorized, "unauthorized", "Authentication required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *MetricsAuthMiddleware) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	// Both comparisons always run.
	userOK := subtle.ConstantTimeCompare([]byte(user), m.user)
	passOK := subtle.ConstantTimeCompare([]byte(pass), m.pass)
	return userOK&passOK == 1
}
