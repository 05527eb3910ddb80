package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/google/uuid"
)

// =============================================================================
// Quota Gate
// =============================================================================

// GateTarget resolves which user and quota type a request is charged against.
type GateTarget func(r *http.Request) (uuid.UUID, domain.QuotaType, error)

// PathTarget reads the user id and quota type from mux path values.
func PathTarget(userParam, typeParam string) GateTarget {
	return func(r *http.Request) (uuid.UUID, domain.QuotaType, error) {
		const op = "middleware.quota_gate"

		userID, err := uuid.Parse(r.PathValue(userParam))
		if err != nil || userID == uuid.Nil {
			return uuid.Nil, "", domain.Invalid(op, "invalid user id")
		}
		quotaType, ok := domain.ParseQuotaType(r.PathValue(typeParam))
		if !ok {
			return uuid.Nil, "", domain.Invalid(op, "unknown quota type")
		}
		return userID, quotaType, nil
	}
}

// FixedTypeTarget reads the user id from a path value and always charges quotaType.
func FixedTypeTarget(userParam string, quotaType domain.QuotaType) GateTarget {
	return func(r *http.Request) (uuid.UUID, domain.QuotaType, error) {
		userID, err := uuid.Parse(r.PathValue(userParam))
		if err != nil || userID == uuid.Nil {
			return uuid.Nil, "", domain.Invalid("middleware.quota_gate", "invalid user id")
		}
		return userID, quotaType, nil
	}
}

// QuotaGate meters a handler: the quota is checked before the handler runs
// and one unit is consumed only after it responds 2xx. A denied check answers
// 429 with the decision; a store failure answers 503 and the handler never runs.
type QuotaGate struct {
	quota  service.QuotaService
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaGate creates a new QuotaGate.
func NewQuotaGate(quota service.QuotaService, logger *slog.Logger) *QuotaGate {
	return &QuotaGate{
		quota:  quota,
		logger: logger,
		now:    time.Now,
	}
}

// gateDenied is the 429 body.
type gateDenied struct {
	Error   string               `json:"error"`
	Message string               `json:"message"`
	Quota   domain.QuotaDecision `json:"quota"`
}

// Require returns middleware charging the target resolved for each request.
func (g *QuotaGate) Require(target GateTarget) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, quotaType, err := target(r)
			if err != nil {
				writeGateError(w, http.StatusBadRequest, "invalid_request", domain.ErrorMessage(err))
				return
			}

			decision, err := g.quota.Check(r.Context(), userID, quotaType)
			if err != nil {
				g.refuse(w, r, userID, quotaType, err)
				return
			}
			if !decision.CanUse {
				metrics.QuotaGateTotal.WithLabelValues(string(quotaType), "denied").Inc()
				g.deny(w, quotaType, decision)
				return
			}
			metrics.QuotaGateTotal.WithLabelValues(string(quotaType), "passed").Inc()

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 300 {
				return
			}

			// The action already happened; a cancelled client must not skip the charge.
			ctx := context.WithoutCancel(r.Context())
			if _, err := g.quota.Consume(ctx, userID, quotaType, 1); err != nil {
				g.logger.Error("failed to record gated usage",
					"user_id", userID,
					"quota_type", quotaType,
					"path", r.URL.Path,
					"error", err,
				)
				return
			}
			metrics.QuotaGateTotal.WithLabelValues(string(quotaType), "charged").Inc()
		})
	}
}

func (g *QuotaGate) refuse(w http.ResponseWriter, r *http.Request, userID uuid.UUID, quotaType domain.QuotaType, err error) {
	switch domain.ErrorCode(err) {
	case domain.EINVALID:
		writeGateError(w, http.StatusBadRequest, "invalid_request", domain.ErrorMessage(err))
	case domain.ECONFIG:
		metrics.QuotaGateTotal.WithLabelValues(string(quotaType), "denied").Inc()
		writeGateError(w, http.StatusForbidden, "not_permitted", "This action is not available on your plan.")
	default:
		metrics.QuotaGateTotal.WithLabelValues(string(quotaType), "unavailable").Inc()
		g.logger.Warn("quota gate refused request",
			"user_id", userID,
			"quota_type", quotaType,
			"path", r.URL.Path,
			"error", err,
		)
		w.Header().Set("Retry-After", "5")
		writeGateError(w, http.StatusServiceUnavailable, "unavailable", "Usage limits could not be verified. Please try again.")
	}
}

func (g *QuotaGate) deny(w http.ResponseWriter, quotaType domain.QuotaType, decision domain.QuotaDecision) {
	if !decision.ResetAt.IsZero() {
		if wait := decision.ResetAt.Sub(g.now()); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(gateDenied{
		Error:   "quota_exceeded",
		Message: "You have reached the " + string(quotaType) + " limit for your plan.",
		Quota:   decision,
	})
}

func writeGateError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
