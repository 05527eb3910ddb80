package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/google/uuid"
)

// QuotaHandler serves the quota API. The user id comes from the path;
// authenticating the caller is the responsibility of the fronting gateway.
type QuotaHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:  quota,
		logger: logger,
	}
}

// RegisterRoutes registers all quota routes with the provided mux.
//
// Routes:
//   - GET  /api/users/{userID}/quotas: every quota decision
//   - GET  /api/users/{userID}/quotas/{type}: allowed flag and decision
//   - POST /api/users/{userID}/quotas/{type}/consume: record usage
//   - POST /api/users/{userID}/quotas/{type}/reserve: record usage if within limit
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users/{userID}/quotas", h.List)
	mux.HandleFunc("GET /api/users/{userID}/quotas/{type}", h.Show)
	mux.HandleFunc("POST /api/users/{userID}/quotas/{type}/consume", h.Consume)
	mux.HandleFunc("POST /api/users/{userID}/quotas/{type}/reserve", h.Reserve)
}

// QuotasResponse is the body of List.
type QuotasResponse struct {
	Quotas map[domain.QuotaType]domain.QuotaDecision `json:"quotas"`
}

// ConsumeRequest is the body of Consume and Reserve. Amount defaults to 1.
type ConsumeRequest struct {
	Amount int `json:"amount"`
}

// ConsumeResponse is returned by Consume.
type ConsumeResponse struct {
	Recorded bool `json:"recorded"`
	// Quota is omitted when the post-consume state could not be read.
	Quota *domain.QuotaDecision `json:"quota,omitempty"`
}

// ReserveResponse is returned by Reserve.
type ReserveResponse struct {
	Reserved bool                 `json:"reserved"`
	Quota    domain.QuotaDecision `json:"quota"`
}

// List handles GET /api/users/{userID}/quotas.
func (h *QuotaHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handler.quota.list"

	userID, err := userIDFromPath(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	quotas, err := h.quota.GetAllQuotas(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, QuotasResponse{Quotas: quotas})
}

// Show handles GET /api/users/{userID}/quotas/{type}.
func (h *QuotaHandler) Show(w http.ResponseWriter, r *http.Request) {
	const op = "handler.quota.show"

	userID, err := userIDFromPath(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	quotaType, err := quotaTypeFromPath(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.quota.CanPerform(r.Context(), userID, quotaType)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Consume handles POST /api/users/{userID}/quotas/{type}/consume. It records
// usage unconditionally; callers are expected to have checked first.
func (h *QuotaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	const op = "handler.quota.consume"

	userID, quotaType, req, err := h.parseConsume(w, r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if _, err := h.quota.Consume(r.Context(), userID, quotaType, req.Amount); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := ConsumeResponse{Recorded: true}
	decision, err := h.quota.Check(r.Context(), userID, quotaType)
	if err != nil {
		// Usage is recorded; report it even though the post-state is unknown.
		h.logger.Warn("post-consume check failed",
			"user_id", userID,
			"quota_type", quotaType,
			"error", err,
		)
	} else {
		resp.Quota = &decision
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reserve handles POST /api/users/{userID}/quotas/{type}/reserve. The
// increment is applied only if it keeps usage within the limit; a rejected
// reservation responds 429 with the current decision.
func (h *QuotaHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	const op = "handler.quota.reserve"

	userID, quotaType, req, err := h.parseConsume(w, r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision, reserved, err := h.quota.TryConsume(r.Context(), userID, quotaType, req.Amount)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if !reserved {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, ReserveResponse{Reserved: reserved, Quota: decision})
}

func (h *QuotaHandler) parseConsume(w http.ResponseWriter, r *http.Request, op string) (uuid.UUID, domain.QuotaType, ConsumeRequest, error) {
	req := ConsumeRequest{Amount: 1}

	userID, err := userIDFromPath(r, op)
	if err != nil {
		return uuid.Nil, "", req, err
	}
	quotaType, err := quotaTypeFromPath(r, op)
	if err != nil {
		return uuid.Nil, "", req, err
	}
	if err := decodeJSON(w, r, op, &req); err != nil {
		return uuid.Nil, "", req, err
	}
	if req.Amount < 1 {
		return uuid.Nil, "", req, domain.Invalid(op, "amount must be at least 1")
	}
	return userID, quotaType, req, nil
}
