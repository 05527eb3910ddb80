package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/shoplocal/internal/service"
)

// ActionHandler is the terminal handler behind the quota gate. Upstream
// services call it to perform a metered action in one round trip: the gate
// checks and charges the quota, and the handler records the reporting stat.
type ActionHandler struct {
	stats  service.UsageStatsService
	logger *slog.Logger
}

// NewActionHandler creates a new ActionHandler.
func NewActionHandler(stats service.UsageStatsService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{stats: stats, logger: logger}
}

// ActionResponse is returned by Perform.
type ActionResponse struct {
	Performed bool `json:"performed"`
}

// Perform handles POST /api/users/{userID}/actions/{type}. It must be mounted
// behind the quota gate; on its own it does no quota accounting.
func (h *ActionHandler) Perform(w http.ResponseWriter, r *http.Request) {
	const op = "handler.action.perform"

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

	// Stats are best effort; a failure here must not undo the charge.
	if _, err := h.stats.RecordUsage(r.Context(), service.RecordUsageParams{
		UserID:  userID,
		Feature: string(quotaType),
		Count:   1,
	}); err != nil {
		h.logger.Warn("failed to record action stat",
			"user_id", userID,
			"quota_type", quotaType,
			"error", err,
		)
	}

	writeJSON(w, http.StatusOK, ActionResponse{Performed: true})
}
