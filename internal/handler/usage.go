package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/DukeRupert/shoplocal/internal/store"
)

// defaultUsageWindow is the range returned when from/to are omitted.
const defaultUsageWindow = 30

// UsageHandler serves the usage statistics API.
type UsageHandler struct {
	stats  service.UsageStatsService
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewUsageHandler creates a new UsageHandler. loc must be the location the
// stats service buckets days in so the default window ends on its today;
// nil means UTC.
func NewUsageHandler(stats service.UsageStatsService, loc *time.Location, logger *slog.Logger) *UsageHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageHandler{
		stats:  stats,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
}

// RegisterRoutes registers all usage routes with the provided mux.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users/{userID}/usage", h.Record)
	mux.HandleFunc("GET /api/users/{userID}/usage", h.List)
}

// RecordUsageRequest is the body of Record. Count defaults to 1.
type RecordUsageRequest struct {
	Feature string `json:"feature"`
	Count   int    `json:"count"`
}

// RecordUsageResponse is returned by Record.
type RecordUsageResponse struct {
	Recorded bool `json:"recorded"`
}

// UsageResponse is returned by List.
type UsageResponse struct {
	From  string                  `json:"from"`
	To    string                  `json:"to"`
	Usage []domain.UsageStatEntry `json:"usage"`
}

// Record handles POST /api/users/{userID}/usage.
func (h *UsageHandler) Record(w http.ResponseWriter, r *http.Request) {
	const op = "handler.usage.record"

	userID, err := userIDFromPath(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	req := RecordUsageRequest{Count: 1}
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	recorded, err := h.stats.RecordUsage(r.Context(), service.RecordUsageParams{
		UserID:  userID,
		Feature: req.Feature,
		Count:   req.Count,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, RecordUsageResponse{Recorded: recorded})
}

// List handles GET /api/users/{userID}/usage?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *UsageHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handler.usage.list"

	userID, err := userIDFromPath(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	today := store.Day(h.now(), h.loc)
	to, err := parseDate(r.URL.Query().Get("to"), today, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	from, err := parseDate(r.URL.Query().Get("from"), to.AddDate(0, 0, -defaultUsageWindow), op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	entries, err := h.stats.ListUsage(r.Context(), userID, from, to)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.UsageStatEntry{}
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		From:  from.Format(time.DateOnly),
		To:    to.Format(time.DateOnly),
		Usage: entries,
	})
}

func parseDate(raw string, fallback time.Time, op string) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, domain.Errorf(domain.EINVALID, op, "dates must be formatted YYYY-MM-DD")
	}
	return t, nil
}
