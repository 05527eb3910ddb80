package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxUsageRange bounds ListUsage queries.
const MaxUsageRange = 366 * 24 * time.Hour

// =============================================================================
// Interface Definition
// =============================================================================

// UsageStatsService records per-day feature counters for reporting. It is
// independent of quota enforcement.
type UsageStatsService interface {
	// RecordUsage adds count to today's counter for (user, feature).
	// Returns false when nothing was recorded.
	RecordUsage(ctx context.Context, params RecordUsageParams) (bool, error)

	// ListUsage returns a user's counters for calendar days in [from, to].
	ListUsage(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.UsageStatEntry, error)

	// ListDay returns every counter recorded on day.
	ListDay(ctx context.Context, day time.Time) ([]domain.UsageStatEntry, error)
}

// RecordUsageParams contains the fields for RecordUsage.
type RecordUsageParams struct {
	UserID  uuid.UUID `validate:"required"`
	Feature string    `validate:"required,max=64,printascii"`
	Count   int       `validate:"gte=1,lte=10000"`
}

// =============================================================================
// Implementation
// =============================================================================

type usageStatsService struct {
	stats    store.UsageStatsStore
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location
}

// NewUsageStatsService creates a new UsageStatsService. loc selects the
// calendar used to bucket counters by day; nil means UTC.
func NewUsageStatsService(stats store.UsageStatsStore, loc *time.Location, logger *slog.Logger) UsageStatsService {
	if loc == nil {
		loc = time.UTC
	}
	return &usageStatsService{
		stats:    stats,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
		loc:      loc,
	}
}

func (s *usageStatsService) RecordUsage(ctx context.Context, params RecordUsageParams) (bool, error) {
	const op = "usage_stats.record"

	params.Feature = strings.TrimSpace(params.Feature)
	if err := s.validate.Struct(params); err != nil {
		metrics.UsageStatsRecorded.WithLabelValues("invalid").Inc()
		return false, domain.Invalid(op, "feature must be 1-64 printable characters and count between 1 and 10000")
	}

	day := store.Day(s.now(), s.loc)
	entry, err := s.stats.AddUsage(ctx, params.UserID, params.Feature, day, params.Count)
	if err != nil {
		metrics.UsageStatsRecorded.WithLabelValues("error").Inc()
		s.logger.Error("failed to record usage",
			"user_id", params.UserID,
			"feature", params.Feature,
			"error", err,
		)
		return false, domain.Unavailable(err, op, "failed to record usage")
	}

	metrics.UsageStatsRecorded.WithLabelValues("recorded").Add(float64(params.Count))
	s.logger.Debug("usage recorded",
		"user_id", params.UserID,
		"feature", params.Feature,
		"day", entry.UsageDate.Format(time.DateOnly),
		"total", entry.UsageCount,
	)
	return true, nil
}

func (s *usageStatsService) ListUsage(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.UsageStatEntry, error) {
	const op = "usage_stats.list"

	from = store.Day(from, time.UTC)
	to = store.Day(to, time.UTC)
	if to.Before(from) {
		return nil, domain.Invalid(op, "from must not be after to")
	}
	if to.Sub(from) > MaxUsageRange {
		return nil, domain.Invalid(op, "date range must not exceed one year")
	}

	entries, err := s.stats.ListForUser(ctx, userID, from, to)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to load usage")
	}
	return entries, nil
}

func (s *usageStatsService) ListDay(ctx context.Context, day time.Time) ([]domain.UsageStatEntry, error) {
	const op = "usage_stats.list_day"

	entries, err := s.stats.ListByDay(ctx, store.Day(day, time.UTC))
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to load usage")
	}
	return entries, nil
}
