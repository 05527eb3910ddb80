// Package service contains the business logic layer.
//
// This file implements the quota engine: it answers "may this user perform
// this action now", records consumption, and rolls usage records into a new
// period once the current one has elapsed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/shoplocal/internal/catalog"
	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Rollover sources for metrics and logs.
const (
	rolloverOnAccess = "access"
	rolloverSweep    = "sweep"
	rolloverAdmin    = "admin"
)

const storeUnavailableMessage = "Quota service temporarily unavailable. Please try again."

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking and recording quota usage.
//
// Every method fails closed: when the decision cannot be computed the
// returned decision denies and the error carries domain.EUNAVAILABLE or
// domain.ECONFIG.
type QuotaService interface {
	// Check returns the user's current standing for one quota type, creating
	// or rolling the usage record as needed. It never consumes allowance.
	Check(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType) (domain.QuotaDecision, error)

	// Consume atomically adds amount to the usage counter. It does not check
	// the limit; callers check first. Returns false when nothing was recorded.
	Consume(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType, amount int) (bool, error)

	// TryConsume adds amount only if the result stays within the limit, in a
	// single atomic store operation. The boolean reports whether usage was
	// recorded; the decision reflects the state afterwards.
	TryConsume(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType, amount int) (domain.QuotaDecision, bool, error)

	// GetAllQuotas checks every quota type. A type whose check failed is
	// reported as denied and its error is returned alongside the map.
	GetAllQuotas(ctx context.Context, userID uuid.UUID) (map[domain.QuotaType]domain.QuotaDecision, error)

	// CanPerform wraps Check as an allowed/quota pair.
	CanPerform(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType) (domain.PerformResult, error)

	// ResetUsage zeroes the counter and starts a new period from now.
	ResetUsage(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType) (domain.QuotaDecision, error)

	// SweepStale rolls up to batchSize records whose period has elapsed and
	// returns how many were rolled.
	SweepStale(ctx context.Context, batchSize int) (int, error)
}

// QuotaOption configures the quota service.
type QuotaOption func(*quotaService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) QuotaOption {
	return func(s *quotaService) {
		s.now = now
	}
}

// WithLocation sets the reference location for period boundaries.
// Defaults to UTC.
func WithLocation(loc *time.Location) QuotaOption {
	return func(s *quotaService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	usage         store.UsageStore
	subscriptions SubscriptionService
	catalog       *catalog.Catalog
	logger        *slog.Logger
	now           func() time.Time
	loc           *time.Location
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(
	usage store.UsageStore,
	subscriptions SubscriptionService,
	cat *catalog.Catalog,
	logger *slog.Logger,
	opts ...QuotaOption,
) QuotaService {
	s := &quotaService{
		usage:         usage,
		subscriptions: subscriptions,
		catalog:       cat,
		logger:        logger,
		now:           time.Now,
		loc:           time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *quotaService) Check(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType) (domain.QuotaDecision, error) {
	const op = "quota.check"

	rec, err := s.load(ctx, op, userID, quotaType)
	if err != nil {
		metrics.QuotaCheckFailed(string(quotaType))
		return domain.DeniedDecision(), err
	}

	decision := rec.Decision()
	metrics.QuotaChecked(string(quotaType), decision.CanUse)
	if !decision.CanUse {
		s.logger.Info("quota exhausted",
			"user_id", userID,
			"quota_type", quotaType,
			"used", decision.Current,
			"limit", decision.Max,
			"reset_at", decision.ResetAt,
		)
	}
	return decision, nil
}

func (s *quotaService) Consume(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType, amount int) (bool, error) {
	const op = "quota.consume"

	if amount < 1 {
		return false, domain.Invalid(op, "amount must be at least 1")
	}

	rec, err := s.load(ctx, op, userID, quotaType)
	if err != nil {
		return false, err
	}

	updated, err := s.usage.Increment(ctx, rec.Key(), amount)
	if err != nil {
		return false, s.storeFailure(err, op, "increment", userID, quotaType)
	}

	metrics.QuotaConsumed(string(quotaType), amount)
	s.logger.Debug("quota consumed",
		"user_id", userID,
		"quota_type", quotaType,
		"amount", amount,
		"current", updated.CurrentUsage,
		"limit", updated.MaxLimit,
	)
	return true, nil
}

func (s *quotaService) TryConsume(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType, amount int) (domain.QuotaDecision, bool, error) {
	const op = "quota.try_consume"

	if amount < 1 {
		return domain.DeniedDecision(), false, domain.Invalid(op, "amount must be at least 1")
	}

	rec, err := s.load(ctx, op, userID, quotaType)
	if err != nil {
		return domain.DeniedDecision(), false, err
	}

	updated, err := s.usage.IncrementIfAvailable(ctx, rec.Key(), amount)
	if errors.Is(err, store.ErrLimitReached) {
		if updated == nil {
			updated = rec
		}
		metrics.QuotaReserved(string(quotaType), false)
		s.logger.Info("quota reservation rejected",
			"user_id", userID,
			"quota_type", quotaType,
			"amount", amount,
			"used", updated.CurrentUsage,
			"limit", updated.MaxLimit,
		)
		return updated.Decision(), false, nil
	}
	if err != nil {
		return domain.DeniedDecision(), false, s.storeFailure(err, op, "increment_if_available", userID, quotaType)
	}

	metrics.QuotaReserved(string(quotaType), true)
	metrics.QuotaConsumed(string(quotaType), amount)
	return updated.Decision(), true, nil
}

func (s *quotaService) GetAllQuotas(ctx context.Context, userID uuid.UUID) (map[domain.QuotaType]domain.QuotaDecision, error) {
	decisions := make([]domain.QuotaDecision, len(domain.AllQuotaTypes))
	errs := make([]error, len(domain.AllQuotaTypes))

	// A plain Group: one failing type must not cancel the others.
	var g errgroup.Group
	for i, qt := range domain.AllQuotaTypes {
		g.Go(func() error {
			decisions[i], errs[i] = s.Check(ctx, userID, qt)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[domain.QuotaType]domain.QuotaDecision, len(domain.AllQuotaTypes))
	for i, qt := range domain.AllQuotaTypes {
		out[qt] = decisions[i]
	}
	return out, errors.Join(errs...)
}

func (s *quotaService) CanPerform(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType) (domain.PerformResult, error) {
	decision, err := s.Check(ctx, userID, quotaType)
	return domain.PerformResult{Allowed: decision.CanUse, Quota: decision}, err
}

func (s *quotaService) ResetUsage(ctx context.Context, userID uuid.UUID, quotaType domain.QuotaType) (domain.QuotaDecision, error) {
	const op = "quota.reset_usage"

	rec, err := s.load(ctx, op, userID, quotaType)
	if err != nil {
		return domain.DeniedDecision(), err
	}

	next := domain.NextReset(s.now(), rec.ResetCadence, s.loc)
	rolled, err := s.usage.Rollover(ctx, rec.Key(), rec.NextResetAt, next)
	if err != nil {
		return domain.DeniedDecision(), s.storeFailure(err, op, "rollover", userID, quotaType)
	}

	metrics.QuotaRolledOver(string(quotaType), rolloverAdmin)
	s.logger.Info("quota usage reset",
		"user_id", userID,
		"quota_type", quotaType,
		"previous_usage", rec.CurrentUsage,
		"next_reset_at", rolled.NextResetAt,
	)
	return rolled.Decision(), nil
}

func (s *quotaService) SweepStale(ctx context.Context, batchSize int) (int, error) {
	const op = "quota.sweep_stale"

	now := s.now()
	stale, err := s.usage.ListStale(ctx, now, batchSize)
	if err != nil {
		metrics.StoreFailed("list_stale")
		return 0, domain.Unavailable(err, op, storeUnavailableMessage)
	}

	rolled := 0
	var errs []error
	for i := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rec := &stale[i]
		ok, err := s.rollover(ctx, rec, domain.NextReset(now, rec.ResetCadence, s.loc), rolloverSweep)
		if err != nil {
			metrics.StoreFailed("rollover")
			errs = append(errs, fmt.Errorf("rollover %s/%s: %w", rec.UserID, rec.QuotaType, err))
			continue
		}
		if ok {
			rolled++
		}
	}

	if len(errs) > 0 {
		s.logger.Error("stale quota sweep incomplete",
			"candidates", len(stale),
			"rolled", rolled,
			"failures", len(errs),
		)
		return rolled, domain.Unavailable(errors.Join(errs...), op, storeUnavailableMessage)
	}
	if rolled > 0 {
		s.logger.Info("stale quotas rolled over", "count", rolled)
	}
	return rolled, nil
}

// =============================================================================
// Record lifecycle
// =============================================================================

// load returns a fresh, correctly-limited record for (user, type): it
// resolves the level, creates the record if absent, rolls it over if its
// period has elapsed and re-derives the limit snapshot if the catalog entry
// for the user's level differs from it.
func (s *quotaService) load(ctx context.Context, op string, userID uuid.UUID, quotaType domain.QuotaType) (*domain.UsageRecord, error) {
	if _, ok := domain.ParseQuotaType(string(quotaType)); !ok {
		return nil, domain.Errorf(domain.EINVALID, op, "unknown quota type %q", quotaType)
	}

	level, err := s.subscriptions.Level(ctx, userID)
	if err != nil {
		if domain.IsUnavailable(err) {
			metrics.StoreFailed("subscription_level")
		}
		return nil, err
	}

	entry, ok := s.catalog.Lookup(level, quotaType)
	if !ok {
		s.logger.Error("no catalog entry",
			"user_id", userID,
			"level", level,
			"quota_type", quotaType,
		)
		return nil, domain.Misconfigured(op, string(level), quotaType)
	}

	now := s.now()
	key := domain.UsageKey{UserID: userID, QuotaType: quotaType}

	rec, err := s.usage.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		rec, err = s.usage.Create(ctx, &domain.UsageRecord{
			UserID:       userID,
			QuotaType:    quotaType,
			MaxLimit:     entry.MaxLimit,
			ResetCadence: entry.ResetCadence,
			NextResetAt:  domain.NextReset(now, entry.ResetCadence, s.loc),
		})
		if err != nil {
			return nil, s.storeFailure(err, op, "create", userID, quotaType)
		}
	} else if err != nil {
		return nil, s.storeFailure(err, op, "get", userID, quotaType)
	}

	if rec.IsStale(now) {
		if _, err := s.rollover(ctx, rec, domain.NextReset(now, entry.ResetCadence, s.loc), rolloverOnAccess); err != nil {
			return nil, s.storeFailure(err, op, "rollover", userID, quotaType)
		}
	}

	if rec.MaxLimit != entry.MaxLimit || rec.ResetCadence != entry.ResetCadence {
		next := rec.NextResetAt
		if rec.ResetCadence != entry.ResetCadence {
			next = domain.NextReset(now, entry.ResetCadence, s.loc)
		}
		updated, err := s.usage.UpdateLimit(ctx, key, entry.MaxLimit, entry.ResetCadence, next)
		if err != nil {
			return nil, s.storeFailure(err, op, "update_limit", userID, quotaType)
		}
		s.logger.Info("quota limit re-derived",
			"user_id", userID,
			"quota_type", quotaType,
			"level", level,
			"old_limit", rec.MaxLimit,
			"new_limit", updated.MaxLimit,
		)
		rec = updated
	}

	return rec, nil
}

// rollover moves rec into the period ending at next, replacing *rec with the
// stored row. It reports whether the stored period advanced past the stale
// boundary. Concurrent callers may both observe true; only one of them
// zeroed the counter.
func (s *quotaService) rollover(ctx context.Context, rec *domain.UsageRecord, next time.Time, source string) (bool, error) {
	stale := rec.NextResetAt
	rolled, err := s.usage.Rollover(ctx, rec.Key(), stale, next)
	if err != nil {
		return false, err
	}
	*rec = *rolled

	if rolled.NextResetAt.Equal(stale) {
		return false, nil
	}
	metrics.QuotaRolledOver(string(rec.QuotaType), source)
	s.logger.Debug("quota rolled over",
		"user_id", rec.UserID,
		"quota_type", rec.QuotaType,
		"source", source,
		"next_reset_at", rolled.NextResetAt,
	)
	return true, nil
}

func (s *quotaService) storeFailure(err error, op, action string, userID uuid.UUID, quotaType domain.QuotaType) error {
	metrics.StoreFailed(action)
	s.logger.Error("usage store failure",
		"op", op,
		"action", action,
		"user_id", userID,
		"quota_type", quotaType,
		"error", err,
	)
	return domain.Unavailable(err, op, storeUnavailableMessage)
}
