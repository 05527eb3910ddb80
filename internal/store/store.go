// Package store defines the persistence contracts used by the quota engine and
// the usage statistics recorder, plus an in-memory implementation and a
// circuit-breaking decorator.
//
// Implementations:
// - postgres.UsageStore: production store backed by the usage_records table
// - redisstore.UsageStore: Redis hashes mutated through Lua scripts
// - Memory: process-local maps for development and tests
//
// Every implementation must apply increments atomically. The engine never
// performs read-modify-write on CurrentUsage; IncrementUsage is the only path
// that raises it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrLimitReached is returned by IncrementIfAvailable when the increment
	// would take usage past the record's limit.
	ErrLimitReached = errors.New("store: limit reached")
)

// UsageStore persists UsageRecords keyed by (user, quota type).
type UsageStore interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key domain.UsageKey) (*domain.UsageRecord, error)

	// Create inserts rec if no record exists for its key. When another caller
	// created the row first, the existing row is returned unchanged.
	Create(ctx context.Context, rec *domain.UsageRecord) (*domain.UsageRecord, error)

	// Increment atomically adds amount to CurrentUsage and returns the
	// updated record. Returns ErrNotFound if the record does not exist.
	Increment(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error)

	// IncrementIfAvailable atomically adds amount only if the result stays
	// within MaxLimit. Returns ErrLimitReached (with the current record) when
	// it does not.
	IncrementIfAvailable(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error)

	// Rollover zeroes CurrentUsage and moves NextResetAt to nextResetAt, but
	// only if the stored NextResetAt still equals staleResetAt. If another
	// caller already rolled the record, the current row is returned as is.
	Rollover(ctx context.Context, key domain.UsageKey, staleResetAt, nextResetAt time.Time) (*domain.UsageRecord, error)

	// UpdateLimit replaces the limit snapshot and cadence without touching
	// CurrentUsage.
	UpdateLimit(ctx context.Context, key domain.UsageKey, maxLimit int, cadence domain.ResetCadence, nextResetAt time.Time) (*domain.UsageRecord, error)

	// ListStale returns up to limit records whose NextResetAt is before now.
	ListStale(ctx context.Context, now time.Time, limit int) ([]domain.UsageRecord, error)
}

// SubscriptionStore resolves a user's raw subscription level.
type SubscriptionStore interface {
	// GetSubscriptionLevel returns the stored level string, or ErrNotFound
	// when the user has no profile row.
	GetSubscriptionLevel(ctx context.Context, userID uuid.UUID) (string, error)

	// SetSubscriptionLevel creates or updates the user's level.
	SetSubscriptionLevel(ctx context.Context, userID uuid.UUID, email string, level string) error
}

// UsageStatsStore accumulates per-day feature counters.
type UsageStatsStore interface {
	// AddUsage adds count to the (user, feature, day) counter, creating it
	// if needed, and returns the new total.
	AddUsage(ctx context.Context, userID uuid.UUID, feature string, day time.Time, count int) (domain.UsageStatEntry, error)

	// ListForUser returns a user's counters for days in [from, to].
	ListForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.UsageStatEntry, error)

	// ListByDay returns every counter recorded for day.
	ListByDay(ctx context.Context, day time.Time) ([]domain.UsageStatEntry, error)
}

// Day truncates t to its calendar date in loc, expressed as midnight UTC so
// that dates compare equal regardless of the caller's location.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}
