// Package postgres implements the store contracts on top of the sqlc
// repository. Every mutation is a single statement, so atomicity comes from
// PostgreSQL row locking rather than from application code.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/repository"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store is the production store. It satisfies store.UsageStore,
// store.SubscriptionStore and store.UsageStatsStore.
type Store struct {
	q *repository.Queries
}

var (
	_ store.UsageStore        = (*Store)(nil)
	_ store.SubscriptionStore = (*Store)(nil)
	_ store.UsageStatsStore   = (*Store)(nil)
)

// New creates a Store over a pool, connection or transaction.
func New(db repository.DBTX) *Store {
	return &Store{q: repository.New(db)}
}

// =============================================================================
// Usage records
// =============================================================================

func (s *Store) Get(ctx context.Context, key domain.UsageKey) (*domain.UsageRecord, error) {
	row, err := s.q.GetUsageRecord(ctx, repository.GetUsageRecordParams{
		UserID:    key.UserID,
		QuotaType: string(key.QuotaType),
	})
	if err != nil {
		return nil, mapErr("get usage record", err)
	}
	return toRecord(row), nil
}

// Create inserts with ON CONFLICT DO NOTHING. When the insert loses to a
// concurrent writer no row comes back, and the winner's row is read instead.
func (s *Store) Create(ctx context.Context, rec *domain.UsageRecord) (*domain.UsageRecord, error) {
	limit, err := toInt32(rec.MaxLimit)
	if err != nil {
		return nil, err
	}
	row, err := s.q.InsertUsageRecord(ctx, repository.InsertUsageRecordParams{
		UserID:       rec.UserID,
		QuotaType:    string(rec.QuotaType),
		MaxLimit:     limit,
		ResetCadence: string(rec.ResetCadence),
		NextResetAt:  rec.NextResetAt,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return s.Get(ctx, rec.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("insert usage record: %w", err)
	}
	return toRecord(row), nil
}

func (s *Store) Increment(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	n, err := toInt32(amount)
	if err != nil {
		return nil, err
	}
	row, err := s.q.IncrementUsage(ctx, repository.IncrementUsageParams{
		Amount:    n,
		UserID:    key.UserID,
		QuotaType: string(key.QuotaType),
	})
	if err != nil {
		return nil, mapErr("increment usage", err)
	}
	return toRecord(row), nil
}

// IncrementIfAvailable relies on the WHERE guard in the UPDATE. No returned
// row means either the record is missing or the limit would be exceeded; a
// follow-up read tells the two apart.
func (s *Store) IncrementIfAvailable(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	n, err := toInt32(amount)
	if err != nil {
		return nil, err
	}
	row, err := s.q.IncrementUsageIfAvailable(ctx, repository.IncrementUsageIfAvailableParams{
		Amount:    n,
		UserID:    key.UserID,
		QuotaType: string(key.QuotaType),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		return current, store.ErrLimitReached
	}
	if err != nil {
		return nil, fmt.Errorf("increment usage if available: %w", err)
	}
	return toRecord(row), nil
}

func (s *Store) Rollover(ctx context.Context, key domain.UsageKey, staleResetAt, nextResetAt time.Time) (*domain.UsageRecord, error) {
	row, err := s.q.RolloverUsageRecord(ctx, repository.RolloverUsageRecordParams{
		NextResetAt:  nextResetAt,
		UserID:       key.UserID,
		QuotaType:    string(key.QuotaType),
		StaleResetAt: staleResetAt,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Someone else already rolled it, or it never existed.
		return s.Get(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("rollover usage record: %w", err)
	}
	return toRecord(row), nil
}

func (s *Store) UpdateLimit(ctx context.Context, key domain.UsageKey, maxLimit int, cadence domain.ResetCadence, nextResetAt time.Time) (*domain.UsageRecord, error) {
	limit, err := toInt32(maxLimit)
	if err != nil {
		return nil, err
	}
	row, err := s.q.UpdateUsageLimit(ctx, repository.UpdateUsageLimitParams{
		UserID:       key.UserID,
		QuotaType:    string(key.QuotaType),
		MaxLimit:     limit,
		ResetCadence: string(cadence),
		NextResetAt:  nextResetAt,
	})
	if err != nil {
		return nil, mapErr("update usage limit", err)
	}
	return toRecord(row), nil
}

func (s *Store) ListStale(ctx context.Context, now time.Time, limit int) ([]domain.UsageRecord, error) {
	if limit <= 0 || limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	rows, err := s.q.ListStaleUsageRecords(ctx, repository.ListStaleUsageRecordsParams{
		NextResetAt: now,
		Limit:       int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list stale usage records: %w", err)
	}
	out := make([]domain.UsageRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, *toRecord(row))
	}
	return out, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

func (s *Store) GetSubscriptionLevel(ctx context.Context, userID uuid.UUID) (string, error) {
	level, err := s.q.GetUserSubscriptionLevel(ctx, userID)
	if err != nil {
		return "", mapErr("get subscription level", err)
	}
	return level, nil
}

func (s *Store) SetSubscriptionLevel(ctx context.Context, userID uuid.UUID, email string, level string) error {
	_, err := s.q.UpsertUserSubscriptionLevel(ctx, repository.UpsertUserSubscriptionLevelParams{
		ID:                userID,
		Email:             email,
		SubscriptionLevel: level,
	})
	if err != nil {
		return fmt.Errorf("upsert subscription level: %w", err)
	}
	return nil
}

// =============================================================================
// Usage statistics
// =============================================================================

func (s *Store) AddUsage(ctx context.Context, userID uuid.UUID, feature string, day time.Time, count int) (domain.UsageStatEntry, error) {
	n, err := toInt32(count)
	if err != nil {
		return domain.UsageStatEntry{}, err
	}
	row, err := s.q.UpsertUsageStat(ctx, repository.UpsertUsageStatParams{
		UserID:     userID,
		Feature:    feature,
		UsageDate:  day,
		UsageCount: n,
	})
	if err != nil {
		return domain.UsageStatEntry{}, fmt.Errorf("upsert usage stat: %w", err)
	}
	return toStat(row), nil
}

func (s *Store) ListForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.UsageStatEntry, error) {
	rows, err := s.q.ListUsageStatsForUser(ctx, repository.ListUsageStatsForUserParams{
		UserID:   userID,
		FromDate: from,
		ToDate:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("list usage stats for user: %w", err)
	}
	return toStats(rows), nil
}

func (s *Store) ListByDay(ctx context.Context, day time.Time) ([]domain.UsageStatEntry, error) {
	rows, err := s.q.ListUsageStatsByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list usage stats by date: %w", err)
	}
	return toStats(rows), nil
}

// =============================================================================
// Helpers
// =============================================================================

func mapErr(action string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", action, err)
}

func toInt32(n int) (int32, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return int32(n), nil
}

func toRecord(row repository.UsageRecord) *domain.UsageRecord {
	return &domain.UsageRecord{
		UserID:       row.UserID,
		QuotaType:    domain.QuotaType(row.QuotaType),
		CurrentUsage: int(row.CurrentUsage),
		MaxLimit:     int(row.MaxLimit),
		ResetCadence: domain.ResetCadence(row.ResetCadence),
		NextResetAt:  row.NextResetAt,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func toStat(row repository.UsageStat) domain.UsageStatEntry {
	return domain.UsageStatEntry{
		UserID:     row.UserID,
		Feature:    row.Feature,
		UsageDate:  row.UsageDate,
		UsageCount: int(row.UsageCount),
	}
}

func toStats(rows []repository.UsageStat) []domain.UsageStatEntry {
	out := make([]domain.UsageStatEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toStat(row))
	}
	return out
}
