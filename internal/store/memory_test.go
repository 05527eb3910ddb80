package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func newRecord(userID uuid.UUID, limit int) *domain.UsageRecord {
	return &domain.UsageRecord{
		UserID:       userID,
		QuotaType:    domain.QuotaTypeChat,
		MaxLimit:     limit,
		ResetCadence: domain.CadenceDaily,
		NextResetAt:  domain.NextReset(fixedNow, domain.CadenceDaily, time.UTC),
	}
}

func TestMemory_CreateIsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory().WithClock(func() time.Time { return fixedNow })
	userID := uuid.New()

	first, err := m.Create(ctx, newRecord(userID, 20))
	require.NoError(t, err)
	assert.Equal(t, 0, first.CurrentUsage)
	assert.Equal(t, fixedNow, first.CreatedAt)

	_, err = m.Increment(ctx, first.Key(), 3)
	require.NoError(t, err)

	// A second create must not reset the existing row.
	second, err := m.Create(ctx, newRecord(userID, 50))
	require.NoError(t, err)
	assert.Equal(t, 3, second.CurrentUsage)
	assert.Equal(t, 20, second.MaxLimit)
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()

	_, err := m.Get(context.Background(), domain.UsageKey{UserID: uuid.New(), QuotaType: domain.QuotaTypeAds})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Increment(context.Background(), domain.UsageKey{UserID: uuid.New(), QuotaType: domain.QuotaTypeAds}, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_IncrementIfAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Create(ctx, newRecord(uuid.New(), 2))
	require.NoError(t, err)

	got, err := m.IncrementIfAvailable(ctx, rec.Key(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentUsage)

	got, err = m.IncrementIfAvailable(ctx, rec.Key(), 1)
	assert.ErrorIs(t, err, ErrLimitReached)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.CurrentUsage)
}

func TestMemory_RolloverCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Create(ctx, newRecord(uuid.New(), 20))
	require.NoError(t, err)
	_, err = m.Increment(ctx, rec.Key(), 7)
	require.NoError(t, err)

	next := rec.NextResetAt.Add(24 * time.Hour)
	rolled, err := m.Rollover(ctx, rec.Key(), rec.NextResetAt, next)
	require.NoError(t, err)
	assert.Equal(t, 0, rolled.CurrentUsage)
	assert.True(t, rolled.NextResetAt.Equal(next))

	_, err = m.Increment(ctx, rec.Key(), 1)
	require.NoError(t, err)

	// A caller holding the old reset time loses the race and sees the current row.
	again, err := m.Rollover(ctx, rec.Key(), rec.NextResetAt, next.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, again.CurrentUsage)
	assert.True(t, again.NextResetAt.Equal(next))
}

func TestMemory_UpdateLimitKeepsUsage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Create(ctx, newRecord(uuid.New(), 20))
	require.NoError(t, err)
	_, err = m.Increment(ctx, rec.Key(), 5)
	require.NoError(t, err)

	updated, err := m.UpdateLimit(ctx, rec.Key(), 100, domain.CadenceMonthly, fixedNow.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 5, updated.CurrentUsage)
	assert.Equal(t, 100, updated.MaxLimit)
	assert.Equal(t, domain.CadenceMonthly, updated.ResetCadence)
}

func TestMemory_ListStale(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 3; i++ {
		rec := newRecord(uuid.New(), 5)
		rec.NextResetAt = fixedNow.Add(-time.Duration(i+1) * time.Hour)
		_, err := m.Create(ctx, rec)
		require.NoError(t, err)
	}
	_, err := m.Create(ctx, newRecord(uuid.New(), 5))
	require.NoError(t, err)

	stale, err := m.ListStale(ctx, fixedNow, 0)
	require.NoError(t, err)
	require.Len(t, stale, 3)
	assert.True(t, stale[0].NextResetAt.Before(stale[1].NextResetAt))

	limited, err := m.ListStale(ctx, fixedNow, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemory_ListStaleIncludesBoundaryInstant(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Create(ctx, newRecord(uuid.New(), 5))
	require.NoError(t, err)

	before, err := m.ListStale(ctx, rec.NextResetAt.Add(-time.Microsecond), 0)
	require.NoError(t, err)
	assert.Empty(t, before)

	at, err := m.ListStale(ctx, rec.NextResetAt, 0)
	require.NoError(t, err)
	assert.Len(t, at, 1)
}

func TestMemory_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Create(ctx, newRecord(uuid.New(), 1000))
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = m.Increment(ctx, rec.Key(), 1)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, workers, got.CurrentUsage)
}

func TestMemory_ConcurrentIncrementIfAvailableNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec, err := m.Create(ctx, newRecord(uuid.New(), 10))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.IncrementIfAvailable(ctx, rec.Key(), 1)
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			} else if !errors.Is(err, ErrLimitReached) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	got, err := m.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, 10, got.CurrentUsage)
}

func TestMemory_SubscriptionLevels(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	_, err := m.GetSubscriptionLevel(ctx, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetSubscriptionLevel(ctx, userID, "a@example.com", "premium"))
	level, err := m.GetSubscriptionLevel(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "premium", level)
}

func TestMemory_UsageStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	day := Day(fixedNow, time.UTC)
	prev := day.AddDate(0, 0, -1)

	_, err := m.AddUsage(ctx, userID, "chat", day, 2)
	require.NoError(t, err)
	entry, err := m.AddUsage(ctx, userID, "chat", day, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.UsageCount)

	_, err = m.AddUsage(ctx, userID, "search", prev, 1)
	require.NoError(t, err)
	_, err = m.AddUsage(ctx, uuid.New(), "chat", day, 9)
	require.NoError(t, err)

	mine, err := m.ListForUser(ctx, userID, prev, day)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "search", mine[0].Feature)
	assert.Equal(t, "chat", mine[1].Feature)

	today, err := m.ListByDay(ctx, day)
	require.NoError(t, err)
	assert.Len(t, today, 2)
}

func TestDay(t *testing.T) {
	ts := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), Day(ts, nil))

	loc := time.FixedZone("UTC+2", 2*60*60)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), Day(ts, loc))
}
