package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore wraps Memory and fails every Get while failing is set.
type failingStore struct {
	*Memory
	failing bool
}

func (f *failingStore) Get(ctx context.Context, key domain.UsageKey) (*domain.UsageRecord, error) {
	if f.failing {
		return nil, errors.New("connection refused")
	}
	return f.Memory.Get(ctx, key)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	inner := &failingStore{Memory: NewMemory(), failing: true}
	b := NewBreakerUsageStore(inner, BreakerConfig{Name: "test", MaxFailures: 3, OpenTimeout: time.Hour}, nil)
	key := domain.UsageKey{UserID: uuid.New(), QuotaType: domain.QuotaTypeChat}

	for i := 0; i < 3; i++ {
		_, err := b.Get(ctx, key)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	inner.failing = false
	_, err := b.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_ExpectedErrorsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	b := NewBreakerUsageStore(mem, BreakerConfig{Name: "test", MaxFailures: 2, OpenTimeout: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		_, err := b.Get(ctx, domain.UsageKey{UserID: uuid.New(), QuotaType: domain.QuotaTypeAds})
		assert.ErrorIs(t, err, ErrNotFound)
	}

	rec, err := b.Create(ctx, newRecord(uuid.New(), 0))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		got, err := b.IncrementIfAvailable(ctx, rec.Key(), 1)
		assert.ErrorIs(t, err, ErrLimitReached)
		require.NotNil(t, got)
	}

	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_PassesResultsThrough(t *testing.T) {
	ctx := context.Background()
	var transitions []gobreaker.State
	b := NewBreakerUsageStore(NewMemory(), BreakerConfig{
		Name: "test",
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	}, nil)

	rec, err := b.Create(ctx, newRecord(uuid.New(), 5))
	require.NoError(t, err)

	got, err := b.Increment(ctx, rec.Key(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentUsage)

	stale, err := b.ListStale(ctx, rec.NextResetAt.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
	assert.Empty(t, transitions)
}
