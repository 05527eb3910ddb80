package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("store: circuit open")

// BreakerConfig configures the circuit breaker around a UsageStore.
type BreakerConfig struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before a trial call.
	OpenTimeout time.Duration

	// OnStateChange, if set, is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "usage-store",
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// BreakerUsageStore wraps a UsageStore so that a failing backend is cut off
// after repeated errors. While open, every call fails immediately; the quota
// engine reports that as a store failure and denies.
type BreakerUsageStore struct {
	inner UsageStore
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerUsageStore wraps inner with a circuit breaker.
func NewBreakerUsageStore(inner UsageStore, cfg BreakerConfig, logger *slog.Logger) *BreakerUsageStore {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}

	maxFailures := cfg.MaxFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Expected outcomes are not backend failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrLimitReached)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("usage store circuit state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			}
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	return &BreakerUsageStore{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the current breaker state.
func (b *BreakerUsageStore) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *BreakerUsageStore, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if v == nil {
		var zero T
		return zero, err
	}
	return v.(T), err
}

// Get implements UsageStore.
func (b *BreakerUsageStore) Get(ctx context.Context, key domain.UsageKey) (*domain.UsageRecord, error) {
	return execute(b, func() (*domain.UsageRecord, error) {
		return b.inner.Get(ctx, key)
	})
}

// Create implements UsageStore.
func (b *BreakerUsageStore) Create(ctx context.Context, rec *domain.UsageRecord) (*domain.UsageRecord, error) {
	return execute(b, func() (*domain.UsageRecord, error) {
		return b.inner.Create(ctx, rec)
	})
}

// Increment implements UsageStore.
func (b *BreakerUsageStore) Increment(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	return execute(b, func() (*domain.UsageRecord, error) {
		return b.inner.Increment(ctx, key, amount)
	})
}

// IncrementIfAvailable implements UsageStore.
func (b *BreakerUsageStore) IncrementIfAvailable(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	return execute(b, func() (*domain.UsageRecord, error) {
		return b.inner.IncrementIfAvailable(ctx, key, amount)
	})
}

// Rollover implements UsageStore.
func (b *BreakerUsageStore) Rollover(ctx context.Context, key domain.UsageKey, staleResetAt, nextResetAt time.Time) (*domain.UsageRecord, error) {
	return execute(b, func() (*domain.UsageRecord, error) {
		return b.inner.Rollover(ctx, key, staleResetAt, nextResetAt)
	})
}

// UpdateLimit implements UsageStore.
func (b *BreakerUsageStore) UpdateLimit(ctx context.Context, key domain.UsageKey, maxLimit int, cadence domain.ResetCadence, nextResetAt time.Time) (*domain.UsageRecord, error) {
	return execute(b, func() (*domain.UsageRecord, error) {
		return b.inner.UpdateLimit(ctx, key, maxLimit, cadence, nextResetAt)
	})
}

// ListStale implements UsageStore.
func (b *BreakerUsageStore) ListStale(ctx context.Context, now time.Time, limit int) ([]domain.UsageRecord, error) {
	return execute(b, func() ([]domain.UsageRecord, error) {
		return b.inner.ListStale(ctx, now, limit)
	})
}
