package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/shoplocal/internal"
	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"pgregory.net/rapid"
)

// testDB is nil unless TEST_DATABASE_URL points at a reachable database.
var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	code := func() int {
		dbURL := os.Getenv("TEST_DATABASE_URL")
		if dbURL == "" {
			return m.Run()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			fmt.Printf("Warning: failed to connect to test database: %v\n", err)
			return m.Run()
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			fmt.Printf("Warning: failed to ping test database: %v\n", err)
			return m.Run()
		}

		sqlDB := stdlib.OpenDBFromPool(pool)
		defer sqlDB.Close()
		if err := internal.RunMigrations(sqlDB); err != nil {
			fmt.Printf("Warning: failed to migrate test database: %v\n", err)
			return m.Run()
		}

		testDB = pool
		return m.Run()
	}()
	os.Exit(code)
}

// Usage granted through IncrementIfAvailable never exceeds the limit, and
// the stored counter equals the sum of granted amounts.
func TestProperty_IncrementIfAvailableRespectsLimit(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	s := New(testDB)

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		limit := rapid.IntRange(0, 50).Draw(t, "limit")
		amounts := rapid.SliceOfN(rapid.IntRange(1, 10), 1, 30).Draw(t, "amounts")

		rec, err := s.Create(ctx, &domain.UsageRecord{
			UserID:       uuid.New(),
			QuotaType:    domain.QuotaTypeProducts,
			MaxLimit:     limit,
			ResetCadence: domain.CadenceMonthly,
			NextResetAt:  time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		granted := 0
		for _, n := range amounts {
			_, err := s.IncrementIfAvailable(ctx, rec.Key(), n)
			switch {
			case err == nil:
				granted += n
			case errors.Is(err, store.ErrLimitReached):
			default:
				t.Fatalf("increment: %v", err)
			}
		}

		got, err := s.Get(ctx, rec.Key())
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.CurrentUsage != granted {
			t.Fatalf("usage %d, granted %d", got.CurrentUsage, granted)
		}
		if got.CurrentUsage > limit {
			t.Fatalf("usage %d exceeds limit %d", got.CurrentUsage, limit)
		}
	})
}

func TestIntegration_ConcurrentIncrementsAreNotLost(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	s := New(testDB)

	rec, err := s.Create(ctx, &domain.UsageRecord{
		UserID:       uuid.New(),
		QuotaType:    domain.QuotaTypeChat,
		MaxLimit:     1000,
		ResetCadence: domain.CadenceDaily,
		NextResetAt:  time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, rec.Key(), 1); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, rec.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentUsage != workers {
		t.Fatalf("usage %d, want %d", got.CurrentUsage, workers)
	}
}

func TestIntegration_RolloverIsCompareAndSwap(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	s := New(testDB)

	stale := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	rec, err := s.Create(ctx, &domain.UsageRecord{
		UserID:       uuid.New(),
		QuotaType:    domain.QuotaTypeTrending,
		MaxLimit:     5,
		ResetCadence: domain.CadenceMonthly,
		NextResetAt:  stale,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Increment(ctx, rec.Key(), 3); err != nil {
		t.Fatalf("increment: %v", err)
	}

	next := stale.AddDate(0, 1, 0)
	first, err := s.Rollover(ctx, rec.Key(), stale, next)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if first.CurrentUsage != 0 || !first.NextResetAt.Equal(next) {
		t.Fatalf("unexpected rolled record: %+v", first)
	}

	if _, err := s.Increment(ctx, rec.Key(), 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	second, err := s.Rollover(ctx, rec.Key(), stale, next.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if second.CurrentUsage != 1 {
		t.Fatalf("second rollover reset usage: %+v", second)
	}
}
