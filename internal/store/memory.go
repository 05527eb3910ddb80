package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/google/uuid"
)

// Memory is a process-local implementation of UsageStore, SubscriptionStore
// and UsageStatsStore. A single mutex serializes every operation, which makes
// each method atomic in the same sense as a single SQL statement.
type Memory struct {
	now func() time.Time

	mu      sync.Mutex
	records map[domain.UsageKey]domain.UsageRecord
	levels  map[uuid.UUID]string
	stats   map[statKey]int
}

type statKey struct {
	userID  uuid.UUID
	feature string
	day     time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		records: make(map[domain.UsageKey]domain.UsageRecord),
		levels:  make(map[uuid.UUID]string),
		stats:   make(map[statKey]int),
	}
}

// WithClock overrides the timestamp source used for CreatedAt/UpdatedAt.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Get implements UsageStore.
func (m *Memory) Get(ctx context.Context, key domain.UsageKey) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Create implements UsageStore.
func (m *Memory) Create(ctx context.Context, rec *domain.UsageRecord) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[rec.Key()]; ok {
		return &existing, nil
	}

	now := m.now()
	created := *rec
	created.CreatedAt = now
	created.UpdatedAt = now
	m.records[rec.Key()] = created
	return &created, nil
}

// Increment implements UsageStore.
func (m *Memory) Increment(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec.CurrentUsage += amount
	rec.UpdatedAt = m.now()
	m.records[key] = rec
	return &rec, nil
}

// IncrementIfAvailable implements UsageStore.
func (m *Memory) IncrementIfAvailable(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.CurrentUsage+amount > rec.MaxLimit {
		return &rec, ErrLimitReached
	}
	rec.CurrentUsage += amount
	rec.UpdatedAt = m.now()
	m.records[key] = rec
	return &rec, nil
}

// Rollover implements UsageStore.
func (m *Memory) Rollover(ctx context.Context, key domain.UsageKey, staleResetAt, nextResetAt time.Time) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.NextResetAt.Equal(staleResetAt) {
		return &rec, nil
	}
	rec.CurrentUsage = 0
	rec.NextResetAt = nextResetAt
	rec.UpdatedAt = m.now()
	m.records[key] = rec
	return &rec, nil
}

// UpdateLimit implements UsageStore.
func (m *Memory) UpdateLimit(ctx context.Context, key domain.UsageKey, maxLimit int, cadence domain.ResetCadence, nextResetAt time.Time) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec.MaxLimit = maxLimit
	rec.ResetCadence = cadence
	rec.NextResetAt = nextResetAt
	rec.UpdatedAt = m.now()
	m.records[key] = rec
	return &rec, nil
}

// ListStale implements UsageStore.
func (m *Memory) ListStale(ctx context.Context, now time.Time, limit int) ([]domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []domain.UsageRecord
	for _, rec := range m.records {
		if !rec.NextResetAt.After(now) {
			stale = append(stale, rec)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].NextResetAt.Before(stale[j].NextResetAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// GetSubscriptionLevel implements SubscriptionStore.
func (m *Memory) GetSubscriptionLevel(ctx context.Context, userID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	level, ok := m.levels[userID]
	if !ok {
		return "", ErrNotFound
	}
	return level, nil
}

// SetSubscriptionLevel implements SubscriptionStore.
func (m *Memory) SetSubscriptionLevel(ctx context.Context, userID uuid.UUID, email string, level string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levels[userID] = level
	return nil
}

// AddUsage implements UsageStatsStore.
func (m *Memory) AddUsage(ctx context.Context, userID uuid.UUID, feature string, day time.Time, count int) (domain.UsageStatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := statKey{userID: userID, feature: feature, day: day}
	m.stats[k] += count
	return domain.UsageStatEntry{
		UserID:     userID,
		Feature:    feature,
		UsageDate:  day,
		UsageCount: m.stats[k],
	}, nil
}

// ListForUser implements UsageStatsStore.
func (m *Memory) ListForUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.UsageStatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.UsageStatEntry
	for k, count := range m.stats {
		if k.userID != userID || k.day.Before(from) || k.day.After(to) {
			continue
		}
		out = append(out, domain.UsageStatEntry{UserID: k.userID, Feature: k.feature, UsageDate: k.day, UsageCount: count})
	}
	sortStats(out)
	return out, nil
}

// ListByDay implements UsageStatsStore.
func (m *Memory) ListByDay(ctx context.Context, day time.Time) ([]domain.UsageStatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.UsageStatEntry
	for k, count := range m.stats {
		if !k.day.Equal(day) {
			continue
		}
		out = append(out, domain.UsageStatEntry{UserID: k.userID, Feature: k.feature, UsageDate: k.day, UsageCount: count})
	}
	sortStats(out)
	return out, nil
}

func sortStats(entries []domain.UsageStatEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.UsageDate.Equal(b.UsageDate) {
			return a.UsageDate.Before(b.UsageDate)
		}
		if a.UserID != b.UserID {
			return a.UserID.String() < b.UserID.String()
		}
		return a.Feature < b.Feature
	})
}
