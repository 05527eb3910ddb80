package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/DukeRupert/shoplocal/internal/storage"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/DukeRupert/shoplocal/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Sweep
// =============================================================================

// sweepMock implements only SweepStale; other QuotaService methods panic.
type sweepMock struct {
	mock.Mock
	service.QuotaService
}

func (m *sweepMock) SweepStale(ctx context.Context, batchSize int) (int, error) {
	args := m.Called(ctx, batchSize)
	return args.Int(0), args.Error(1)
}

func TestSweepHandler_RunsUntilShortBatch(t *testing.T) {
	q := &sweepMock{}
	q.On("SweepStale", mock.Anything, 10).Return(10, nil).Twice()
	q.On("SweepStale", mock.Anything, 10).Return(3, nil).Once()

	h := NewSweepStaleQuotasHandler(q, 500, testLogger())
	require.NoError(t, h.Handle(context.Background(), []byte(`{"batch_size":10}`)))
	q.AssertExpectations(t)
}

func TestSweepHandler_DefaultsAndBound(t *testing.T) {
	q := &sweepMock{}
	q.On("SweepStale", mock.Anything, DefaultSweepBatchSize).Return(DefaultSweepBatchSize, nil)

	h := NewSweepStaleQuotasHandler(q, 0, testLogger())
	assert.Equal(t, JobTypeSweepStaleQuotas, h.Type())
	require.NoError(t, h.Handle(context.Background(), nil))
	q.AssertNumberOfCalls(t, "SweepStale", maxSweepPasses)
}

func TestSweepHandler_Errors(t *testing.T) {
	h := NewSweepStaleQuotasHandler(&sweepMock{}, 10, testLogger())
	err := h.Handle(context.Background(), []byte(`{not json`))
	assert.True(t, worker.IsPermanent(err))

	q := &sweepMock{}
	q.On("SweepStale", mock.Anything, 10).Return(2, domain.Unavailable(errors.New("down"), "quota.sweep_stale", "try again"))
	err = NewSweepStaleQuotasHandler(q, 10, testLogger()).Handle(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, worker.IsPermanent(err))
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

// =============================================================================
// Export
// =============================================================================

func newExportFixture(t *testing.T) (service.UsageStatsService, *storage.LocalStorage) {
	t.Helper()
	stats := service.NewUsageStatsService(store.NewMemory(), time.UTC, testLogger())
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)
	return stats, local
}

func readExport(t *testing.T, s storage.Storage, key string) []domain.UsageStatEntry {
	t.Helper()
	rc, info, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, storage.ContentTypeNDJSON, info.ContentType)

	var rows []domain.UsageStatEntry
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		var e domain.UsageStatEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		rows = append(rows, e)
	}
	require.NoError(t, sc.Err())
	return rows
}

func TestExportHandler_WritesJSONLines(t *testing.T) {
	ctx := context.Background()
	stats, local := newExportFixture(t)
	user := uuid.New()

	for _, p := range []service.RecordUsageParams{
		{UserID: user, Feature: "chat", Count: 2},
		{UserID: user, Feature: "search", Count: 1},
		{UserID: uuid.New(), Feature: "chat", Count: 4},
	} {
		ok, err := stats.RecordUsage(ctx, p)
		require.NoError(t, err)
		require.True(t, ok)
	}

	today := store.Day(time.Now(), time.UTC)
	payload, _ := json.Marshal(ExportUsageStatsPayload{Day: today.Format(time.DateOnly)})

	h := NewExportUsageStatsHandler(stats, local, testLogger())
	require.NoError(t, h.Handle(ctx, payload))

	rows := readExport(t, local, storage.UsageExportKey(today))
	require.Len(t, rows, 3)
	total := 0
	for _, r := range rows {
		total += r.UsageCount
	}
	assert.Equal(t, 7, total)

	// Re-running replaces the export.
	_, err := stats.RecordUsage(ctx, service.RecordUsageParams{UserID: user, Feature: "ads", Count: 1})
	require.NoError(t, err)
	require.NoError(t, h.Handle(ctx, payload))
	assert.Len(t, readExport(t, local, storage.UsageExportKey(today)), 4)
}

func TestExportDay_EmptyDay(t *testing.T) {
	stats, local := newExportFixture(t)
	day := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	key, rows, err := ExportDay(context.Background(), stats, local, day)
	require.NoError(t, err)
	assert.Equal(t, 0, rows)
	assert.Equal(t, "exports/usage-stats/2024/12/2024-12-31.jsonl", key)

	exists, err := local.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, exists)
}

// putFailStorage fails every Put with err.
type putFailStorage struct {
	storage.Storage
	err error
}

func (s putFailStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	return &storage.StorageError{Op: "Put", Key: key, Err: s.err}
}

func TestExportHandler_Errors(t *testing.T) {
	stats, _ := newExportFixture(t)
	payload := []byte(`{"day":"2025-03-14"}`)

	tests := []struct {
		name      string
		storage   storage.Storage
		payload   []byte
		permanent bool
	}{
		{"bad json", putFailStorage{}, []byte(`[`), true},
		{"bad day", putFailStorage{}, []byte(`{"day":"14/03/2025"}`), true},
		{"access denied", putFailStorage{err: storage.ErrAccessDenied}, payload, true},
		{"transient", putFailStorage{err: errors.New("connection reset")}, payload, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewExportUsageStatsHandler(stats, tt.storage, testLogger())
			err := h.Handle(context.Background(), tt.payload)
			require.Error(t, err)
			assert.Equal(t, tt.permanent, worker.IsPermanent(err))
		})
	}
}

// =============================================================================
// Scheduler
// =============================================================================

func TestScheduler_EnqueuesOncePerType(t *testing.T) {
	ctx := context.Background()
	q := worker.NewMemoryQueue()
	s := NewScheduler(q, SchedulerConfig{SweepBatchSize: 50}, testLogger())

	s.EnqueueSweep(ctx)
	s.EnqueueSweep(ctx)

	n, err := q.CountActive(ctx, JobTypeSweepStaleQuotas)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	var p SweepStaleQuotasPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, 50, p.BatchSize)

	// Still running, so nothing new is queued.
	s.EnqueueSweep(ctx)
	n, err = q.CountActive(ctx, JobTypeSweepStaleQuotas)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, q.Complete(ctx, job.ID))
	s.EnqueueSweep(ctx)
	n, err = q.CountActive(ctx, JobTypeSweepStaleQuotas)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestScheduler_ExportsYesterdayInLocation(t *testing.T) {
	ctx := context.Background()
	q := worker.NewMemoryQueue()
	tokyo := time.FixedZone("JST", 9*60*60)
	s := NewScheduler(q, SchedulerConfig{Location: tokyo}, testLogger())
	// 2025-03-14 20:00 UTC is already 2025-03-15 in Tokyo.
	s.now = func() time.Time { return time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC) }

	s.EnqueueExport(ctx)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobTypeExportUsageStats, job.JobType)
	var p ExportUsageStatsPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "2025-03-14", p.Day)
}

func TestScheduler_RunEnqueuesEnabledJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := worker.NewMemoryQueue()
	s := NewScheduler(q, SchedulerConfig{SweepInterval: time.Hour}, testLogger())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		n, _ := q.CountActive(context.Background(), JobTypeSweepStaleQuotas)
		return n == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	n, err := q.CountActive(context.Background(), JobTypeExportUsageStats)
	require.NoError(t, err)
	assert.Zero(t, n, "export disabled")
}
