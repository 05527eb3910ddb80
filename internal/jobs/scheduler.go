package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/DukeRupert/shoplocal/internal/worker"
)

// SchedulerConfig controls how often periodic jobs are enqueued. A zero
// interval disables that job.
type SchedulerConfig struct {
	SweepInterval  time.Duration
	SweepBatchSize int
	ExportInterval time.Duration

	// Location selects the calendar used to decide which day "yesterday" is.
	Location *time.Location
}

// Scheduler enqueues the periodic jobs. It only enqueues; the worker runs
// them. At most one job of each type is active at a time.
type Scheduler struct {
	queue  worker.Queue
	config SchedulerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(queue worker.Queue, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Scheduler{
		queue:  queue,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Run enqueues each enabled job once immediately and then on every tick
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	sweep := s.ticker(s.config.SweepInterval)
	export := s.ticker(s.config.ExportInterval)
	defer sweep.stop()
	defer export.stop()

	if sweep.enabled() {
		s.EnqueueSweep(ctx)
	}
	if export.enabled() {
		s.EnqueueExport(ctx)
	}

	s.logger.Info("scheduler started",
		"sweep_interval", s.config.SweepInterval,
		"export_interval", s.config.ExportInterval,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-sweep.c:
			s.EnqueueSweep(ctx)
		case <-export.c:
			s.EnqueueExport(ctx)
		}
	}
}

// EnqueueSweep enqueues a sweep job unless one is already active.
func (s *Scheduler) EnqueueSweep(ctx context.Context) {
	payload := SweepStaleQuotasPayload{BatchSize: s.config.SweepBatchSize}
	s.enqueue(ctx, JobTypeSweepStaleQuotas, payload, worker.WithPriority(worker.PriorityLow))
}

// EnqueueExport enqueues an export of the previous calendar day unless an
// export job is already active.
func (s *Scheduler) EnqueueExport(ctx context.Context) {
	yesterday := store.Day(s.now(), s.config.Location).AddDate(0, 0, -1)
	payload := ExportUsageStatsPayload{Day: yesterday.Format(time.DateOnly)}
	s.enqueue(ctx, JobTypeExportUsageStats, payload, worker.WithPriority(worker.PriorityLow))
}

func (s *Scheduler) enqueue(ctx context.Context, jobType string, payload any, opts ...worker.EnqueueOption) {
	created, err := worker.EnqueueUnique(ctx, s.queue, jobType, payload, opts...)
	if err != nil {
		s.logger.Error("failed to enqueue periodic job", "job_type", jobType, "error", err)
		return
	}
	if !created {
		s.logger.Debug("periodic job already active", "job_type", jobType)
	}
}

type schedTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

func (s *Scheduler) ticker(interval time.Duration) schedTicker {
	if interval <= 0 {
		return schedTicker{}
	}
	t := time.NewTicker(interval)
	return schedTicker{t: t, c: t.C}
}

func (t schedTicker) enabled() bool { return t.t != nil }

func (t schedTicker) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
