package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/repository"
)

// Worker manages background job processing with concurrent workers.
type Worker struct {
	queue    Queue
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(queue Queue, config Config, logger *slog.Logger) (*Worker, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		queue:    queue,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds a job handler to the worker. Call this before Start().
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
	w.logger.Debug("registered job handler", "job_type", jobType)
}

// Start recovers stale jobs from crashed workers and starts the worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	if err := w.recoverStaleJobs(ctx); err != nil {
		w.logger.Error("failed to recover stale jobs", "error", err)
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i+1)
	}

	w.logger.Info("worker started", "concurrency", w.config.Concurrency)
}

// Stop signals all workers to stop and waits up to ShutdownTimeout for
// running jobs to finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.once.Do(func() {
		w.logger.Info("stopping worker")
		close(w.stopCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded, some jobs may still be running")
	}
}

func (w *Worker) recoverStaleJobs(ctx context.Context) error {
	count, err := w.queue.RecoverStale(ctx, w.config.StaleJobThreshold)
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if count > 0 {
		w.logger.Warn("recovered stale jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}
	return nil
}

// runWorker polls for jobs until stopped. After finding a job it keeps
// draining without waiting for the next tick.
func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx, logger)
		}
	}
}

func (w *Worker) drain(ctx context.Context, logger *slog.Logger) {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		err := w.ProcessNext(ctx)
		if errors.Is(err, ErrNoJob) {
			return
		}
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("failed to process job", "error", err)
			// Back off until the next tick when the queue itself is failing.
			if !errors.Is(err, errJobFailed) {
				return
			}
		}
	}
}

// errJobFailed marks errors from the job itself rather than from the queue.
var errJobFailed = errors.New("job failed")

// ProcessNext dequeues and executes a single job. It returns ErrNoJob when
// the queue is empty.
func (w *Worker) ProcessNext(ctx context.Context) error {
	job, err := w.queue.Dequeue(ctx)
	if err != nil {
		return err
	}

	logger := w.logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	logger.Info("processing job")

	metrics.JobStarted(job.JobType)
	start := time.Now()

	if err := w.executeJob(ctx, job); err != nil {
		metrics.JobFailed(job.JobType)
		w.markJobFailed(ctx, job, err, logger)
		return fmt.Errorf("%w: %s %s: %v", errJobFailed, job.JobType, job.ID, err)
	}

	metrics.JobCompleted(job.JobType, time.Since(start))
	logger.Info("job completed", "duration_ms", time.Since(start).Milliseconds())

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// executeJob runs the registered handler with the job timeout applied.
func (w *Worker) executeJob(ctx context.Context, job repository.Job) error {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return NewPermanentError(fmt.Errorf("no handler registered for job type: %s", job.JobType))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	return handler.Handle(jobCtx, job.Payload)
}

// markJobFailed records the failure. Permanent errors and exhausted jobs are
// failed for good; anything else is retried with backoff.
func (w *Worker) markJobFailed(ctx context.Context, job repository.Job, jobErr error, logger *slog.Logger) {
	permanent := IsPermanent(jobErr)
	switch {
	case permanent:
		logger.Warn("job failed with permanent error, will not retry", "error", jobErr)
	case job.Attempts >= job.MaxAttempts:
		logger.Error("job failed, attempts exhausted", "error", jobErr)
	default:
		metrics.JobRetried(job.JobType)
		logger.Warn("job failed, will retry", "error", jobErr)
	}

	if err := w.queue.Fail(ctx, job.ID, jobErr, permanent); err != nil {
		logger.Error("failed to mark job as failed", "error", err)
	}
}
