package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/shoplocal/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoJob is returned by Dequeue when nothing is ready to run.
var ErrNoJob = errors.New("worker: no job available")

// Queue is the job storage the worker polls.
type Queue interface {
	// Dequeue claims the next ready job and marks it running.
	Dequeue(ctx context.Context) (repository.Job, error)

	// Complete marks a job as done.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records a failure. Non-permanent failures are rescheduled with
	// backoff until max attempts is reached.
	Fail(ctx context.Context, id uuid.UUID, jobErr error, permanent bool) error

	// RecoverStale returns running jobs older than threshold to pending.
	RecoverStale(ctx context.Context, threshold time.Duration) (int64, error)

	// Enqueue inserts a job.
	Enqueue(ctx context.Context, params repository.EnqueueJobParams) (repository.Job, error)

	// CountActive returns pending plus running jobs of a type.
	CountActive(ctx context.Context, jobType string) (int64, error)
}

// =============================================================================
// Postgres queue
// =============================================================================

// PostgresQueue stores jobs in the jobs table. Dequeue uses
// FOR UPDATE SKIP LOCKED so any number of workers can poll concurrently.
type PostgresQueue struct {
	pool    *pgxpool.Pool
	queries *repository.Queries
}

// NewPostgresQueue creates a queue over the given pool.
func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool, queries: repository.New(pool)}
}

// Dequeue implements Queue.
func (q *PostgresQueue) Dequeue(ctx context.Context) (repository.Job, error) {
	var job repository.Job
	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		qtx := q.queries.WithTx(tx)

		var err error
		job, err = qtx.DequeueJob(ctx)
		if err != nil {
			return err
		}
		if err := qtx.UpdateJobStarted(ctx, job.ID); err != nil {
			return fmt.Errorf("mark job started: %w", err)
		}
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.Job{}, ErrNoJob
	}
	if err != nil {
		return repository.Job{}, err
	}
	job.Attempts++
	job.Status = "running"
	return job, nil
}

// Complete implements Queue.
func (q *PostgresQueue) Complete(ctx context.Context, id uuid.UUID) error {
	return q.queries.UpdateJobCompleted(ctx, id)
}

// Fail implements Queue.
func (q *PostgresQueue) Fail(ctx context.Context, id uuid.UUID, jobErr error, permanent bool) error {
	msg := jobErr.Error()
	if permanent {
		return q.queries.FailJobPermanently(ctx, repository.FailJobPermanentlyParams{ID: id, ErrorMessage: &msg})
	}
	return q.queries.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{ID: id, ErrorMessage: &msg})
}

// RecoverStale implements Queue.
func (q *PostgresQueue) RecoverStale(ctx context.Context, threshold time.Duration) (int64, error) {
	return q.queries.RecoverStaleJobs(ctx, threshold.Seconds())
}

// Enqueue implements Queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, params repository.EnqueueJobParams) (repository.Job, error) {
	return q.queries.EnqueueJob(ctx, params)
}

// CountActive implements Queue.
func (q *PostgresQueue) CountActive(ctx context.Context, jobType string) (int64, error) {
	return q.queries.CountPendingJobsByType(ctx, jobType)
}

// =============================================================================
// Memory queue
// =============================================================================

// MemoryQueue is a process-local Queue for the memory store backend and tests.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*repository.Job
	now  func() time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[uuid.UUID]*repository.Job), now: time.Now}
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (repository.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var ready []*repository.Job
	for _, j := range q.jobs {
		if j.Status == "pending" && !j.ScheduledAt.After(now) {
			ready = append(ready, j)
		}
	}
	if len(ready) == 0 {
		return repository.Job{}, ErrNoJob
	}
	sort.Slice(ready, func(a, b int) bool {
		if ready[a].Priority != ready[b].Priority {
			return ready[a].Priority > ready[b].Priority
		}
		return ready[a].ScheduledAt.Before(ready[b].ScheduledAt)
	})

	j := ready[0]
	j.Status = "running"
	j.StartedAt = &now
	j.Attempts++
	return *j, nil
}

// Complete implements Queue.
func (q *MemoryQueue) Complete(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	now := q.now()
	j.Status = "completed"
	j.CompletedAt = &now
	j.ErrorMessage = nil
	return nil
}

// Fail implements Queue. Backoff matches the jobs table: 30s * 2^attempts.
func (q *MemoryQueue) Fail(ctx context.Context, id uuid.UUID, jobErr error, permanent bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	msg := jobErr.Error()
	j.ErrorMessage = &msg
	if permanent || j.Attempts >= j.MaxAttempts {
		j.Status = "failed"
		return nil
	}
	j.Status = "pending"
	j.ScheduledAt = q.now().Add(time.Duration(1<<j.Attempts) * 30 * time.Second)
	return nil
}

// RecoverStale implements Queue.
func (q *MemoryQueue) RecoverStale(ctx context.Context, threshold time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	cutoff := q.now().Add(-threshold)
	for _, j := range q.jobs {
		if j.Status == "running" && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = "pending"
			j.StartedAt = nil
			n++
		}
	}
	return n, nil
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, params repository.EnqueueJobParams) (repository.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := &repository.Job{
		ID:          uuid.New(),
		JobType:     params.JobType,
		Payload:     append([]byte(nil), params.Payload...),
		Status:      "pending",
		Priority:    params.Priority,
		MaxAttempts: params.MaxAttempts,
		ScheduledAt: params.ScheduledAt,
		CreatedAt:   q.now(),
	}
	q.jobs[j.ID] = j
	return *j, nil
}

// CountActive implements Queue.
func (q *MemoryQueue) CountActive(ctx context.Context, jobType string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for _, j := range q.jobs {
		if j.JobType == jobType && (j.Status == "pending" || j.Status == "running") {
			n++
		}
	}
	return n, nil
}

// Job returns a copy of a stored job.
func (q *MemoryQueue) Job(id uuid.UUID) (repository.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return repository.Job{}, false
	}
	return *j, true
}
