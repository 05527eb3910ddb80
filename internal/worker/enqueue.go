package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/repository"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = p.ScheduledAt.Add(delay)
	}
}

// EnqueueJob marshals payload and inserts a job of the given type.
func EnqueueJob(ctx context.Context, queue Queue, jobType string, payload any, opts ...EnqueueOption) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := queue.Enqueue(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.JobEnqueued(jobType)
	return job, nil
}

// EnqueueUnique enqueues a job only if no job of the same type is pending or
// running. Periodic jobs use it so a slow run does not pile up behind itself.
// Returns false when a job was already active.
func EnqueueUnique(ctx context.Context, queue Queue, jobType string, payload any, opts ...EnqueueOption) (bool, error) {
	active, err := queue.CountActive(ctx, jobType)
	if err != nil {
		return false, fmt.Errorf("count active jobs: %w", err)
	}
	if active > 0 {
		return false, nil
	}
	if _, err := EnqueueJob(ctx, queue, jobType, payload, opts...); err != nil {
		return false, err
	}
	return true, nil
}
