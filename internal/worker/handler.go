package worker

import (
	"context"
	"errors"
)

// JobHandler executes one type of background job.
type JobHandler interface {
	// Type returns the job type identifier; it matches jobs.job_type.
	Type() string

	// Handle executes the job. The payload is the raw JSON that was enqueued.
	// Return NewPermanentError to fail the job without retries.
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to JobHandler.
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, payload []byte) error
}

// Type implements JobHandler.
func (h HandlerFunc) Type() string { return h.JobType }

// Handle implements JobHandler.
func (h HandlerFunc) Handle(ctx context.Context, payload []byte) error { return h.Fn(ctx, payload) }

// PermanentError marks a job failure that must not be retried.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to see the cause.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err so the job is failed without retries.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
