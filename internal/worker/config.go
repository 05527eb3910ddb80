package worker

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config tunes the job worker. New fills zero fields from DefaultConfig.
type Config struct {
	// Concurrency is the number of polling goroutines.
	Concurrency int `validate:"min=1,max=100"`

	// PollInterval is the idle wait between dequeue attempts. A goroutine
	// that just finished a job polls again immediately.
	PollInterval time.Duration `validate:"min=1s"`

	// JobTimeout bounds a single Handle call.
	JobTimeout time.Duration `validate:"min=1s"`

	// ShutdownTimeout bounds how long Stop waits for running jobs.
	ShutdownTimeout time.Duration `validate:"min=1s"`

	// StaleJobThreshold is the age at which a running job is presumed
	// orphaned and requeued on startup. It must exceed JobTimeout.
	StaleJobThreshold time.Duration `validate:"min=1m,gtfield=JobTimeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      5 * time.Second,
		JobTimeout:        5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	fill := func(v *time.Duration, def time.Duration) {
		if *v == 0 {
			*v = def
		}
	}
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	fill(&c.PollInterval, d.PollInterval)
	fill(&c.JobTimeout, d.JobTimeout)
	fill(&c.ShutdownTimeout, d.ShutdownTimeout)
	fill(&c.StaleJobThreshold, d.StaleJobThreshold)
	return c
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("worker config: %w", err)
	}
	return nil
}
