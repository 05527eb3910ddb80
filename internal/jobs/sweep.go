package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/DukeRupert/shoplocal/internal/worker"
)

const (
	// DefaultSweepBatchSize is used when neither the payload nor the handler
	// set a batch size.
	DefaultSweepBatchSize = 500

	// maxSweepPasses bounds a single job; anything left is picked up by the
	// next scheduled run.
	maxSweepPasses = 20
)

// SweepStaleQuotasHandler rolls over usage records whose period has elapsed,
// so records nobody has touched since the reset still read as fresh.
type SweepStaleQuotasHandler struct {
	quota     service.QuotaService
	batchSize int
	logger    *slog.Logger
}

// NewSweepStaleQuotasHandler creates a new handler for sweep jobs.
func NewSweepStaleQuotasHandler(quota service.QuotaService, batchSize int, logger *slog.Logger) *SweepStaleQuotasHandler {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &SweepStaleQuotasHandler{
		quota:     quota,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Type returns the job type identifier.
func (h *SweepStaleQuotasHandler) Type() string {
	return JobTypeSweepStaleQuotas
}

// Handle runs sweep passes until a pass comes back short of a full batch.
func (h *SweepStaleQuotasHandler) Handle(ctx context.Context, payload []byte) error {
	var p SweepStaleQuotasPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
		}
	}
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = h.batchSize
	}

	total := 0
	for pass := 0; pass < maxSweepPasses; pass++ {
		rolled, err := h.quota.SweepStale(ctx, batchSize)
		total += rolled
		if err != nil {
			// Store failures are retryable; the worker backs off.
			return fmt.Errorf("sweep pass %d: %w", pass+1, err)
		}
		if rolled < batchSize {
			break
		}
	}

	h.logger.Info("stale quota sweep finished", "rolled", total, "batch_size", batchSize)
	return nil
}
