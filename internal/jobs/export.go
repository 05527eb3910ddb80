package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/DukeRupert/shoplocal/internal/storage"
	"github.com/DukeRupert/shoplocal/internal/worker"
)

// ExportUsageStatsHandler writes one day of usage statistics to object
// storage as JSON lines. Re-running a day replaces its export.
type ExportUsageStatsHandler struct {
	stats   service.UsageStatsService
	storage storage.Storage
	logger  *slog.Logger
}

// NewExportUsageStatsHandler creates a new handler for export jobs.
func NewExportUsageStatsHandler(stats service.UsageStatsService, store storage.Storage, logger *slog.Logger) *ExportUsageStatsHandler {
	return &ExportUsageStatsHandler{
		stats:   stats,
		storage: store,
		logger:  logger,
	}
}

// Type returns the job type identifier.
func (h *ExportUsageStatsHandler) Type() string {
	return JobTypeExportUsageStats
}

// Handle executes the export job.
func (h *ExportUsageStatsHandler) Handle(ctx context.Context, payload []byte) error {
	var p ExportUsageStatsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	day, err := time.Parse(time.DateOnly, p.Day)
	if err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid day %q: %w", p.Day, err))
	}

	key, rows, err := ExportDay(ctx, h.stats, h.storage, day)
	if err != nil {
		var storageErr *storage.StorageError
		if errors.As(err, &storageErr) && !storage.IsRetryable(err) {
			return worker.NewPermanentError(err)
		}
		return err
	}

	h.logger.Info("usage stats exported",
		"day", p.Day,
		"key", key,
		"rows", rows,
	)
	return nil
}

// ExportDay writes every usage counter recorded on day to its export key and
// returns the key and the number of rows written. The export is written even
// when the day has no rows.
func ExportDay(ctx context.Context, stats service.UsageStatsService, store storage.Storage, day time.Time) (string, int, error) {
	entries, err := stats.ListDay(ctx, day)
	if err != nil {
		return "", 0, fmt.Errorf("list usage for %s: %w", day.Format(time.DateOnly), err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return "", 0, fmt.Errorf("encode usage row: %w", err)
		}
	}

	key := storage.UsageExportKey(day)
	err = store.Put(ctx, key, &buf, storage.PutOptions{
		ContentType: storage.ContentTypeNDJSON,
		Overwrite:   true,
	})
	if err != nil {
		return "", 0, err
	}

	metrics.UsageStatsExported.Add(float64(len(entries)))
	return key, len(entries), nil
}
