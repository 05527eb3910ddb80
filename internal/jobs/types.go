// Package jobs contains the background job handlers and the scheduler that
// enqueues the periodic ones.
package jobs

// Job type identifiers. These match jobs.job_type.
const (
	JobTypeSweepStaleQuotas = "sweep_stale_quotas"
	JobTypeExportUsageStats = "export_usage_stats"
)

// SweepStaleQuotasPayload is the payload of a sweep job.
type SweepStaleQuotasPayload struct {
	// BatchSize caps how many records each pass rolls over; 0 uses the
	// handler default.
	BatchSize int `json:"batch_size,omitempty"`
}

// ExportUsageStatsPayload is the payload of an export job.
type ExportUsageStatsPayload struct {
	// Day is the calendar day to export, formatted YYYY-MM-DD.
	Day string `json:"day"`
}
