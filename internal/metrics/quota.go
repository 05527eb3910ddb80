package metrics

import "github.com/sony/gobreaker/v2"

// QuotaChecked records the outcome of a quota check.
func QuotaChecked(quotaType string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	QuotaDecisionsTotal.WithLabelValues(quotaType, outcome).Inc()
}

// QuotaCheckFailed records a check that could not be answered.
func QuotaCheckFailed(quotaType string) {
	QuotaDecisionsTotal.WithLabelValues(quotaType, "error").Inc()
}

// QuotaConsumed records units added to a usage counter.
func QuotaConsumed(quotaType string, amount int) {
	QuotaConsumedTotal.WithLabelValues(quotaType).Add(float64(amount))
}

// QuotaReserved records the outcome of an atomic reservation.
func QuotaReserved(quotaType string, granted bool) {
	outcome := "rejected"
	if granted {
		outcome = "granted"
	}
	QuotaReservationsTotal.WithLabelValues(quotaType, outcome).Inc()
}

// QuotaRolledOver records a period rollover. source is "access", "sweep"
// or "admin".
func QuotaRolledOver(quotaType, source string) {
	QuotaRolloversTotal.WithLabelValues(quotaType, source).Inc()
}

// StoreFailed records a usage store failure.
func StoreFailed(operation string) {
	QuotaStoreErrorsTotal.WithLabelValues(operation).Inc()
}

// BreakerStateChanged publishes the breaker state as a gauge.
func BreakerStateChanged(name string, _, to gobreaker.State) {
	StoreBreakerState.WithLabelValues(name).Set(float64(to))
}
