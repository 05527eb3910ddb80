// Package domain contains core business types and interfaces.
//
// This file defines quota types for metering gated actions (AI chat, product
// listings, ads, trending posts, stores) by subscription level.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuotaType identifies the capability being metered.
type QuotaType string

const (
	QuotaTypeChat     QuotaType = "chat"
	QuotaTypeTrending QuotaType = "trending"
	QuotaTypeProducts QuotaType = "products"
	QuotaTypeAds      QuotaType = "ads"
	QuotaTypeStores   QuotaType = "stores"
)

// AllQuotaTypes lists every metered capability in display order.
var AllQuotaTypes = []QuotaType{
	QuotaTypeChat,
	QuotaTypeTrending,
	QuotaTypeProducts,
	QuotaTypeAds,
	QuotaTypeStores,
}

// ParseQuotaType converts a raw string into a QuotaType.
func ParseQuotaType(s string) (QuotaType, bool) {
	for _, qt := range AllQuotaTypes {
		if string(qt) == s {
			return qt, true
		}
	}
	return "", false
}

// ResetCadence is the period over which usage resets.
type ResetCadence string

const (
	CadenceDaily   ResetCadence = "daily"
	CadenceMonthly ResetCadence = "monthly"
)

// Valid reports whether c is a known cadence.
func (c ResetCadence) Valid() bool {
	return c == CadenceDaily || c == CadenceMonthly
}

// NextReset returns the first period boundary strictly after now for the
// given cadence, evaluated in loc. Daily periods end at the next midnight;
// monthly periods end at the first instant of the next calendar month.
//
// The boundary is always derived from now, never from a previous boundary,
// so a record that sat idle for several periods lands on the next boundary
// rather than replaying the missed ones.
func NextReset(now time.Time, cadence ResetCadence, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	switch cadence {
	case CadenceMonthly:
		return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
	}
}

// CatalogEntry is the configured allowance for one (level, quota type) pair.
type CatalogEntry struct {
	MaxLimit     int          `yaml:"max_limit" json:"max_limit" validate:"gte=0"`
	ResetCadence ResetCadence `yaml:"reset_cadence" json:"reset_cadence" validate:"required,oneof=daily monthly"`
}

// UsageKey identifies a usage record.
type UsageKey struct {
	UserID    uuid.UUID
	QuotaType QuotaType
}

// UsageRecord is the persisted consumption counter for one user and quota type.
type UsageRecord struct {
	UserID       uuid.UUID
	QuotaType    QuotaType
	CurrentUsage int
	MaxLimit     int
	ResetCadence ResetCadence
	NextResetAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the record's store key.
func (r *UsageRecord) Key() UsageKey {
	return UsageKey{UserID: r.UserID, QuotaType: r.QuotaType}
}

// IsStale reports whether now has reached the record's reset boundary. The
// boundary instant belongs to the new period, matching NextReset.
func (r *UsageRecord) IsStale(now time.Time) bool {
	return !now.Before(r.NextResetAt)
}

// Remaining returns the unused allowance, never negative.
func (r *UsageRecord) Remaining() int {
	if r.CurrentUsage >= r.MaxLimit {
		return 0
	}
	return r.MaxLimit - r.CurrentUsage
}

// Decision builds the caller-facing view of the record.
func (r *UsageRecord) Decision() QuotaDecision {
	remaining := r.Remaining()
	return QuotaDecision{
		CanUse:    remaining > 0,
		Current:   r.CurrentUsage,
		Max:       r.MaxLimit,
		Remaining: remaining,
		ResetAt:   r.NextResetAt,
	}
}

// QuotaDecision is the answer to "may this user perform the action now".
// It is the only quota payload returned to HTTP callers.
type QuotaDecision struct {
	CanUse    bool      `json:"canUse"`
	Current   int       `json:"current"`
	Max       int       `json:"max"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// DeniedDecision is returned whenever a decision cannot be computed.
func DeniedDecision() QuotaDecision {
	return QuotaDecision{CanUse: false}
}

// PerformResult pairs a boolean gate with the decision that produced it.
type PerformResult struct {
	Allowed bool          `json:"allowed"`
	Quota   QuotaDecision `json:"quota"`
}

// UsageStatEntry is a per-day, per-feature usage counter used for reporting.
// It carries no limit and never affects enforcement.
type UsageStatEntry struct {
	UserID     uuid.UUID `json:"user_id"`
	Feature    string    `json:"feature"`
	UsageDate  time.Time `json:"usage_date"`
	UsageCount int       `json:"usage_count"`
}
