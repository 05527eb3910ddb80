package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNextReset(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name    string
		now     time.Time
		cadence ResetCadence
		loc     *time.Location
		want    time.Time
	}{
		{
			name:    "daily mid-day",
			now:     time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC),
			cadence: CadenceDaily,
			loc:     time.UTC,
			want:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "daily exactly midnight moves to next day",
			now:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			cadence: CadenceDaily,
			loc:     time.UTC,
			want:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "daily crosses month end",
			now:     time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC),
			cadence: CadenceDaily,
			loc:     time.UTC,
			want:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "monthly mid-month",
			now:     time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC),
			cadence: CadenceMonthly,
			loc:     time.UTC,
			want:    time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "monthly crosses year end",
			now:     time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC),
			cadence: CadenceMonthly,
			loc:     time.UTC,
			want:    time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "monthly on the first still moves forward",
			now:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			cadence: CadenceMonthly,
			loc:     time.UTC,
			want:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "daily uses reference location",
			now:     time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC), // 00:30 on the 15th in Berlin
			cadence: CadenceDaily,
			loc:     berlin,
			want:    time.Date(2026, 3, 16, 0, 0, 0, 0, berlin),
		},
		{
			name:    "nil location defaults to UTC",
			now:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			cadence: CadenceDaily,
			loc:     nil,
			want:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextReset(tt.now, tt.cadence, tt.loc)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestUsageRecord_Decision(t *testing.T) {
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		usage int
		limit int
		want  QuotaDecision
	}{
		{
			name:  "fresh record",
			usage: 0, limit: 20,
			want: QuotaDecision{CanUse: true, Current: 0, Max: 20, Remaining: 20, ResetAt: reset},
		},
		{
			name:  "at limit",
			usage: 20, limit: 20,
			want: QuotaDecision{CanUse: false, Current: 20, Max: 20, Remaining: 0, ResetAt: reset},
		},
		{
			name:  "over limit clamps remaining",
			usage: 23, limit: 20,
			want: QuotaDecision{CanUse: false, Current: 23, Max: 20, Remaining: 0, ResetAt: reset},
		},
		{
			name:  "zero allowance",
			usage: 0, limit: 0,
			want: QuotaDecision{CanUse: false, Current: 0, Max: 0, Remaining: 0, ResetAt: reset},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := UsageRecord{
				UserID:       uuid.New(),
				QuotaType:    QuotaTypeChat,
				CurrentUsage: tt.usage,
				MaxLimit:     tt.limit,
				ResetCadence: CadenceDaily,
				NextResetAt:  reset,
			}
			assert.Equal(t, tt.want, rec.Decision())
		})
	}
}

func TestUsageRecord_IsStale(t *testing.T) {
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	rec := UsageRecord{NextResetAt: reset}

	assert.False(t, rec.IsStale(reset.Add(-time.Second)))
	assert.True(t, rec.IsStale(reset), "boundary instant starts the next period")
	assert.True(t, rec.IsStale(reset.Add(time.Second)))
}

func TestParseSubscriptionLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   SubscriptionLevel
		wantOK bool
	}{
		{"free", SubscriptionLevelFree, true},
		{"  Premium ", SubscriptionLevelPremium, true},
		{"customer", SubscriptionLevelEssential, true},
		{"essential", SubscriptionLevelEssential, true},
		{"business_premium", SubscriptionLevelBusinessPremium, true},
		{"business-premium", SubscriptionLevelBusinessPremium, true},
		{"platinum", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseSubscriptionLevel(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuotaType(t *testing.T) {
	for _, qt := range AllQuotaTypes {
		got, ok := ParseQuotaType(string(qt))
		assert.True(t, ok)
		assert.Equal(t, qt, got)
	}

	_, ok := ParseQuotaType("videos")
	assert.False(t, ok)
}

func TestErrorMessage_HidesInfrastructureDetail(t *testing.T) {
	err := Unavailable(assert.AnError, "quota.check", "failed to load usage record")

	assert.Equal(t, EUNAVAILABLE, ErrorCode(err))
	assert.True(t, IsUnavailable(err))
	assert.NotContains(t, ErrorMessage(err), "usage record")
	assert.Equal(t, "quota.check", ErrorOp(err))
}
