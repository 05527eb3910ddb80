// Package domain contains core business types and interfaces.
//
// This file defines subscription levels and the slice of the user profile the
// quota subsystem depends on.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubscriptionLevel represents the pricing tier that selects a catalog row.
type SubscriptionLevel string

const (
	SubscriptionLevelFree            SubscriptionLevel = "free"
	SubscriptionLevelEssential       SubscriptionLevel = "essential"
	SubscriptionLevelPremium         SubscriptionLevel = "premium"
	SubscriptionLevelBusiness        SubscriptionLevel = "business"
	SubscriptionLevelBusinessPremium SubscriptionLevel = "business_premium"
)

// AllSubscriptionLevels lists every level the catalog must cover.
var AllSubscriptionLevels = []SubscriptionLevel{
	SubscriptionLevelFree,
	SubscriptionLevelEssential,
	SubscriptionLevelPremium,
	SubscriptionLevelBusiness,
	SubscriptionLevelBusinessPremium,
}

// levelAliases maps legacy profile values onto canonical levels.
var levelAliases = map[string]SubscriptionLevel{
	"customer":         SubscriptionLevelEssential,
	"business_free":    SubscriptionLevelBusiness,
	"businesspremium":  SubscriptionLevelBusinessPremium,
	"business-premium": SubscriptionLevelBusinessPremium,
}

// ParseSubscriptionLevel normalizes a stored level string.
// Returns false for values that are neither a level nor a known alias;
// callers must handle that branch explicitly instead of guessing a tier.
func ParseSubscriptionLevel(s string) (SubscriptionLevel, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, l := range AllSubscriptionLevels {
		if string(l) == v {
			return l, true
		}
	}
	if l, ok := levelAliases[v]; ok {
		return l, true
	}
	return "", false
}

// User is the subset of the user profile needed for quota decisions.
type User struct {
	ID                uuid.UUID
	Email             string
	SubscriptionLevel string // raw profile value, parsed on use
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
