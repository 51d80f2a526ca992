package models

import "time"

// SubscriptionType is what a subscription targets.
type SubscriptionType string

const (
	SubscriptionCategory SubscriptionType = "category"
	SubscriptionTag      SubscriptionType = "tag"
	SubscriptionAuthor   SubscriptionType = "author"
)

func (t SubscriptionType) Valid() bool {
	switch t {
	case SubscriptionCategory, SubscriptionTag, SubscriptionAuthor:
		return true
	}
	return false
}

// Frequency is a per-subscription delivery preference.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// rank orders frequencies by urgency; lower is more urgent. Used when a user
// matches a publication through several subscriptions.
func (f Frequency) rank() int {
	switch f {
	case FrequencyImmediate:
		return 0
	case FrequencyDaily:
		return 1
	default:
		return 2
	}
}

// Stronger reports whether f delivers sooner than other.
func (f Frequency) Stronger(other Frequency) bool {
	return f.rank() < other.rank()
}

// Subscription is a user's interest in a category, tag or author.
// Unique on (UserID, Type, Target); deactivated rather than deleted.
type Subscription struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      SubscriptionType `json:"type"`
	Target    string           `json:"target"`
	Frequency Frequency        `json:"frequency"`
	IsActive  bool             `json:"isActive"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// SubscriptionStats aggregates a user's subscriptions.
type SubscriptionStats struct {
	Total       int                      `json:"total"`
	Active      int                      `json:"active"`
	ByType      map[SubscriptionType]int `json:"byType"`
	ByFrequency map[Frequency]int        `json:"byFrequency"`
}
