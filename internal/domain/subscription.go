package domain

import "time"

// SortMode selects the final ordering of a digest.
type SortMode string

const (
	SortByRelevance SortMode = "relevance"
	SortByRecency   SortMode = "recency"
)

// Preferences holds a subscriber's curation settings. The quality filter
// reads them; nothing in the pipeline writes them.
type Preferences struct {
	DeliveryTime  string   // HH:MM in the subscription timezone
	Categories    []string // empty list means no category restriction
	MinRelevance  float64
	MaxAgeDays    int
	MaxItems      int
	SortBy        SortMode
	Language      string
}

// Subscription is one delivery target (a chat channel) with its
// preferences. Owned externally; the pipeline only reads it.
type Subscription struct {
	ID        string
	ChannelID string
	Timezone  string // IANA name; empty means the configured default

	Preferences Preferences

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the subscription timezone, falling back to the given
// default when unset or unknown.
func (s Subscription) Location(fallback *time.Location) *time.Location {
	if s.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}
