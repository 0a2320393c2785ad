package domain

import (
	"fmt"
	"time"
)

// SourceType is a closed set of supported source kinds. Adding a new kind
// means extending this set and the router's dispatch switch.
type SourceType string

const (
	SourceTypeFeed         SourceType = "feed"
	SourceTypeVideoChannel SourceType = "video-channel"
	SourceTypeWeb          SourceType = "web"
)

// Valid reports whether the type is one of the known kinds.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeFeed, SourceTypeVideoChannel, SourceTypeWeb:
		return true
	}
	return false
}

// MaxConsecutiveFailures is the fetch-failure streak after which a source
// is deactivated until an operator re-enables it.
const MaxConsecutiveFailures = 3

// Source is a configured origin of content (an RSS feed, a video channel,
// or a plain web page). The pipeline mutates only its fetch bookkeeping.
type Source struct {
	ID       string
	Name     string
	Type     SourceType
	URL      string
	Config   map[string]any
	Category string
	Language string

	IsActive      bool
	LastFetchedAt *time.Time
	FailureCount  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants enforced at registration time. These are
// the only errors treated as fatal; anything that goes wrong during a
// collection run is handled per cycle instead.
func (s Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: source id is empty", ErrInvalidSource)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidSource, s.Type)
	}
	if s.URL == "" {
		return fmt.Errorf("%w: source %s has no url", ErrInvalidSource, s.ID)
	}
	return nil
}
