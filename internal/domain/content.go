package domain

import "time"

// ProcessingStatus tracks where a content item is in its lifecycle.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusSkipped    ProcessingStatus = "skipped"
	StatusTimeout    ProcessingStatus = "timeout"
)

// Content is one collected item. It is never physically deleted; items the
// pipeline gives up on are tombstoned via status.
type Content struct {
	ID       string
	SourceID string

	// ContentKey is the idempotency key, computed before any storage write.
	ContentKey string

	OriginalURL         string
	OriginalTitle       string
	OriginalBody        string
	OriginalLanguage    string
	OriginalPublishedAt *time.Time

	// Enrichment produced downstream; empty until processing completes.
	TranslatedTitle string
	Summary         string
	WhyImportant    string

	RelevanceScore *float64
	Categories     []string

	Status    ProcessingStatus
	Attempts  int
	LastError string

	// DigestID is set once the item has been delivered in a digest.
	DigestID string

	CollectedAt time.Time
	ProcessedAt *time.Time
}

// ExtractionStage records which web-extraction fallback stage produced an
// item (1-4, zero for non-web sources). Kept next to the item for triage;
// it never influences filtering.
type ExtractionStage int
