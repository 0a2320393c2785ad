package domain

import "time"

// DigestStatus tracks a digest from creation to delivery.
type DigestStatus string

const (
	DigestPending DigestStatus = "pending"
	DigestSent    DigestStatus = "sent"
	DigestFailed  DigestStatus = "failed"
)

// Digest is one batch delivery to one subscriber for one calendar day.
// At most one exists per (subscription, date); it is never mutated after
// delivery beyond its status bookkeeping.
type Digest struct {
	ID             string
	SubscriptionID string

	// DigestKey is {subscription_id}:{YYYY-MM-DD} in the delivery timezone.
	DigestKey  string
	DigestDate time.Time

	// ContentIDs preserves delivery order.
	ContentIDs []string
	ChannelID  string

	Status    DigestStatus
	Error     string
	MessageTS string

	CreatedAt time.Time
	SentAt    *time.Time
}
