package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"contenthub/internal/domain"
	"contenthub/internal/filter"
	"contenthub/internal/ports"
)

// FilterDefaults are the filter settings applied when a subscription does
// not override them.
type FilterDefaults struct {
	SimilarityThreshold float64
	MaxAgeDays          int
	MinBodyLength       int
	RequireTitle        bool
	MaxItems            int
	SortBy              domain.SortMode
}

// DigestService assembles and delivers per-subscription digests. Delivery
// is idempotent on the digest key: a day that already has a digest for a
// subscription is never re-sent.
type DigestService struct {
	contents      ports.ContentRepository
	digests       ports.DigestRepository
	subscriptions ports.SubscriptionRepository
	sender        ports.DigestSender

	defaults FilterDefaults
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewDigestService builds the service. location is the default delivery
// timezone used when a subscription carries none.
func NewDigestService(contents ports.ContentRepository, digests ports.DigestRepository, subscriptions ports.SubscriptionRepository, sender ports.DigestSender, defaults FilterDefaults, location *time.Location, logger *slog.Logger) *DigestService {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestService{
		contents:      contents,
		digests:       digests,
		subscriptions: subscriptions,
		sender:        sender,
		defaults:      defaults,
		location:      location,
		now:           time.Now,
		logger:        logger,
	}
}

// Distribute delivers today's digest to every subscription whose delivery
// time has already passed. Ticks rarely land on the configured minute, so
// "due" means at-or-after it; the digest key keeps later ticks the same
// day from re-sending. One subscription failing does not block the others.
func (s *DigestService) Distribute(ctx context.Context) error {
	subs, err := s.subscriptions.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.IsActive || !s.dueNow(sub) {
			continue
		}
		if err := s.Deliver(ctx, sub); err != nil {
			s.logger.Error("digest delivery failed",
				"subscription_id", sub.ID, "channel_id", sub.ChannelID, "error", err)
		}
	}
	return nil
}

// dueNow reports whether the subscription's delivery time has passed in
// its own timezone today.
func (s *DigestService) dueNow(sub domain.Subscription) bool {
	loc := sub.Location(s.location)
	return s.now().In(loc).Format("15:04") >= sub.Preferences.DeliveryTime
}

// Deliver assembles and sends one subscription's digest for today. The
// digest key is claimed with an insert-if-absent before anything is sent,
// so two overlapping runs produce exactly one message.
func (s *DigestService) Deliver(ctx context.Context, sub domain.Subscription) error {
	loc := sub.Location(s.location)
	now := s.now().In(loc)
	key := domain.DigestKey(sub.ID, now, loc)

	existing, err := s.digests.GetByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("look up digest %s: %w", key, err)
	}
	if existing != nil && existing.Status == domain.DigestSent {
		s.logger.Debug("digest already sent", "digest_key", key)
		return nil
	}

	candidates, err := s.contents.FindForDigest(ctx)
	if err != nil {
		return fmt.Errorf("list digest candidates: %w", err)
	}

	selected := filter.Apply(candidates, s.filterOptions(sub))
	if len(selected) == 0 {
		s.logger.Info("nothing to deliver", "subscription_id", sub.ID, "digest_key", key)
		return nil
	}

	contentIDs := make([]string, len(selected))
	for i, c := range selected {
		contentIDs[i] = c.ID
	}

	digest := domain.Digest{
		ID:             "dgst_" + uuid.NewString()[:12],
		SubscriptionID: sub.ID,
		DigestKey:      key,
		DigestDate:     time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc),
		ContentIDs:     contentIDs,
		ChannelID:      sub.ChannelID,
		Status:         domain.DigestPending,
		CreatedAt:      s.now().UTC(),
	}

	if existing != nil {
		// A prior failed attempt holds the key; retry under its identity,
		// recording the freshly selected items.
		digest.ID = existing.ID
		if err := s.digests.UpdateContentIDs(ctx, digest.ID, contentIDs); err != nil {
			return fmt.Errorf("update digest %s contents: %w", key, err)
		}
	} else {
		created, err := s.digests.CreateIfAbsent(ctx, digest)
		if err != nil {
			return fmt.Errorf("claim digest %s: %w", key, err)
		}
		if !created {
			s.logger.Debug("digest claimed by concurrent run", "digest_key", key)
			return nil
		}
	}

	messageTS, err := s.sender.Send(ctx, digest, selected)
	if err != nil {
		if mErr := s.digests.MarkFailed(ctx, digest.ID, err.Error()); mErr != nil {
			s.logger.Error("cannot record digest failure", "digest_id", digest.ID, "error", mErr)
		}
		return fmt.Errorf("send digest %s: %w", key, err)
	}

	if err := s.digests.MarkSent(ctx, digest.ID, messageTS, s.now().UTC()); err != nil {
		return fmt.Errorf("mark digest sent: %w", err)
	}
	if err := s.contents.MarkIncludedInDigest(ctx, contentIDs, digest.ID); err != nil {
		return fmt.Errorf("mark contents delivered: %w", err)
	}

	s.logger.Info("digest delivered",
		"digest_key", key, "channel_id", sub.ChannelID, "items", len(contentIDs))
	return nil
}

func (s *DigestService) filterOptions(sub domain.Subscription) filter.Options {
	prefs := sub.Preferences

	opts := filter.Options{
		Status:              domain.StatusCompleted,
		Categories:          prefs.Categories,
		MinRelevance:        prefs.MinRelevance,
		MaxAgeDays:          prefs.MaxAgeDays,
		MinBodyLength:       s.defaults.MinBodyLength,
		RequireTitle:        s.defaults.RequireTitle,
		SimilarityThreshold: s.defaults.SimilarityThreshold,
		SortBy:              prefs.SortBy,
		Limit:               prefs.MaxItems,
		Now:                 s.now().UTC(),
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = s.defaults.MaxAgeDays
	}
	if opts.Limit <= 0 {
		opts.Limit = s.defaults.MaxItems
	}
	if opts.SortBy == "" {
		opts.SortBy = s.defaults.SortBy
	}
	return opts
}
