// Package collector gathers raw items from configured sources and stores
// them behind idempotency keys.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"contenthub/internal/collector/scraper"
	"contenthub/internal/collector/youtube"
	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

// Router dispatches a source to its extraction path and normalizes the
// results into stored Content. Dispatch is a closed switch over the source
// type; an unknown type is a configuration error, not something to ignore.
type Router struct {
	feeds    *FeedCollector
	scraper  *scraper.Scraper
	youtube  *youtube.Collector
	contents ports.ContentRepository
	now      func() time.Time
	logger   *slog.Logger
}

// NewRouter wires the per-type collectors.
func NewRouter(feeds *FeedCollector, webScraper *scraper.Scraper, videos *youtube.Collector, contents ports.ContentRepository, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		feeds:    feeds,
		scraper:  webScraper,
		youtube:  videos,
		contents: contents,
		now:      time.Now,
		logger:   logger,
	}
}

// Collect runs one fetch cycle for a single source and returns the ids of
// newly stored items. A single malformed entry never aborts the source;
// a source-level failure never aborts the cycle for other sources.
func (r *Router) Collect(ctx context.Context, source domain.Source) ([]string, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}

	switch source.Type {
	case domain.SourceTypeFeed:
		return r.collectFeed(ctx, source)
	case domain.SourceTypeVideoChannel:
		return r.collectVideo(ctx, source)
	case domain.SourceTypeWeb:
		return r.collectWeb(ctx, source)
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", domain.ErrInvalidSource, source.Type)
	}
}

func (r *Router) collectFeed(ctx context.Context, source domain.Source) ([]string, error) {
	items, err := r.feeds.Fetch(ctx, source.URL)
	if err != nil {
		return nil, err
	}

	var stored []string
	for _, item := range items {
		id, err := r.store(ctx, source, item, domain.StatusPending, "")
		if err != nil {
			r.logger.Warn("item not stored", "source_id", source.ID, "url", item.URL, "error", err)
			continue
		}
		if id != "" {
			stored = append(stored, id)
		}
	}
	return stored, nil
}

func (r *Router) collectWeb(ctx context.Context, source domain.Source) ([]string, error) {
	cfg, err := scraper.ConfigFromSource(source.Config)
	if err != nil {
		return nil, err
	}

	results, err := r.scraper.Fetch(ctx, source.URL, cfg)
	if err != nil {
		return nil, err
	}

	var stored []string
	for _, result := range results {
		item := RawItem{
			URL:         result.URL,
			Title:       result.Title,
			Body:        result.Body,
			PublishedAt: result.PublishedAt,
			Stage:       result.Stage,
		}
		id, err := r.store(ctx, source, item, domain.StatusPending, "")
		if err != nil {
			r.logger.Warn("item not stored",
				"source_id", source.ID, "url", item.URL, "stage", result.Stage, "error", err)
			continue
		}
		if id != "" {
			stored = append(stored, id)
		}
	}
	return stored, nil
}

func (r *Router) collectVideo(ctx context.Context, source domain.Source) ([]string, error) {
	videoID, err := youtube.ExtractVideoID(source.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}

	watchURL := youtube.WatchURL(videoID)

	// Duplicate check up front: transcript retrieval is the expensive part.
	key, err := domain.ContentKey(source.ID, watchURL)
	if err != nil {
		return nil, err
	}
	exists, err := r.contents.ExistsByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	result, err := r.youtube.FetchTranscript(ctx, videoID)
	if err != nil {
		return nil, err
	}

	item := RawItem{
		URL:      watchURL,
		Title:    source.Name,
		Body:     result.Text,
		Language: result.Language,
	}

	if result.Skipped {
		// Stored as a tombstone so the video is not re-examined every cycle.
		if _, err := r.store(ctx, source, item, domain.StatusSkipped, result.SkipReason); err != nil {
			return nil, err
		}
		return nil, nil
	}

	id, err := r.store(ctx, source, item, domain.StatusPending, "")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return []string{id}, nil
}

// store computes the idempotency key and inserts if absent. A duplicate
// key means another run already stored the item; that is a silent skip,
// not an error. The empty id return marks that case.
func (r *Router) store(ctx context.Context, source domain.Source, item RawItem, status domain.ProcessingStatus, note string) (string, error) {
	key, err := domain.ContentKey(source.ID, item.URL)
	if err != nil {
		return "", err
	}

	language := item.Language
	if language == "" {
		language = source.Language
	}

	content := domain.Content{
		ID:                  "cnt_" + uuid.NewString()[:12],
		SourceID:            source.ID,
		ContentKey:          key,
		OriginalURL:         item.URL,
		OriginalTitle:       item.Title,
		OriginalBody:        item.Body,
		OriginalLanguage:    language,
		OriginalPublishedAt: item.PublishedAt,
		Status:              status,
		LastError:           note,
		CollectedAt:         r.now().UTC(),
	}
	if source.Category != "" {
		content.Categories = []string{source.Category}
	}

	created, err := r.contents.CreateIfAbsent(ctx, content)
	if err != nil {
		return "", err
	}
	if !created {
		r.logger.Debug("duplicate content skipped", "content_key", key)
		return "", nil
	}

	r.logger.Info("content stored",
		"content_id", content.ID,
		"source_id", source.ID,
		"stage", item.Stage,
		"status", status)
	return content.ID, nil
}
