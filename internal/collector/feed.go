package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// RawItem is one normalized candidate coming out of any source type,
// before identity assignment and storage.
type RawItem struct {
	URL         string
	Title       string
	Body        string
	Language    string
	PublishedAt *time.Time
	// Stage is the web-extraction stage that produced the item; zero for
	// feed and video sources.
	Stage int
}

// FeedCollector parses syndication feeds. A malformed entry is skipped,
// never fatal for the rest of the feed.
type FeedCollector struct {
	parser *gofeed.Parser
	limit  int
	logger *slog.Logger
}

// NewFeedCollector wires a gofeed parser with an entry cap per fetch.
func NewFeedCollector(client *http.Client, limit int, logger *slog.Logger) *FeedCollector {
	parser := gofeed.NewParser()
	parser.UserAgent = "Mozilla/5.0 (compatible; ContentHubBot/1.0)"
	if client != nil {
		parser.Client = client
	}
	if limit <= 0 {
		limit = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedCollector{parser: parser, limit: limit, logger: logger}
}

// Fetch pulls the feed and emits one RawItem per usable entry, preserving
// feed order.
func (f *FeedCollector) Fetch(ctx context.Context, feedURL string) ([]RawItem, error) {
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if len(items) >= f.limit {
			break
		}

		title := strings.TrimSpace(entry.Title)
		link := strings.TrimSpace(entry.Link)
		if title == "" || link == "" {
			f.logger.Debug("feed entry skipped", "feed", feedURL, "reason", "missing title or link")
			continue
		}

		// Best-effort body: full content first, then the summary.
		body := strings.TrimSpace(entry.Content)
		if body == "" {
			body = strings.TrimSpace(entry.Description)
		}

		item := RawItem{URL: link, Title: title, Body: body}
		if entry.PublishedParsed != nil {
			published := entry.PublishedParsed.UTC()
			item.PublishedAt = &published
		} else if entry.UpdatedParsed != nil {
			updated := entry.UpdatedParsed.UTC()
			item.PublishedAt = &updated
		}

		items = append(items, item)
	}

	return items, nil
}
