package scraper

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// headingsToSkip are generic section headings that masquerade as titles.
var headingsToSkip = map[string]struct{}{
	"related stories": {},
	"related posts":   {},
	"more articles":   {},
}

// titleSeparators split "Article Title | Site Name" style <title> tags.
var titleSeparators = []string{" | ", " - ", " – ", " — "}

// extractTitle pulls the best title from a document or selection.
// Priority: og:title meta, <title> (site-name suffix stripped), then the
// first h1/h2/h3 that is not a generic section heading.
func extractTitle(sel *goquery.Selection) string {
	if og, ok := sel.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if title := strings.TrimSpace(og); title != "" {
			return title
		}
	}

	if title := strings.TrimSpace(sel.Find("title").First().Text()); title != "" {
		for _, sep := range titleSeparators {
			if idx := strings.Index(title, sep); idx > 0 {
				title = strings.TrimSpace(title[:idx])
				break
			}
		}
		return title
	}

	for _, tag := range []string{"h1", "h2", "h3"} {
		text := strings.TrimSpace(sel.Find(tag).First().Text())
		if text == "" {
			continue
		}
		if _, skip := headingsToSkip[strings.ToLower(text)]; skip {
			continue
		}
		return text
	}

	return ""
}

// extractBody returns the page's visible text with boilerplate containers
// removed.
func extractBody(doc *goquery.Document) string {
	clone := goquery.CloneDocument(doc)
	clone.Find("script, style, nav, header, footer, aside").Remove()

	body := clone.Find("body")
	if body.Length() > 0 {
		return collapseWhitespace(body.Text())
	}
	return collapseWhitespace(clone.Text())
}

// selectionText flattens a selection to space-separated text.
func selectionText(sel *goquery.Selection) string {
	return collapseWhitespace(sel.Text())
}

// extractPublishedAt reads the publish time from <time datetime> or the
// usual meta tags. Absence is fine; a nil return means unknown.
func extractPublishedAt(doc *goquery.Document) *time.Time {
	if raw, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if ts := parseTimestamp(raw); ts != nil {
			return ts
		}
	}

	for _, name := range []string{"article:published_time", "datePublished", "date"} {
		sel := doc.Find(`meta[property="` + name + `"]`).First()
		if sel.Length() == 0 {
			sel = doc.Find(`meta[name="` + name + `"]`).First()
		}
		if raw, ok := sel.Attr("content"); ok {
			if ts := parseTimestamp(raw); ts != nil {
				return ts
			}
		}
	}

	return nil
}

func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ts, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
