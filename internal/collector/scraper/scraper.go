// Package scraper turns arbitrary web pages into content candidates
// without site-specific code, by trying progressively more expensive
// strategies: static fetch + selector, dynamic render + selector, a
// structural heuristic over the DOM, and finally URL-pattern fan-out over
// outbound links.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

const (
	userAgent = "Mozilla/5.0 (compatible; ContentHubBot/1.0)"

	defaultPageTimeout = 30 * time.Second
	defaultMaxPosts    = 10
	maxFanOut          = 10
)

// Config is the per-source scraping configuration, parsed from the
// source's free-form config map at registration time. Pattern errors are
// configuration errors and fail registration, never a collection run.
type Config struct {
	Selector string
	WaitFor  string
	// URLPattern gates stage-4 fan-out links; nil falls back to date/slug
	// heuristics.
	URLPattern *regexp.Regexp
	Timeout    time.Duration

	// PostLinkPattern switches the scraper to listing mode: extract links
	// matching the pattern, then collect each post individually.
	PostLinkPattern *regexp.Regexp
	MaxPosts        int
	RenderListing   bool
}

// ConfigFromSource builds a Config from a source's config map.
func ConfigFromSource(raw map[string]any) (Config, error) {
	cfg := Config{
		Selector: stringValue(raw, "selector"),
		WaitFor:  stringValue(raw, "wait_for"),
		Timeout:  defaultPageTimeout,
		MaxPosts: defaultMaxPosts,
	}

	if seconds := intValue(raw, "timeout_seconds"); seconds > 0 {
		cfg.Timeout = time.Duration(seconds) * time.Second
	}
	if posts := intValue(raw, "max_posts"); posts > 0 {
		cfg.MaxPosts = posts
	}
	if v, ok := raw["use_renderer_for_listing"].(bool); ok {
		cfg.RenderListing = v
	}

	if pattern := stringValue(raw, "url_pattern"); pattern != "" {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return Config{}, fmt.Errorf("%w: url_pattern %q: %v", domain.ErrInvalidSource, pattern, err)
		}
		cfg.URLPattern = compiled
	}
	if pattern := stringValue(raw, "post_link_pattern"); pattern != "" {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return Config{}, fmt.Errorf("%w: post_link_pattern %q: %v", domain.ErrInvalidSource, pattern, err)
		}
		cfg.PostLinkPattern = compiled
	}

	return cfg, nil
}

// ScrapedContent is one extracted candidate, tagged with the fallback
// stage that produced it.
type ScrapedContent struct {
	URL         string
	Title       string
	Body        string
	PublishedAt *time.Time
	Stage       int
}

// Valid reports whether the candidate clears the minimal-content bar.
func (s ScrapedContent) Valid(minBodyLength int) bool {
	return s.Title != "" && len(s.Body) >= minBodyLength
}

// Scraper runs the four-stage extraction fallback chain.
type Scraper struct {
	client       *http.Client
	renderer     ports.Renderer
	delayer      *HostDelayer
	minBodyLen   int
	totalTimeout time.Duration
	logger       *slog.Logger
}

// New wires the chain. renderer may be nil, in which case the dynamic
// stage always falls through.
func New(client *http.Client, renderer ports.Renderer, delayer *HostDelayer, minBodyLength int, totalTimeout time.Duration, logger *slog.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: defaultPageTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		client:       client,
		renderer:     renderer,
		delayer:      delayer,
		minBodyLen:   minBodyLength,
		totalTimeout: totalTimeout,
		logger:       logger,
	}
}

type stage struct {
	number int
	run    func(ctx context.Context, pageURL string, cfg Config) (*ScrapedContent, error)
}

// Fetch extracts content candidates from the page. Stages run strictly in
// order; a stage failure of any kind (network error, missing selector,
// too-short result) means falling through to the next. Only exhausting
// every stage surfaces an error. The whole attempt is bounded by the
// umbrella timeout.
func (s *Scraper) Fetch(ctx context.Context, pageURL string, cfg Config) ([]ScrapedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.totalTimeout)
	defer cancel()

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPageTimeout
	}

	if cfg.PostLinkPattern != nil {
		return s.fetchListing(ctx, pageURL, cfg)
	}

	stages := []stage{
		{1, s.stageStatic},
		{2, s.stageDynamic},
		{3, s.stageStructural},
	}

	var lastErr error
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, &domain.ExtractionError{URL: pageURL, Err: err}
		}

		result, err := st.run(ctx, pageURL, cfg)
		if err != nil {
			s.logger.Debug("extraction stage failed",
				"stage", st.number, "url", pageURL, "error", err)
			lastErr = err
			continue
		}
		if result == nil || !result.Valid(s.minBodyLen) {
			s.logger.Debug("extraction stage yielded nothing usable",
				"stage", st.number, "url", pageURL)
			continue
		}

		result.Stage = st.number
		return []ScrapedContent{*result}, nil
	}

	if results := s.stageFanOut(ctx, pageURL, cfg); len(results) > 0 {
		return results, nil
	}

	return nil, &domain.ExtractionError{URL: pageURL, Err: lastErr}
}

// stageStatic fetches raw HTML without script execution and applies the
// configured selector, or default whole-page extraction when none is set.
func (s *Scraper) stageStatic(ctx context.Context, pageURL string, cfg Config) (*ScrapedContent, error) {
	doc, err := s.fetchDocument(ctx, pageURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return s.extractFromDocument(doc, pageURL, cfg.Selector)
}

// stageDynamic renders the page in a scripting-capable engine, waiting for
// the configured selector when one is set, then extracts like stage 1.
func (s *Scraper) stageDynamic(ctx context.Context, pageURL string, cfg Config) (*ScrapedContent, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("no renderer configured")
	}
	if s.delayer != nil {
		if err := s.delayer.Wait(ctx, pageURL); err != nil {
			return nil, err
		}
	}

	html, err := s.renderer.Render(ctx, pageURL, cfg.WaitFor, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered html: %w", err)
	}
	return s.extractFromDocument(doc, pageURL, cfg.Selector)
}

// structuralSelectors are conventional main-content containers, scanned by
// the heuristic stage.
var structuralSelectors = []string{"main", "article", `[role="main"]`, ".content", "#content"}

// stageStructural scans the document for conventional content containers
// and picks the candidate with the highest text-to-markup density among
// those clearing the minimum length.
func (s *Scraper) stageStructural(ctx context.Context, pageURL string, cfg Config) (*ScrapedContent, error) {
	doc, err := s.fetchDocument(ctx, pageURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var best *goquery.Selection
	var bestDensity float64
	for _, selector := range structuralSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := selectionText(sel)
		if len(text) < s.minBodyLen {
			continue
		}

		markup, err := goquery.OuterHtml(sel)
		if err != nil || len(markup) == 0 {
			continue
		}
		density := float64(len(text)) / float64(len(markup))
		if best == nil || density > bestDensity {
			best = sel
			bestDensity = density
		}
	}

	if best == nil {
		return nil, nil
	}

	title := extractTitle(best)
	if title == "" {
		title = extractTitle(doc.Selection)
	}

	return &ScrapedContent{
		URL:         pageURL,
		Title:       title,
		Body:        selectionText(best),
		PublishedAt: extractPublishedAt(doc),
	}, nil
}

// stageFanOut collects outbound links, keeps those matching the configured
// URL pattern (or date/slug heuristics when no pattern is set), and runs
// stages 1-3 on each with a bounded fan-out. Accepted items are tagged
// stage 4.
func (s *Scraper) stageFanOut(ctx context.Context, pageURL string, cfg Config) []ScrapedContent {
	doc, err := s.fetchDocument(ctx, pageURL, cfg.Timeout)
	if err != nil {
		s.logger.Debug("fan-out link collection failed", "url", pageURL, "error", err)
		return nil
	}

	links := s.matchingLinks(doc, pageURL, cfg.URLPattern)
	if len(links) > maxFanOut {
		links = links[:maxFanOut]
	}

	var collected []ScrapedContent
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		item := s.extractSingle(ctx, link, cfg)
		if item == nil {
			continue
		}
		item.Stage = 4
		collected = append(collected, *item)
	}

	return collected
}

// extractSingle runs the non-fan-out stages against one URL and returns
// the first valid result.
func (s *Scraper) extractSingle(ctx context.Context, pageURL string, cfg Config) *ScrapedContent {
	for _, run := range []func(context.Context, string, Config) (*ScrapedContent, error){
		s.stageStatic, s.stageDynamic, s.stageStructural,
	} {
		result, err := run(ctx, pageURL, cfg)
		if err != nil || result == nil {
			continue
		}
		if result.Valid(s.minBodyLen) {
			return result
		}
	}
	return nil
}

// fetchListing handles listing mode: pull post links off the index page,
// then collect each post.
func (s *Scraper) fetchListing(ctx context.Context, listingURL string, cfg Config) ([]ScrapedContent, error) {
	links, err := s.postLinks(ctx, listingURL, cfg)
	if err != nil {
		return nil, &domain.ExtractionError{URL: listingURL, Err: err}
	}
	if len(links) == 0 {
		return nil, &domain.ExtractionError{URL: listingURL, Err: fmt.Errorf("no links matched post_link_pattern")}
	}
	if len(links) > cfg.MaxPosts {
		links = links[:cfg.MaxPosts]
	}

	var collected []ScrapedContent
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}

		item, err := s.stageStatic(ctx, link, cfg)
		if err != nil || item == nil || !item.Valid(s.minBodyLen) {
			item, err = s.stageStructural(ctx, link, cfg)
			if err != nil || item == nil || !item.Valid(s.minBodyLen) {
				s.logger.Debug("listing post skipped", "url", link)
				continue
			}
			item.Stage = 3
		} else {
			item.Stage = 1
		}

		collected = append(collected, *item)
	}

	s.logger.Info("listing collected",
		"listing_url", listingURL, "links", len(links), "collected", len(collected))
	return collected, nil
}

func (s *Scraper) postLinks(ctx context.Context, listingURL string, cfg Config) ([]string, error) {
	var doc *goquery.Document
	var err error

	if cfg.RenderListing && s.renderer != nil {
		var html string
		html, err = s.renderer.Render(ctx, listingURL, "", cfg.Timeout)
		if err == nil {
			doc, err = goquery.NewDocumentFromReader(strings.NewReader(html))
		}
	} else {
		doc, err = s.fetchDocument(ctx, listingURL, cfg.Timeout)
	}
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, err
	}

	var links []string
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || !cfg.PostLinkPattern.MatchString(href) {
			return
		}
		resolved := resolveLink(base, href)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})

	return links, nil
}

// matchingLinks returns absolute outbound links that pass the pattern, or
// the date/slug heuristic when no pattern is configured. Order follows the
// page; duplicates are dropped.
func (s *Scraper) matchingLinks(doc *goquery.Document, pageURL string, pattern *regexp.Regexp) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved := resolveLink(base, href)
		if resolved == "" || resolved == pageURL {
			return
		}

		if pattern != nil {
			if !pattern.MatchString(resolved) {
				return
			}
		} else if !looksLikeArticleLink(base, resolved) {
			return
		}

		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})

	return links
}

var (
	datePathPattern = regexp.MustCompile(`/20\d{2}[/-]\d{1,2}(?:[/-]\d{1,2})?(?:/|$)`)
	slugPathPattern = regexp.MustCompile(`/[a-z0-9]+(?:-[a-z0-9]+){2,}/?$`)
)

// looksLikeArticleLink is the stage-4 heuristic used when no URL pattern
// is configured: same-host links whose path carries a date segment or a
// hyphenated slug.
func looksLikeArticleLink(base *url.URL, link string) bool {
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	if parsed.Host != base.Host {
		return false
	}
	return datePathPattern.MatchString(parsed.Path) || slugPathPattern.MatchString(parsed.Path)
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// extractFromDocument applies a selector (or default whole-page
// extraction) and checks the minimum-length bar.
func (s *Scraper) extractFromDocument(doc *goquery.Document, pageURL, selector string) (*ScrapedContent, error) {
	var title, body string

	if selector != "" {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return nil, nil
		}
		title = extractTitle(sel)
		if title == "" {
			title = extractTitle(doc.Selection)
		}
		body = selectionText(sel)
	} else {
		title = extractTitle(doc.Selection)
		body = extractBody(doc)
	}

	if len(body) < s.minBodyLen {
		return nil, nil
	}

	return &ScrapedContent{
		URL:         pageURL,
		Title:       title,
		Body:        body,
		PublishedAt: extractPublishedAt(doc),
	}, nil
}

// fetchDocument performs a rate-limited static GET and parses the result.
func (s *Scraper) fetchDocument(ctx context.Context, pageURL string, timeout time.Duration) (*goquery.Document, error) {
	if s.delayer != nil {
		if err := s.delayer.Wait(ctx, pageURL); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func stringValue(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intValue(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
