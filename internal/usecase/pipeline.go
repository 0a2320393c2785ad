// Package usecase orchestrates the pipeline stages: collection across
// sources, downstream enrichment, and digest assembly.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"contenthub/internal/collector"
	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

const (
	defaultWorkerLimit  = 4
	defaultPendingBatch = 50
	// enrichmentParseRetries bounds re-prompting when the model returns
	// something that is not the requested JSON object.
	enrichmentParseRetries = 3
)

// Pipeline runs collection and enrichment cycles.
type Pipeline struct {
	router   *collector.Router
	sources  ports.SourceRepository
	contents ports.ContentRepository
	llm      ports.Completer

	workerLimit    int
	maxAttempts    int
	processTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// PipelineOptions tunes cycle concurrency and retry bounds.
type PipelineOptions struct {
	WorkerLimit    int
	MaxAttempts    int
	ProcessTimeout time.Duration
}

// NewPipeline builds the orchestrator.
func NewPipeline(router *collector.Router, sources ports.SourceRepository, contents ports.ContentRepository, llm ports.Completer, opts PipelineOptions, logger *slog.Logger) *Pipeline {
	if opts.WorkerLimit <= 0 {
		opts.WorkerLimit = defaultWorkerLimit
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = domain.DefaultMaxAttempts
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		router:         router,
		sources:        sources,
		contents:       contents,
		llm:            llm,
		workerLimit:    opts.WorkerLimit,
		maxAttempts:    opts.MaxAttempts,
		processTimeout: opts.ProcessTimeout,
		now:            time.Now,
		logger:         logger,
	}
}

// Collect fetches every active source concurrently. One source failing is
// bookkeeping, not a cycle failure; only repository errors surface.
func (p *Pipeline) Collect(ctx context.Context) error {
	sources, err := p.sources.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sources: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerLimit)

	for _, source := range sources {
		source := source
		g.Go(func() error {
			stored, err := p.router.Collect(gctx, source)
			if err != nil {
				p.logger.Warn("source fetch failed",
					"source_id", source.ID, "source_name", source.Name, "error", err)
				deactivated, recErr := p.sources.RecordFetchFailure(gctx, source.ID)
				if recErr != nil {
					return recErr
				}
				if deactivated {
					p.logger.Error("source deactivated after repeated failures",
						"source_id", source.ID, "source_name", source.Name)
				}
				return nil
			}
			if recErr := p.sources.RecordFetchSuccess(gctx, source.ID, p.now().UTC()); recErr != nil {
				return recErr
			}
			p.logger.Info("source collected",
				"source_id", source.ID, "new_items", len(stored))
			return nil
		})
	}

	return g.Wait()
}

// enrichment is the JSON object the model is asked to produce.
type enrichment struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	WhyImportant   string   `json:"why_important"`
	RelevanceScore float64  `json:"relevance_score"`
	Categories     []string `json:"categories"`
}

// ProcessPending drains the pending queue: each item transitions to
// processing, gets enriched under a per-item deadline, and lands in a
// terminal or re-queued state. Items are processed concurrently up to the
// worker limit.
func (p *Pipeline) ProcessPending(ctx context.Context) error {
	pending, err := p.contents.FindByStatus(ctx, domain.StatusPending, defaultPendingBatch)
	if err != nil {
		return fmt.Errorf("list pending content: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerLimit)

	for _, item := range pending {
		item := item
		g.Go(func() error {
			return p.processOne(gctx, item)
		})
	}

	return g.Wait()
}

func (p *Pipeline) processOne(ctx context.Context, item domain.Content) error {
	if err := item.BeginProcessing(); err != nil {
		// Another worker raced us to it; nothing to do.
		p.logger.Debug("item no longer pending", "content_id", item.ID, "error", err)
		return nil
	}
	if err := p.contents.Update(ctx, item); err != nil {
		return err
	}

	deadline, cancel := context.WithTimeout(ctx, p.processTimeout)
	defer cancel()

	enriched, err := p.enrich(deadline, item)
	switch {
	case err == nil:
		item.TranslatedTitle = enriched.Title
		item.Summary = enriched.Summary
		item.WhyImportant = enriched.WhyImportant
		score := clampScore(enriched.RelevanceScore)
		item.RelevanceScore = &score
		if len(enriched.Categories) > 0 {
			item.Categories = enriched.Categories
		}
		if cErr := item.Complete(p.now().UTC()); cErr != nil {
			return cErr
		}
	case deadline.Err() != nil && ctx.Err() == nil:
		// The per-item budget ran out, not the whole cycle.
		if tErr := item.MarkTimeout(); tErr != nil {
			return tErr
		}
		p.logger.Warn("item processing timed out",
			"content_id", item.ID, "attempts", item.Attempts)
	default:
		if fErr := item.Fail(err.Error(), p.maxAttempts); fErr != nil {
			return fErr
		}
		p.logger.Warn("item processing failed",
			"content_id", item.ID,
			"attempts", item.Attempts,
			"requeued", item.Status == domain.StatusPending,
			"error", err)
	}

	return p.contents.Update(ctx, item)
}

// enrich asks the model for translation, summary, and scoring in a single
// prompt. Malformed replies are re-prompted a bounded number of times; if
// the model never produces valid JSON the raw item still completes,
// unscored, rather than burning retry attempts on a formatting quirk.
func (p *Pipeline) enrich(ctx context.Context, item domain.Content) (*enrichment, error) {
	prompt := buildEnrichmentPrompt(item)

	var lastErr error
	for i := 0; i < enrichmentParseRetries; i++ {
		reply, err := p.llm.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("completion request: %w", err)
		}
		parsed, err := parseEnrichment(reply)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		p.logger.Debug("unparseable enrichment reply",
			"content_id", item.ID, "attempt", i+1, "error", err)
	}

	p.logger.Warn("enrichment reply never parsed, completing unenriched",
		"content_id", item.ID, "error", lastErr)
	return &enrichment{
		Title:   item.OriginalTitle,
		Summary: truncateRunes(item.OriginalBody, 500),
	}, nil
}

func buildEnrichmentPrompt(item domain.Content) string {
	var b strings.Builder
	b.WriteString("You are a news curation assistant. For the article below, respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"title": "<Korean translation of the title>", "summary": "<3-sentence Korean summary>", "why_important": "<one Korean sentence on why this matters>", "relevance_score": <0.0-1.0>, "categories": ["<topic>", ...]}` + "\n\n")
	b.WriteString("Title: " + item.OriginalTitle + "\n")
	if item.OriginalLanguage != "" {
		b.WriteString("Language: " + item.OriginalLanguage + "\n")
	}
	b.WriteString("Body:\n" + truncateRunes(item.OriginalBody, 8000) + "\n")
	return b.String()
}

// parseEnrichment tolerates code fences and prose around the object by
// slicing from the first '{' to the last '}'.
func parseEnrichment(reply string) (*enrichment, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var e enrichment
	if err := json.Unmarshal([]byte(reply[start:end+1]), &e); err != nil {
		return nil, fmt.Errorf("decode enrichment: %w", err)
	}
	if e.Title == "" && e.Summary == "" {
		return nil, fmt.Errorf("enrichment object is empty")
	}
	return &e, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
