// Package filter decides which processed items survive into a digest.
// Every predicate is independently callable; Apply composes them in a
// fixed order that callers must not rearrange, because duplicate
// suppression and truncation are order-sensitive.
package filter

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"contenthub/internal/domain"
)

// Options parameterizes one filtering pass. Zero values disable the
// corresponding predicate except where noted.
type Options struct {
	Status        domain.ProcessingStatus
	Categories    []string // empty means no category restriction
	MinRelevance  float64
	MaxAgeDays    int
	MinBodyLength int
	RequireTitle  bool
	// SimilarityThreshold at or above which two titles are considered the
	// same story. Zero disables duplicate suppression.
	SimilarityThreshold float64
	SortBy              domain.SortMode
	Limit               int
	// Now anchors the recency window; required when MaxAgeDays is set.
	Now time.Time
}

// Apply runs the full pass: status, category, relevance, recency, minimal
// quality, duplicate suppression, sort, truncate, in that order.
func Apply(contents []domain.Content, opts Options) []domain.Content {
	result := contents

	if opts.Status != "" {
		result = ByStatus(result, opts.Status)
	}
	if len(opts.Categories) > 0 {
		result = ByCategories(result, opts.Categories)
	}
	result = ByRelevance(result, opts.MinRelevance)
	if opts.MaxAgeDays > 0 {
		result = ByRecency(result, opts.Now, opts.MaxAgeDays)
	}
	result = ByQuality(result, opts.MinBodyLength, opts.RequireTitle)
	if opts.SimilarityThreshold > 0 {
		result = Deduplicate(result, opts.SimilarityThreshold)
	}

	switch opts.SortBy {
	case domain.SortByRecency:
		result = SortByRecency(result)
	default:
		result = SortByRelevance(result)
	}

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result
}

// ByStatus keeps items in the given processing status.
func ByStatus(contents []domain.Content, status domain.ProcessingStatus) []domain.Content {
	filtered := make([]domain.Content, 0, len(contents))
	for _, c := range contents {
		if c.Status == status {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// ByCategories keeps items sharing at least one category with the interest
// list.
func ByCategories(contents []domain.Content, categories []string) []domain.Content {
	wanted := make(map[string]struct{}, len(categories))
	for _, cat := range categories {
		wanted[cat] = struct{}{}
	}

	filtered := make([]domain.Content, 0, len(contents))
	for _, c := range contents {
		for _, cat := range c.Categories {
			if _, ok := wanted[cat]; ok {
				filtered = append(filtered, c)
				break
			}
		}
	}
	return filtered
}

// ByRelevance keeps items whose score clears the minimum. Unscored items
// never pass a positive threshold.
func ByRelevance(contents []domain.Content, minScore float64) []domain.Content {
	if minScore <= 0 {
		return contents
	}
	filtered := make([]domain.Content, 0, len(contents))
	for _, c := range contents {
		if c.RelevanceScore != nil && *c.RelevanceScore >= minScore {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// ByRecency keeps items collected within the window. The boundary is
// inclusive; items lacking a collection time are excluded because their
// recency cannot be proven.
func ByRecency(contents []domain.Content, now time.Time, maxAgeDays int) []domain.Content {
	cutoff := now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	filtered := make([]domain.Content, 0, len(contents))
	for _, c := range contents {
		if c.CollectedAt.IsZero() {
			continue
		}
		if !c.CollectedAt.Before(cutoff) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// ByQuality keeps items that look like real articles: a title when one is
// required, and a body of at least minBodyLength bytes.
func ByQuality(contents []domain.Content, minBodyLength int, requireTitle bool) []domain.Content {
	filtered := make([]domain.Content, 0, len(contents))
	for _, c := range contents {
		if requireTitle && c.OriginalTitle == "" {
			continue
		}
		if len(c.OriginalBody) < minBodyLength {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// Deduplicate suppresses near-duplicate stories by title similarity.
// Candidates are walked newest-first so that when two items tell the same
// story, the newer one survives. A candidate matching any already-accepted
// title at or above the threshold is dropped.
func Deduplicate(contents []domain.Content, threshold float64) []domain.Content {
	if len(contents) <= 1 {
		return contents
	}

	ordered := make([]domain.Content, len(contents))
	copy(ordered, contents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CollectedAt.After(ordered[j].CollectedAt)
	})

	accepted := make([]domain.Content, 0, len(ordered))
	acceptedTokens := make([]map[string]struct{}, 0, len(ordered))

	for _, candidate := range ordered {
		tokens := tokenize(candidate.OriginalTitle)

		duplicate := false
		for _, existing := range acceptedTokens {
			if jaccard(tokens, existing) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		accepted = append(accepted, candidate)
		acceptedTokens = append(acceptedTokens, tokens)
	}

	return accepted
}

// SortByRelevance orders by score descending; unscored items sink to the
// bottom.
func SortByRelevance(contents []domain.Content) []domain.Content {
	ordered := make([]domain.Content, len(contents))
	copy(ordered, contents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return score(ordered[i]) > score(ordered[j])
	})
	return ordered
}

// SortByRecency orders by collection time descending.
func SortByRecency(contents []domain.Content) []domain.Content {
	ordered := make([]domain.Content, len(contents))
	copy(ordered, contents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CollectedAt.After(ordered[j].CollectedAt)
	})
	return ordered
}

func score(c domain.Content) float64 {
	if c.RelevanceScore == nil {
		return 0
	}
	return *c.RelevanceScore
}

// tokenize lower-cases and splits on whitespace, trims surrounding
// punctuation, and discards single-rune tokens, which are mostly particles
// and stop-words.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?\"'`()[]{}:;")
		if utf8.RuneCountInString(token) <= 1 {
			continue
		}
		tokens[token] = struct{}{}
	}
	return tokens
}

// jaccard is |A∩B| / |A∪B| over token sets. Either side being empty means
// no similarity can be established.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
