package filter

import (
	"testing"
	"time"

	"contenthub/internal/domain"
)

func scored(s float64) *float64 { return &s }

func item(id, title string, score float64, collected time.Time) domain.Content {
	return domain.Content{
		ID:             id,
		OriginalTitle:  title,
		OriginalBody:   "body text long enough to pass the default quality gate for tests",
		RelevanceScore: scored(score),
		Status:         domain.StatusCompleted,
		CollectedAt:    collected,
	}
}

func TestByRelevanceExcludesUnscored(t *testing.T) {
	t.Parallel()

	now := time.Now()
	unscored := item("a", "t", 0, now)
	unscored.RelevanceScore = nil

	got := ByRelevance([]domain.Content{unscored, item("b", "t", 0.7, now)}, 0.5)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected only scored item to pass, got %d items", len(got))
	}
}

func TestByRecencyBoundaryInclusive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	exactlyAtCutoff := item("edge", "t", 0.5, now.Add(-7*24*time.Hour))
	justInside := item("in", "t", 0.5, now.Add(-7*24*time.Hour+time.Second))
	justOutside := item("out", "t", 0.5, now.Add(-7*24*time.Hour-time.Second))

	got := ByRecency([]domain.Content{exactlyAtCutoff, justInside, justOutside}, now, 7)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	for _, c := range got {
		if c.ID == "out" {
			t.Fatal("item outside the window survived")
		}
	}
}

func TestByRecencyExcludesZeroCollectedAt(t *testing.T) {
	t.Parallel()

	now := time.Now()
	noTime := item("zero", "t", 0.5, time.Time{})

	got := ByRecency([]domain.Content{noTime, item("ok", "t", 0.5, now)}, now, 7)
	if len(got) != 1 || got[0].ID != "ok" {
		t.Fatal("item without a collection time must not pass the recency gate")
	}
}

func TestByQuality(t *testing.T) {
	t.Parallel()

	noTitle := domain.Content{OriginalBody: "a perfectly long enough body for the quality gate"}
	shortBody := domain.Content{OriginalTitle: "t", OriginalBody: "too short"}
	ok := domain.Content{OriginalTitle: "t", OriginalBody: "a perfectly long enough body for the quality gate"}

	got := ByQuality([]domain.Content{noTitle, shortBody, ok}, 20, true)
	if len(got) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(got))
	}
}

func TestDeduplicateKeepsNewest(t *testing.T) {
	t.Parallel()

	older := item("old", "OpenAI releases new flagship model today", 0.9, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	newer := item("new", "OpenAI releases new flagship model today!", 0.4, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	unrelated := item("other", "Quarterly results for the chip sector", 0.5, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	got := Deduplicate([]domain.Content{older, newer, unrelated}, 0.85)
	if len(got) != 2 {
		t.Fatalf("expected 2 items after dedup, got %d", len(got))
	}
	ids := map[string]bool{}
	for _, c := range got {
		ids[c.ID] = true
	}
	if !ids["new"] || ids["old"] {
		t.Fatalf("newest duplicate must survive, got %v", ids)
	}
	if !ids["other"] {
		t.Fatal("unrelated item dropped")
	}
}

func TestDeduplicateBelowThresholdKeepsBoth(t *testing.T) {
	t.Parallel()

	a := item("a", "GPT-5 출시 소식", 0.9, time.Now())
	b := item("b", "반도체 수출 규제 완화", 0.8, time.Now())

	got := Deduplicate([]domain.Content{a, b}, 0.85)
	if len(got) != 2 {
		t.Fatalf("distinct stories must both survive, got %d", len(got))
	}
}

func TestApplyOrderAndTruncation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	items := []domain.Content{
		item("low", "alpha story one here", 0.3, now.Add(-time.Hour)),
		item("high", "beta story two here", 0.9, now.Add(-2*time.Hour)),
		item("mid", "gamma story three here", 0.6, now.Add(-3*time.Hour)),
		item("stale", "delta story four here", 0.95, now.Add(-30*24*time.Hour)),
	}
	failed := item("failed", "epsilon story five here", 0.99, now)
	failed.Status = domain.StatusFailed
	items = append(items, failed)

	got := Apply(items, Options{
		Status:              domain.StatusCompleted,
		MaxAgeDays:          7,
		MinBodyLength:       10,
		RequireTitle:        true,
		SimilarityThreshold: 0.85,
		SortBy:              domain.SortByRelevance,
		Limit:               2,
		Now:                 now,
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 items after truncation, got %d", len(got))
	}
	if got[0].ID != "high" || got[1].ID != "mid" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestSortByRecency(t *testing.T) {
	t.Parallel()

	now := time.Now()
	got := SortByRecency([]domain.Content{
		item("old", "a", 0.9, now.Add(-2*time.Hour)),
		item("new", "b", 0.1, now),
	})
	if got[0].ID != "new" {
		t.Fatalf("recency sort: got %s first", got[0].ID)
	}
}

func TestTokenizeDropsShortTokensAndPunctuation(t *testing.T) {
	t.Parallel()

	tokens := tokenize(`"Hello," World! A (test)`)
	for _, want := range []string{"hello", "world", "test"} {
		if _, ok := tokens[want]; !ok {
			t.Fatalf("missing token %q in %v", want, tokens)
		}
	}
	if _, ok := tokens["a"]; ok {
		t.Fatal("single-rune token should be dropped")
	}
}
