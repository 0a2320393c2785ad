package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contenthub/internal/collector"
	"contenthub/internal/domain"
)

type memContentRepo struct {
	mu    sync.Mutex
	byKey map[string]domain.Content
}

func newMemContentRepo(seed ...domain.Content) *memContentRepo {
	repo := &memContentRepo{byKey: map[string]domain.Content{}}
	for _, c := range seed {
		repo.byKey[c.ContentKey] = c
	}
	return repo
}

func (m *memContentRepo) CreateIfAbsent(_ context.Context, c domain.Content) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[c.ContentKey]; exists {
		return false, nil
	}
	m.byKey[c.ContentKey] = c
	return true, nil
}

func (m *memContentRepo) GetByID(_ context.Context, id string) (*domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byKey {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memContentRepo) ExistsByKey(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byKey[key]
	return ok, nil
}

func (m *memContentRepo) FindByStatus(_ context.Context, status domain.ProcessingStatus, limit int) ([]domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Content
	for _, c := range m.byKey {
		if c.Status == status {
			out = append(out, c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memContentRepo) FindForDigest(context.Context) ([]domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Content
	for _, c := range m.byKey {
		if c.Status == domain.StatusCompleted && c.DigestID == "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memContentRepo) Update(_ context.Context, c domain.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[c.ContentKey] = c
	return nil
}

func (m *memContentRepo) MarkIncludedInDigest(_ context.Context, ids []string, digestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	marked := map[string]bool{}
	for _, id := range ids {
		marked[id] = true
	}
	for key, c := range m.byKey {
		if marked[c.ID] {
			c.DigestID = digestID
			m.byKey[key] = c
		}
	}
	return nil
}

func (m *memContentRepo) get(key string) domain.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[key]
}

type memSourceRepo struct {
	mu        sync.Mutex
	sources   []domain.Source
	successes map[string]int
	failures  map[string]int
}

func newMemSourceRepo(sources ...domain.Source) *memSourceRepo {
	return &memSourceRepo{
		sources:   sources,
		successes: map[string]int{},
		failures:  map[string]int{},
	}
}

func (m *memSourceRepo) FindActive(context.Context) ([]domain.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []domain.Source
	for _, s := range m.sources {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active, nil
}

func (m *memSourceRepo) RecordFetchSuccess(_ context.Context, id string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes[id]++
	return nil
}

func (m *memSourceRepo) RecordFetchFailure(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id]++
	for i, s := range m.sources {
		if s.ID == id {
			m.sources[i].FailureCount++
			if m.sources[i].FailureCount >= domain.MaxConsecutiveFailures {
				m.sources[i].IsActive = false
				return true, nil
			}
		}
	}
	return false, nil
}

type stubCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (s *stubCompleter) Complete(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no reply configured")
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

const rssOneItem = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>F</title>
<item><title>Story</title><link>https://example.com/story</link><description>Body text</description></item>
</channel></rss>`

func pendingItem(key string) domain.Content {
	return domain.Content{
		ID:            "cnt_" + key,
		SourceID:      "src_1",
		ContentKey:    key,
		OriginalTitle: "A Title",
		OriginalBody:  "Some body text for the processing stage.",
		Status:        domain.StatusPending,
		CollectedAt:   time.Now().UTC(),
	}
}

func TestCollectRecordsSuccessAndFailure(t *testing.T) {
	t.Parallel()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, rssOneItem)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer bad.Close()

	contents := newMemContentRepo()
	sources := newMemSourceRepo(
		domain.Source{ID: "src_ok", Name: "good", Type: domain.SourceTypeFeed, URL: good.URL, IsActive: true},
		domain.Source{ID: "src_bad", Name: "bad", Type: domain.SourceTypeFeed, URL: bad.URL, IsActive: true},
	)

	router := collector.NewRouter(collector.NewFeedCollector(nil, 0, nil), nil, nil, contents, nil)
	p := NewPipeline(router, sources, contents, &stubCompleter{}, PipelineOptions{}, nil)

	require.NoError(t, p.Collect(context.Background()))

	assert.Equal(t, 1, sources.successes["src_ok"])
	assert.Equal(t, 1, sources.failures["src_bad"])
	assert.Zero(t, sources.failures["src_ok"])
}

func TestCollectDeactivatesAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer bad.Close()

	contents := newMemContentRepo()
	sources := newMemSourceRepo(
		domain.Source{ID: "src_bad", Name: "bad", Type: domain.SourceTypeFeed, URL: bad.URL, IsActive: true},
	)
	router := collector.NewRouter(collector.NewFeedCollector(nil, 0, nil), nil, nil, contents, nil)
	p := NewPipeline(router, sources, contents, &stubCompleter{}, PipelineOptions{}, nil)

	for i := 0; i < domain.MaxConsecutiveFailures; i++ {
		require.NoError(t, p.Collect(context.Background()))
	}

	active, err := sources.FindActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active, "source should be deactivated after the failure streak")

	// Deactivated source is no longer fetched.
	require.NoError(t, p.Collect(context.Background()))
	assert.Equal(t, domain.MaxConsecutiveFailures, sources.failures["src_bad"])
}

func TestProcessPendingCompletesWithEnrichment(t *testing.T) {
	t.Parallel()

	item := pendingItem("src_1:abc")
	contents := newMemContentRepo(item)
	llm := &stubCompleter{replies: []string{
		`{"title": "한글 제목", "summary": "요약입니다.", "why_important": "중요합니다.", "relevance_score": 0.82, "categories": ["ai"]}`,
	}}

	p := NewPipeline(nil, newMemSourceRepo(), contents, llm, PipelineOptions{}, nil)
	require.NoError(t, p.ProcessPending(context.Background()))

	got := contents.get("src_1:abc")
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "한글 제목", got.TranslatedTitle)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.RelevanceScore)
	assert.InDelta(t, 0.82, *got.RelevanceScore, 1e-9)
	assert.Equal(t, []string{"ai"}, got.Categories)
	require.NotNil(t, got.ProcessedAt)
}

func TestProcessPendingMalformedReplyCompletesUnenriched(t *testing.T) {
	t.Parallel()

	item := pendingItem("src_1:raw")
	contents := newMemContentRepo(item)
	llm := &stubCompleter{replies: []string{"sorry, I cannot do that"}}

	p := NewPipeline(nil, newMemSourceRepo(), contents, llm, PipelineOptions{}, nil)
	require.NoError(t, p.ProcessPending(context.Background()))

	got := contents.get("src_1:raw")
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, item.OriginalTitle, got.TranslatedTitle)
	assert.Equal(t, 3, llm.calls, "malformed replies should be re-prompted a bounded number of times")
}

func TestProcessPendingFailureRequeuesThenExhausts(t *testing.T) {
	t.Parallel()

	item := pendingItem("src_1:fail")
	contents := newMemContentRepo(item)
	llm := &stubCompleter{err: errors.New("upstream down")}

	p := NewPipeline(nil, newMemSourceRepo(), contents, llm, PipelineOptions{MaxAttempts: 3}, nil)

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, p.ProcessPending(context.Background()))
		got := contents.get("src_1:fail")
		assert.Equal(t, domain.StatusPending, got.Status, "attempt %d should requeue", attempt)
		assert.Equal(t, attempt, got.Attempts)
	}

	require.NoError(t, p.ProcessPending(context.Background()))
	got := contents.get("src_1:fail")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.LastError, "upstream down")

	// Terminal failure is not picked up again.
	require.NoError(t, p.ProcessPending(context.Background()))
	assert.Equal(t, 3, contents.get("src_1:fail").Attempts)
}

type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestProcessPendingDeadlineMarksTimeout(t *testing.T) {
	t.Parallel()

	item := pendingItem("src_1:slow")
	contents := newMemContentRepo(item)

	p := NewPipeline(nil, newMemSourceRepo(), contents, blockingCompleter{}, PipelineOptions{
		ProcessTimeout: 20 * time.Millisecond,
	}, nil)

	require.NoError(t, p.ProcessPending(context.Background()))

	got := contents.get("src_1:slow")
	assert.Equal(t, domain.StatusTimeout, got.Status)

	// Timeout is terminal: the item never re-enters the queue.
	require.NoError(t, p.ProcessPending(context.Background()))
	assert.Equal(t, 1, contents.get("src_1:slow").Attempts)
}

func TestProcessPendingSkipsCompleted(t *testing.T) {
	t.Parallel()

	done := pendingItem("src_1:done")
	done.Status = domain.StatusCompleted
	contents := newMemContentRepo(done)
	llm := &stubCompleter{}

	p := NewPipeline(nil, newMemSourceRepo(), contents, llm, PipelineOptions{}, nil)
	require.NoError(t, p.ProcessPending(context.Background()))
	assert.Zero(t, llm.calls, "completed items must not be reprocessed")
}

func TestParseEnrichmentToleratesFences(t *testing.T) {
	t.Parallel()

	reply := "Here you go:\n```json\n{\"title\": \"t\", \"summary\": \"s\", \"relevance_score\": 0.5}\n```"
	parsed, err := parseEnrichment(reply)
	require.NoError(t, err)
	assert.Equal(t, "t", parsed.Title)
	assert.InDelta(t, 0.5, parsed.RelevanceScore, 1e-9)
}

func TestClampScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, clampScore(-1))
	assert.Equal(t, 1.0, clampScore(3.5))
	assert.Equal(t, 0.5, clampScore(0.5))
}
