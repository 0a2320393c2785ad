package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contenthub/internal/domain"
)

type memDigestRepo struct {
	mu    sync.Mutex
	byKey map[string]domain.Digest
}

func newMemDigestRepo() *memDigestRepo {
	return &memDigestRepo{byKey: map[string]domain.Digest{}}
}

func (m *memDigestRepo) CreateIfAbsent(_ context.Context, d domain.Digest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[d.DigestKey]; exists {
		return false, nil
	}
	m.byKey[d.DigestKey] = d
	return true, nil
}

func (m *memDigestRepo) GetByKey(_ context.Context, key string) (*domain.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.byKey[key]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *memDigestRepo) UpdateContentIDs(_ context.Context, id string, contentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, d := range m.byKey {
		if d.ID == id {
			d.ContentIDs = contentIDs
			m.byKey[key] = d
		}
	}
	return nil
}

func (m *memDigestRepo) MarkSent(_ context.Context, id, ts string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, d := range m.byKey {
		if d.ID == id {
			d.Status = domain.DigestSent
			d.MessageTS = ts
			d.SentAt = &at
			m.byKey[key] = d
		}
	}
	return nil
}

func (m *memDigestRepo) MarkFailed(_ context.Context, id, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, d := range m.byKey {
		if d.ID == id {
			d.Status = domain.DigestFailed
			d.Error = cause
			m.byKey[key] = d
		}
	}
	return nil
}

type memSubscriptionRepo struct {
	subs []domain.Subscription
}

func (m *memSubscriptionRepo) FindActive(context.Context) ([]domain.Subscription, error) {
	return m.subs, nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	sent  []domain.Digest
	err   error
}

func (f *fakeSender) Send(_ context.Context, d domain.Digest, _ []domain.Content) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, d)
	return "1700000000.000100", nil
}

func completedItem(key, id string, score float64, collected time.Time) domain.Content {
	return domain.Content{
		ID:             id,
		SourceID:       "src_1",
		ContentKey:     key,
		OriginalTitle:  "Title " + id,
		OriginalBody:   "A body comfortably longer than the minimal quality threshold used in tests.",
		RelevanceScore: &score,
		Status:         domain.StatusCompleted,
		CollectedAt:    collected,
	}
}

func testDefaults() FilterDefaults {
	return FilterDefaults{
		SimilarityThreshold: 0.85,
		MaxAgeDays:          7,
		MinBodyLength:       10,
		RequireTitle:        true,
		MaxItems:            10,
		SortBy:              domain.SortByRelevance,
	}
}

func testSubscription() domain.Subscription {
	return domain.Subscription{
		ID:        "sub_1",
		ChannelID: "C123",
		IsActive:  true,
		Preferences: domain.Preferences{
			DeliveryTime: "08:00",
			MinRelevance: 0.4,
		},
	}
}

func TestDeliverSendsOncePerDay(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	contents := newMemContentRepo(
		completedItem("src_1:a", "cnt_a", 0.9, now.Add(-time.Hour)),
		completedItem("src_1:b", "cnt_b", 0.6, now.Add(-2*time.Hour)),
	)
	digests := newMemDigestRepo()
	sender := &fakeSender{}

	svc := NewDigestService(contents, digests, &memSubscriptionRepo{}, sender, testDefaults(), time.UTC, nil)
	sub := testSubscription()

	require.NoError(t, svc.Deliver(context.Background(), sub))
	require.NoError(t, svc.Deliver(context.Background(), sub))

	assert.Equal(t, 1, sender.calls, "same day must deliver exactly once")

	key := domain.DigestKey(sub.ID, now, time.UTC)
	stored, err := digests.GetByKey(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.DigestSent, stored.Status)
	assert.Equal(t, "1700000000.000100", stored.MessageTS)
	assert.Equal(t, []string{"cnt_a", "cnt_b"}, stored.ContentIDs, "relevance order preserved")
}

func TestDeliverMarksContentsAsDelivered(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	contents := newMemContentRepo(completedItem("src_1:a", "cnt_a", 0.9, now))
	digests := newMemDigestRepo()
	svc := NewDigestService(contents, digests, &memSubscriptionRepo{}, &fakeSender{}, testDefaults(), time.UTC, nil)

	require.NoError(t, svc.Deliver(context.Background(), testSubscription()))

	// Delivered items drop out of the next day's candidate pool.
	remaining, err := contents.FindForDigest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeliverNothingToSend(t *testing.T) {
	t.Parallel()

	contents := newMemContentRepo()
	digests := newMemDigestRepo()
	sender := &fakeSender{}
	svc := NewDigestService(contents, digests, &memSubscriptionRepo{}, sender, testDefaults(), time.UTC, nil)

	require.NoError(t, svc.Deliver(context.Background(), testSubscription()))
	assert.Zero(t, sender.calls)

	key := domain.DigestKey("sub_1", time.Now().UTC(), time.UTC)
	stored, err := digests.GetByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, stored, "empty digest must not claim the key")
}

func TestDeliverSendFailureRecordedAndRetriable(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	contents := newMemContentRepo(completedItem("src_1:a", "cnt_a", 0.9, now))
	digests := newMemDigestRepo()
	sender := &fakeSender{err: errors.New("channel_not_found")}

	svc := NewDigestService(contents, digests, &memSubscriptionRepo{}, sender, testDefaults(), time.UTC, nil)
	sub := testSubscription()

	err := svc.Deliver(context.Background(), sub)
	require.Error(t, err)

	key := domain.DigestKey(sub.ID, now, time.UTC)
	stored, getErr := digests.GetByKey(context.Background(), key)
	require.NoError(t, getErr)
	require.NotNil(t, stored)
	assert.Equal(t, domain.DigestFailed, stored.Status)
	assert.Contains(t, stored.Error, "channel_not_found")

	// A later run retries under the same key and succeeds. An item that
	// completed in between is part of the retry, and the stored digest
	// reflects what was actually sent.
	sender.err = nil
	_, createErr := contents.CreateIfAbsent(context.Background(), completedItem("src_1:b", "cnt_b", 0.7, now))
	require.NoError(t, createErr)

	require.NoError(t, svc.Deliver(context.Background(), sub))
	stored, getErr = digests.GetByKey(context.Background(), key)
	require.NoError(t, getErr)
	assert.Equal(t, domain.DigestSent, stored.Status)
	assert.Equal(t, []string{"cnt_a", "cnt_b"}, stored.ContentIDs)
}

func TestDeliverAppliesSubscriptionPreferences(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	contents := newMemContentRepo(
		completedItem("src_1:hi", "cnt_hi", 0.9, now),
		completedItem("src_1:lo", "cnt_lo", 0.2, now),
	)
	digests := newMemDigestRepo()
	sender := &fakeSender{}
	svc := NewDigestService(contents, digests, &memSubscriptionRepo{}, sender, testDefaults(), time.UTC, nil)

	require.NoError(t, svc.Deliver(context.Background(), testSubscription()))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"cnt_hi"}, sender.sent[0].ContentIDs, "below-threshold item leaked into the digest")
}

func TestDistributeDeliversToDueSubscriptions(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	contents := newMemContentRepo(completedItem("src_1:a", "cnt_a", 0.9, fixed.Add(-time.Hour)))
	digests := newMemDigestRepo()
	sender := &fakeSender{}

	due := testSubscription()
	notYet := testSubscription()
	notYet.ID = "sub_2"
	notYet.Preferences.DeliveryTime = "21:30"

	svc := NewDigestService(contents, digests, &memSubscriptionRepo{subs: []domain.Subscription{due, notYet}}, sender, testDefaults(), time.UTC, nil)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.Distribute(context.Background()))
	assert.Equal(t, 1, sender.calls)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "sub_1", sender.sent[0].SubscriptionID)
}

func TestDistributeDeliversBetweenTicks(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)
	contents := newMemContentRepo(completedItem("src_1:a", "cnt_a", 0.9, fixed.Add(-time.Hour)))
	digests := newMemDigestRepo()
	sender := &fakeSender{}

	// Ticker fires at 08:30; the 08:00 subscription must still be due.
	svc := NewDigestService(contents, digests, &memSubscriptionRepo{subs: []domain.Subscription{testSubscription()}}, sender, testDefaults(), time.UTC, nil)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.Distribute(context.Background()))
	assert.Equal(t, 1, sender.calls, "delivery must not require a tick on the exact minute")

	// The next tick the same day is a no-op under the digest key.
	svc.now = func() time.Time { return fixed.Add(time.Hour) }
	require.NoError(t, svc.Distribute(context.Background()))
	assert.Equal(t, 1, sender.calls)
}

func TestDistributeSkipsBeforeDeliveryTime(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 6, 1, 7, 30, 0, 0, time.UTC)
	contents := newMemContentRepo(completedItem("src_1:a", "cnt_a", 0.9, fixed.Add(-time.Hour)))
	sender := &fakeSender{}

	svc := NewDigestService(contents, newMemDigestRepo(), &memSubscriptionRepo{subs: []domain.Subscription{testSubscription()}}, sender, testDefaults(), time.UTC, nil)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.Distribute(context.Background()))
	assert.Zero(t, sender.calls)
}
