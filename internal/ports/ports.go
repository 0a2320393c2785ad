package ports

import (
	"context"
	"time"

	"contenthub/internal/domain"
)

// ContentRepository persists collected items. CreateIfAbsent is the single
// atomic insert-if-absent on content_key that makes concurrent collection
// runs commutative: it reports false, not an error, when the key exists.
type ContentRepository interface {
	CreateIfAbsent(ctx context.Context, content domain.Content) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Content, error)
	ExistsByKey(ctx context.Context, contentKey string) (bool, error)
	FindByStatus(ctx context.Context, status domain.ProcessingStatus, limit int) ([]domain.Content, error)
	// FindForDigest returns completed items not yet included in any digest.
	FindForDigest(ctx context.Context) ([]domain.Content, error)
	Update(ctx context.Context, content domain.Content) error
	MarkIncludedInDigest(ctx context.Context, contentIDs []string, digestID string) error
}

// SourceRepository tracks registered sources and their fetch bookkeeping.
type SourceRepository interface {
	FindActive(ctx context.Context) ([]domain.Source, error)
	// RecordFetchSuccess stamps last_fetched_at and resets the failure streak.
	RecordFetchSuccess(ctx context.Context, sourceID string, at time.Time) error
	// RecordFetchFailure increments the streak and reports whether the
	// source crossed the deactivation threshold.
	RecordFetchFailure(ctx context.Context, sourceID string) (deactivated bool, err error)
}

// DigestRepository persists sent batches keyed by digest_key.
type DigestRepository interface {
	CreateIfAbsent(ctx context.Context, digest domain.Digest) (bool, error)
	GetByKey(ctx context.Context, digestKey string) (*domain.Digest, error)
	// UpdateContentIDs replaces the stored item list, so a retried digest
	// records what was actually delivered.
	UpdateContentIDs(ctx context.Context, digestID string, contentIDs []string) error
	MarkSent(ctx context.Context, digestID, messageTS string, at time.Time) error
	MarkFailed(ctx context.Context, digestID, cause string) error
}

// SubscriptionRepository reads delivery targets; the pipeline never writes
// them.
type SubscriptionRepository interface {
	FindActive(ctx context.Context) ([]domain.Subscription, error)
}

// DigestSender renders a digest for its channel and delivers it, splitting
// the payload to respect the channel's per-message block limit. It returns
// the channel's identifier for the first delivered message.
type DigestSender interface {
	Send(ctx context.Context, digest domain.Digest, contents []domain.Content) (string, error)
}

// Completer is the black-box LLM text service used downstream of
// collection for translation, summarization, and scoring.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Renderer loads a page in a scripting-capable engine and returns the
// rendered HTML. waitFor, when non-empty, is a selector to wait for before
// snapshotting.
type Renderer interface {
	Render(ctx context.Context, url, waitFor string, timeout time.Duration) (string, error)
}

// Caption is retrieved subtitle text for a video.
type Caption struct {
	Text     string
	Language string
	Duration time.Duration
}

// CaptionClient fetches existing captions, trying languages in order.
// Absence of captions is reported as domain.ErrNoCaptions, not a hard
// failure.
type CaptionClient interface {
	Fetch(ctx context.Context, videoID string, languages []string) (Caption, error)
}

// AudioExtractor pulls a video's audio track to a local file. Probe is
// cheap (metadata only) and is consulted before any download happens.
type AudioExtractor interface {
	Probe(ctx context.Context, videoID string) (time.Duration, error)
	Extract(ctx context.Context, videoID, outputDir string) (string, error)
}

// Transcription is speech-to-text output with the detector's confidence in
// the language it picked.
type Transcription struct {
	Text                string
	Language            string
	LanguageProbability float64
	Duration            time.Duration
}

// Transcriber runs speech-to-text over an extracted audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcription, error)
}

// Scheduler controls when pipeline cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
