// Package youtube resolves video transcripts: existing captions first,
// speech-to-text as the fallback. A video that simply has nothing usable
// (captions disabled with STT off, over the duration cap, restricted) is a
// skip decision, never an error.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"golang.org/x/sync/semaphore"

	"contenthub/internal/config"
	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID pulls the 11-character video id out of a watch URL,
// short link, embed, shorts path, or a bare id.
func ExtractVideoID(urlOrID string) (string, error) {
	trimmed := strings.TrimSpace(urlOrID)
	if trimmed == "" {
		return "", fmt.Errorf("empty video reference")
	}
	if videoIDPattern.MatchString(trimmed) {
		return trimmed, nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse video url: %w", err)
	}

	host := strings.TrimPrefix(parsed.Host, "www.")
	switch {
	case strings.HasSuffix(host, "youtube.com"):
		if parsed.Path == "/watch" {
			if id := parsed.Query().Get("v"); videoIDPattern.MatchString(id) {
				return id, nil
			}
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/live/"} {
			if strings.HasPrefix(parsed.Path, prefix) {
				id := strings.SplitN(strings.TrimPrefix(parsed.Path, prefix), "/", 2)[0]
				if videoIDPattern.MatchString(id) {
					return id, nil
				}
			}
		}
	case host == "youtu.be":
		id := strings.TrimPrefix(parsed.Path, "/")
		if idx := strings.IndexByte(id, '/'); idx >= 0 {
			id = id[:idx]
		}
		if videoIDPattern.MatchString(id) {
			return id, nil
		}
	}

	return "", fmt.Errorf("no video id in %q", urlOrID)
}

// WatchURL is the canonical form used for idempotency keys.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// Result is the outcome of one transcript attempt. Skipped results carry
// the reason; they are decisions, not failures.
type Result struct {
	Text       string
	Language   string
	Skipped    bool
	SkipReason string
}

// Collector implements the caption-then-STT fallback.
type Collector struct {
	captions    ports.CaptionClient
	audio       ports.AudioExtractor
	transcriber ports.Transcriber
	sttSlots    *semaphore.Weighted
	cfg         config.STTConfig
	logger      *slog.Logger
}

// New wires the fallback chain. audio and transcriber may be nil when STT
// is disabled.
func New(captions ports.CaptionClient, audio ports.AudioExtractor, transcriber ports.Transcriber, cfg config.STTConfig, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.WorkerLimit
	if limit <= 0 {
		limit = 1
	}
	return &Collector{
		captions:    captions,
		audio:       audio,
		transcriber: transcriber,
		sttSlots:    semaphore.NewWeighted(int64(limit)),
		cfg:         cfg,
		logger:      logger,
	}
}

// FetchTranscript returns transcript text for the video or a definitive
// skip decision. Only hard failures in the audio pipeline surface as
// errors.
func (c *Collector) FetchTranscript(ctx context.Context, videoID string) (Result, error) {
	caption, err := c.captions.Fetch(ctx, videoID, c.cfg.PreferredLanguages)
	if err == nil {
		return Result{Text: caption.Text, Language: caption.Language}, nil
	}
	if !errors.Is(err, domain.ErrNoCaptions) {
		return Result{}, fmt.Errorf("fetch captions for %s: %w", videoID, err)
	}

	if !c.cfg.Enabled || c.audio == nil || c.transcriber == nil {
		c.logger.Info("no captions and stt disabled", "video_id", videoID)
		return Result{Skipped: true, SkipReason: "no captions, stt disabled"}, nil
	}

	return c.transcribe(ctx, videoID)
}

// transcribe runs the STT path: duration gate first, so audio is never
// downloaded for a video over the cap; then a scoped temp dir that is
// removed on every exit path. Each running transcription holds a whisper
// model in memory, so the slot count caps concurrent STT independently of
// how many sources collect in parallel.
func (c *Collector) transcribe(ctx context.Context, videoID string) (Result, error) {
	if err := c.sttSlots.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("wait for stt slot: %w", err)
	}
	defer c.sttSlots.Release(1)

	duration, err := c.audio.Probe(ctx, videoID)
	if err != nil {
		if errors.Is(err, domain.ErrAgeRestricted) || errors.Is(err, domain.ErrMediaUnavailable) {
			c.logger.Info("video not accessible for stt", "video_id", videoID, "error", err)
			return Result{Skipped: true, SkipReason: err.Error()}, nil
		}
		return Result{}, &domain.TranscriptionError{VideoID: videoID, Err: err}
	}

	if max := c.cfg.MaxVideoDuration(); max > 0 && duration > max {
		c.logger.Info("video too long for stt",
			"video_id", videoID,
			"duration_minutes", duration.Minutes(),
			"max_minutes", max.Minutes())
		return Result{Skipped: true, SkipReason: "video exceeds stt duration cap"}, nil
	}

	tempDir, err := os.MkdirTemp("", "contenthub_stt_")
	if err != nil {
		return Result{}, &domain.TranscriptionError{VideoID: videoID, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			c.logger.Warn("temp dir cleanup failed", "path", tempDir, "error", err)
		}
	}()

	audioPath, err := c.audio.Extract(ctx, videoID, tempDir)
	if err != nil {
		if errors.Is(err, domain.ErrAgeRestricted) || errors.Is(err, domain.ErrMediaUnavailable) {
			return Result{Skipped: true, SkipReason: err.Error()}, nil
		}
		return Result{}, &domain.TranscriptionError{VideoID: videoID, Err: err}
	}

	transcription, err := c.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return Result{}, &domain.TranscriptionError{VideoID: videoID, Err: err}
	}

	// Language auto-detection only sees the opening segment of audio;
	// below the confidence threshold the configured default wins.
	language := transcription.Language
	if transcription.LanguageProbability < c.cfg.LanguageProbability {
		c.logger.Debug("language detection below threshold",
			"video_id", videoID,
			"detected", language,
			"probability", transcription.LanguageProbability)
		language = c.cfg.DefaultLanguage
	}

	c.logger.Info("video transcribed",
		"video_id", videoID,
		"language", language,
		"text_length", len(transcription.Text))

	return Result{Text: transcription.Text, Language: language}, nil
}
