package domain

import (
	"errors"
	"fmt"
)

// Registration-time configuration problems. These are the only fatal
// errors; everything that happens during a collection cycle stays local to
// the item or source it concerns.
var ErrIllegalTransition = errors.New("illegal status transition")

// ErrInvalidSource flags a source that cannot be registered (unknown type,
// missing url, bad pattern).
var ErrInvalidSource = errors.New("invalid source")

// Video-specific terminal conditions: the item is marked skipped and never
// retried.
var (
	ErrAgeRestricted    = errors.New("video is age restricted")
	ErrMediaUnavailable = errors.New("video is unavailable")
	ErrNoCaptions       = errors.New("captions are disabled or absent")
)

// ExtractionError reports exhaustion of the web-extraction fallback chain.
// Individual stage failures are never surfaced; only running out of stages
// produces this.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("all extraction stages failed for %s", e.URL)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NetworkError marks a source as failed for this cycle; the cycle continues
// with the remaining sources.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure for %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TranscriptionError reports a hard failure in the audio pipeline.
type TranscriptionError struct {
	VideoID string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed for video %s: %v", e.VideoID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
