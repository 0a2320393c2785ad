// Package stt wraps the external binaries used for the speech-to-text
// fallback: yt-dlp for audio retrieval and a whisper CLI for
// transcription.
package stt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

// YtDlp shells out to the yt-dlp binary. Probe never downloads media,
// which keeps the duration gate cheap.
type YtDlp struct {
	binary string
}

var _ ports.AudioExtractor = (*YtDlp)(nil)

func NewYtDlp(binary string) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{binary: binary}
}

// Probe reads the video duration from metadata only.
func (y *YtDlp) Probe(ctx context.Context, videoID string) (time.Duration, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.binary,
		"--print", "duration",
		"--no-download",
		watchURL(videoID),
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, classifyError(videoID, stderr.String(), err)
	}

	raw := strings.TrimSpace(stdout.String())
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("video %s: unparseable duration %q", videoID, raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Extract downloads the best audio track as m4a into outputDir and
// returns the file path.
func (y *YtDlp) Extract(ctx context.Context, videoID, outputDir string) (string, error) {
	outPath := filepath.Join(outputDir, videoID+".m4a")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.binary,
		"--format", "bestaudio[ext=m4a]/bestaudio",
		"--extract-audio",
		"--audio-format", "m4a",
		"--output", outPath,
		"--no-playlist",
		watchURL(videoID),
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", classifyError(videoID, stderr.String(), err)
	}
	return outPath, nil
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// classifyError maps yt-dlp stderr chatter onto the domain's skip-worthy
// error kinds; anything else stays a hard failure.
func classifyError(videoID, stderr string, err error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "age") && strings.Contains(lower, "restrict"),
		strings.Contains(lower, "sign in to confirm your age"):
		return fmt.Errorf("video %s: %w", videoID, domain.ErrAgeRestricted)
	case strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "private video"),
		strings.Contains(lower, "removed"):
		return fmt.Errorf("video %s: %w", videoID, domain.ErrMediaUnavailable)
	}
	return &domain.TranscriptionError{VideoID: videoID, Err: fmt.Errorf("%w: %s", err, firstLine(stderr))}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
