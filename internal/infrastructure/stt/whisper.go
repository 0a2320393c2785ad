package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

// Whisper shells out to a whisper CLI that prints one JSON object on
// stdout: {"text": ..., "language": ..., "language_probability": ...,
// "duration": <seconds>}.
type Whisper struct {
	binary      string
	modelSize   string
	computeType string
}

var _ ports.Transcriber = (*Whisper)(nil)

func NewWhisper(binary, modelSize, computeType string) *Whisper {
	if binary == "" {
		binary = "whisper-transcribe"
	}
	if modelSize == "" {
		modelSize = "small"
	}
	if computeType == "" {
		computeType = "int8"
	}
	return &Whisper{binary: binary, modelSize: modelSize, computeType: computeType}
}

type whisperOutput struct {
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
}

// Transcribe runs the CLI over the audio file.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (ports.Transcription, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.binary,
		"--model", w.modelSize,
		"--compute-type", w.computeType,
		"--output-format", "json",
		audioPath,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ports.Transcription{}, &domain.TranscriptionError{
			VideoID: audioPath,
			Err:     fmt.Errorf("%w: %s", err, firstLine(stderr.String())),
		}
	}

	var out whisperOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return ports.Transcription{}, fmt.Errorf("decode transcription output: %w", err)
	}

	return ports.Transcription{
		Text:                out.Text,
		Language:            out.Language,
		LanguageProbability: out.LanguageProbability,
		Duration:            time.Duration(out.Duration * float64(time.Second)),
	}, nil
}
