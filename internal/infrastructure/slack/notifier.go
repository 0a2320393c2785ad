// Package slack delivers digests to Slack channels via chat.postMessage.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

const (
	apiURL = "https://slack.com/api/chat.postMessage"

	// maxBlocksPerMessage is Slack's hard limit on blocks in one message.
	maxBlocksPerMessage = 50
)

// Notifier posts digest messages. Payloads exceeding the block limit are
// split: the first chunk is the channel message, the rest go to its thread.
type Notifier struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ ports.DigestSender = (*Notifier)(nil)

func NewNotifier(token string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		token:   token,
		baseURL: apiURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Block is one Block Kit element, kept as a free-form object because the
// digest only uses a handful of block types.
type Block map[string]any

type postMessageRequest struct {
	Channel  string  `json:"channel"`
	ThreadTS string  `json:"thread_ts,omitempty"`
	Text     string  `json:"text"`
	Blocks   []Block `json:"blocks"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// Send renders the digest and posts it. The timestamp of the first message
// is returned for bookkeeping.
func (n *Notifier) Send(ctx context.Context, digest domain.Digest, contents []domain.Content) (string, error) {
	blocks := BuildDigestBlocks(digest, contents)
	chunks := SplitBlocks(blocks, maxBlocksPerMessage)

	var firstTS string
	for i, chunk := range chunks {
		req := postMessageRequest{
			Channel: digest.ChannelID,
			Text:    fmt.Sprintf("오늘의 다이제스트 (%d건)", len(contents)),
			Blocks:  chunk,
		}
		if i > 0 {
			req.ThreadTS = firstTS
		}

		ts, err := n.post(ctx, req)
		if err != nil {
			return "", fmt.Errorf("post digest chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if i == 0 {
			firstTS = ts
		}
	}

	n.logger.Info("digest posted",
		"channel_id", digest.ChannelID, "chunks", len(chunks), "blocks", len(blocks))
	return firstTS, nil
}

func (n *Notifier) post(ctx context.Context, payload postMessageRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed postMessageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("slack api error: %s", parsed.Error)
	}
	return parsed.TS, nil
}

// BuildDigestBlocks lays out the digest: header, date context, then one
// section per item with its score badge and a link button, and a footer.
func BuildDigestBlocks(digest domain.Digest, contents []domain.Content) []Block {
	blocks := []Block{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "📰 오늘의 다이제스트",
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{
					"type": "mrkdwn",
					"text": digest.DigestDate.Format("2006-01-02") + fmt.Sprintf(" · %d건", len(contents)),
				},
			},
		},
		{"type": "divider"},
	}

	for i, c := range contents {
		title := c.TranslatedTitle
		if title == "" {
			title = c.OriginalTitle
		}
		text := fmt.Sprintf("%s *%d. %s*\n%s", scoreEmoji(c.RelevanceScore), i+1, title, c.Summary)
		if c.WhyImportant != "" {
			text += "\n_" + c.WhyImportant + "_"
		}

		blocks = append(blocks, Block{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": text,
			},
			"accessory": map[string]any{
				"type": "button",
				"text": map[string]any{
					"type": "plain_text",
					"text": "원문 보기",
				},
				"url": c.OriginalURL,
			},
		})
	}

	blocks = append(blocks,
		Block{"type": "divider"},
		Block{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": "content hub digest"},
			},
		},
	)
	return blocks
}

// SplitBlocks chunks blocks into slices no longer than limit, preserving
// order. The input is reused, not copied.
func SplitBlocks(blocks []Block, limit int) [][]Block {
	if limit <= 0 || len(blocks) == 0 {
		return [][]Block{blocks}
	}

	var chunks [][]Block
	for len(blocks) > limit {
		chunks = append(chunks, blocks[:limit])
		blocks = blocks[limit:]
	}
	return append(chunks, blocks)
}

// scoreEmoji maps a relevance score to its badge tier.
func scoreEmoji(score *float64) string {
	switch {
	case score == nil:
		return "ℹ️"
	case *score >= 0.8:
		return "🔥"
	case *score >= 0.6:
		return "⭐"
	case *score >= 0.4:
		return "👍"
	default:
		return "ℹ️"
	}
}
