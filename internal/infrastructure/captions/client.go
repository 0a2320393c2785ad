// Package captions fetches existing video subtitles from the timedtext
// endpoint.
package captions

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

const defaultEndpoint = "https://www.youtube.com/api/timedtext"

// Client retrieves caption tracks, trying the preferred languages in
// order. No track in any language is domain.ErrNoCaptions, which callers
// treat as the trigger for speech-to-text, not as a failure.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

var _ ports.CaptionClient = (*Client)(nil)

func NewClient() *Client {
	return &Client{
		endpoint: defaultEndpoint,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// transcript mirrors the timedtext XML shape.
type transcript struct {
	Texts []struct {
		Start    float64 `xml:"start,attr"`
		Duration float64 `xml:"dur,attr"`
		Body     string  `xml:",chardata"`
	} `xml:"text"`
}

// Fetch returns the first non-empty caption track among languages.
func (c *Client) Fetch(ctx context.Context, videoID string, languages []string) (ports.Caption, error) {
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	for _, lang := range languages {
		caption, err := c.fetchLanguage(ctx, videoID, lang)
		if err != nil {
			return ports.Caption{}, err
		}
		if caption.Text != "" {
			return caption, nil
		}
	}
	return ports.Caption{}, fmt.Errorf("video %s: %w", videoID, domain.ErrNoCaptions)
}

func (c *Client) fetchLanguage(ctx context.Context, videoID, lang string) (ports.Caption, error) {
	query := url.Values{}
	query.Set("v", videoID)
	query.Set("lang", lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return ports.Caption{}, fmt.Errorf("build caption request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ports.Caption{}, &domain.NetworkError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// The endpoint answers 404 for unknown tracks; treat it as absence.
		io.Copy(io.Discard, resp.Body)
		return ports.Caption{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		// Anything else is the endpoint misbehaving, not a missing track;
		// surfacing it keeps a transient outage from degrading to STT.
		io.Copy(io.Discard, resp.Body)
		return ports.Caption{}, &domain.NetworkError{
			URL: req.URL.String(),
			Err: fmt.Errorf("timedtext status %d", resp.StatusCode),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Caption{}, fmt.Errorf("read caption body: %w", err)
	}

	caption, err := parseTranscript(raw)
	if err != nil {
		return ports.Caption{}, fmt.Errorf("parse captions for %s/%s: %w", videoID, lang, err)
	}
	caption.Language = lang
	return caption, nil
}

// parseTranscript flattens the XML track into one text with segments
// joined by spaces, unescaping the doubly-encoded entities the endpoint
// emits.
func parseTranscript(raw []byte) (ports.Caption, error) {
	var t transcript
	if err := xml.Unmarshal(raw, &t); err != nil {
		return ports.Caption{}, err
	}

	var (
		b   strings.Builder
		end float64
	)
	for _, seg := range t.Texts {
		text := strings.TrimSpace(html.UnescapeString(seg.Body))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		if last := seg.Start + seg.Duration; last > end {
			end = last
		}
	}

	return ports.Caption{
		Text:     b.String(),
		Duration: time.Duration(end * float64(time.Second)),
	}, nil
}
