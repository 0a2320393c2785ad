// Package browser renders JavaScript-heavy pages through headless Chrome.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"contenthub/internal/ports"
)

// Renderer drives a headless Chrome instance over the DevTools protocol.
// Each Render call gets its own browser context; the allocator is shared.
type Renderer struct {
	allocCtx context.Context
	cancel   context.CancelFunc
}

var _ ports.Renderer = (*Renderer)(nil)

// NewRenderer starts the shared allocator. Close must be called on
// shutdown.
func NewRenderer() *Renderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Renderer{allocCtx: allocCtx, cancel: cancel}
}

// Render navigates to the URL, waits for the selector (or document ready
// when none is given), and returns the rendered HTML.
func (r *Renderer) Render(ctx context.Context, url, waitFor string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	browserCtx, cancelBrowser := chromedp.NewContext(r.allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	// Propagate caller cancellation into the browser context.
	go func() {
		select {
		case <-ctx.Done():
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	wait := chromedp.WaitReady("body", chromedp.ByQuery)
	if waitFor != "" {
		wait = chromedp.WaitVisible(waitFor, chromedp.ByQuery)
	}

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		wait,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}

// Close shuts down the shared allocator.
func (r *Renderer) Close() {
	r.cancel()
}
