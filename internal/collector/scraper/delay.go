package scraper

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostDelayer enforces a cooperative minimum delay between outbound
// requests to the same host, with jitter up to the configured maximum so
// request timing does not look mechanical. It is not a hard rate limiter.
type HostDelayer struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	min      time.Duration
	jitter   time.Duration
}

// NewHostDelayer builds a delayer with the given minimum and maximum
// inter-request delay.
func NewHostDelayer(min, max time.Duration) *HostDelayer {
	jitter := max - min
	if jitter < 0 {
		jitter = 0
	}
	return &HostDelayer{
		limiters: make(map[string]*rate.Limiter),
		min:      min,
		jitter:   jitter,
	}
}

// Wait blocks until the host's delay window has passed or the context is
// done.
func (h *HostDelayer) Wait(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := parsed.Host
	if host == "" {
		return errors.New("missing host in url")
	}

	if err := h.limiterFor(host).Wait(ctx); err != nil {
		return err
	}

	if h.jitter > 0 {
		pause := time.Duration(rand.Int63n(int64(h.jitter)))
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *HostDelayer) limiterFor(host string) *rate.Limiter {
	h.mu.RLock()
	limiter, exists := h.limiters[host]
	h.mu.RUnlock()
	if exists {
		return limiter
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if limiter, exists := h.limiters[host]; exists {
		return limiter
	}

	interval := h.min
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter = rate.NewLimiter(rate.Every(interval), 1)
	h.limiters[host] = limiter
	return limiter
}
