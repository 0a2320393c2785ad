package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// trackingParams are query parameters stripped during URL normalization so
// that links dressed up by marketing tooling still collapse to one key.
// Parameters with the utm_ prefix are stripped as a family.
var trackingParams = map[string]struct{}{
	"ref":     {},
	"ref_src": {},
	"fbclid":  {},
	"gclid":   {},
	"source":  {},
}

// NormalizeURL canonicalizes a URL for idempotency-key hashing: scheme and
// host are lower-cased, the trailing path slash and the fragment are
// dropped, and tracking parameters are removed. The result is stable under
// repeated application.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	u.RawFragment = ""

	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			delete(query, key)
			continue
		}
		if _, tracked := trackingParams[lower]; tracked {
			delete(query, key)
		}
	}
	// Encode sorts keys, so parameter order never changes the key.
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// ContentKey derives the deterministic idempotency key for one collected
// item: {source_id}:{hex16(sha256(normalized_url))}. Two collection runs
// over the same URL and source always converge on the same key.
func ContentKey(sourceID, rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s:%s", sourceID, hex.EncodeToString(sum[:])[:16]), nil
}

// DigestKey derives the per-subscriber-per-day idempotency key:
// {subscription_id}:{YYYY-MM-DD}, with the calendar date taken in the
// subscriber's delivery timezone.
func DigestKey(subscriptionID string, day time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%s:%s", subscriptionID, day.In(loc).Format("2006-01-02"))
}
