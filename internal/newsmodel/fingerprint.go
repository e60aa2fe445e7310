package newsmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprint computes the 64-hex-char content-derived identity for a raw
// article: SHA-256 over normalized_headline || 0x1f || source || 0x1f ||
// rounded_published_minute. It is a pure function: submitting the same
// (headline, source, published_at) N times always yields the same
// fingerprint.
func Fingerprint(headline, source string, publishedAt time.Time) string {
	normalized := NormalizeHeadline(headline)
	rounded := publishedAt.UTC().Truncate(time.Minute).Format(time.RFC3339)

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0x1f})
	h.Write([]byte(source))
	h.Write([]byte{0x1f})
	h.Write([]byte(rounded))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:64]
}

// NormalizeHeadline lowercase-trims a headline for hashing purposes only;
// the original headline is preserved on the stored NewsItem.
func NormalizeHeadline(headline string) string {
	return strings.ToLower(strings.Join(strings.Fields(headline), " "))
}

// StripTrackingParams removes common tracking query parameters from a URL.
// It is intentionally conservative: it strips only a known allow-listed set
// of tracking keys rather than attempting full URL semantics, matching the
// "strip tracking parameters" normalization step.
func StripTrackingParams(rawURL string) string {
	trackingKeys := []string{
		"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
		"ref", "referrer", "fbclid", "gclid", "mc_cid", "mc_eid",
	}

	qIdx := strings.IndexByte(rawURL, '?')
	if qIdx < 0 {
		return rawURL
	}
	base := rawURL[:qIdx]
	query := rawURL[qIdx+1:]

	parts := strings.Split(query, "&")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		key := p
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			key = p[:eq]
		}
		if isTrackingKey(key, trackingKeys) {
			continue
		}
		kept = append(kept, p)
	}

	if len(kept) == 0 {
		return base
	}
	return base + "?" + strings.Join(kept, "&")
}

func isTrackingKey(key string, trackingKeys []string) bool {
	lower := strings.ToLower(key)
	for _, k := range trackingKeys {
		if lower == k {
			return true
		}
	}
	return false
}
