// Package collector implements the News Collector: per-source fetch,
// normalization, deduplication, confirmation tracking, and coordinated
// narrative detection.
package collector

import (
	"context"
	"time"
)

// RawArticle is what a Source returns before normalization — the
// collector's pipeline fills in everything else (fingerprint, market
// state, keywords, tickers) from these fields.
type RawArticle struct {
	Headline       string
	SourceURL      string
	PublishedAt    time.Time
	ContentSnippet string
	Symbol         string         // optional hint, e.g. a source's own ticker tag
	Metadata       map[string]any // anything the source payload carried that isn't modeled
}

// Source is one registered news feed. RateLimit returns the token-bucket
// parameters the collector enforces on this source's calls;
// implementations do not rate-limit themselves.
type Source interface {
	Name() string
	Tier() int
	RateLimit() (ratePerSecond float64, burst int)
	Fetch(ctx context.Context, since time.Time, limit int) ([]RawArticle, error)
}
