package collector_test

import (
	"context"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/collector"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
)

func seedNarrativeArticle(t *testing.T, c *collector.Collector, symbol, source string, publishedAt time.Time) {
	t.Helper()
	src := &fakeSource{
		name: source,
		tier: 3,
		articles: []collector.RawArticle{
			{
				Headline:    symbol + " merger acquisition rumor from " + source,
				SourceURL:   "https://example.com/" + source,
				PublishedAt: publishedAt,
				Symbol:      symbol,
			},
		},
	}
	c.RegisterSource(src)
	if _, err := c.Collect(context.Background(), publishedAt.Add(-time.Hour)); err != nil {
		t.Fatalf("seed collect for %s failed: %v", source, err)
	}
}

// TestDetectCoordinatedNarrativesPersistsQualifyingCluster covers the
// >=4 articles / >=3 distinct sources / <2h spread threshold from spec
// §4.2 step 8.
func TestDetectCoordinatedNarrativesPersistsQualifyingCluster(t *testing.T) {
	st := newTestStore(t)
	lexicon := newsmodel.DefaultLexicon()
	c := newTestCollector(t, st, lexicon)

	base := time.Now().Add(-time.Hour)
	seedNarrativeArticle(t, c, "ACME", "wire-a", base)
	seedNarrativeArticle(t, c, "ACME", "wire-b", base.Add(20*time.Minute))
	seedNarrativeArticle(t, c, "ACME", "wire-c", base.Add(40*time.Minute))
	seedNarrativeArticle(t, c, "ACME", "wire-d", base.Add(60*time.Minute))

	detected, err := c.DetectCoordinatedNarratives(context.Background())
	if err != nil {
		t.Fatalf("DetectCoordinatedNarratives failed: %v", err)
	}
	if detected != 1 {
		t.Fatalf("detected = %d, want 1 qualifying cluster", detected)
	}
}

// TestDetectCoordinatedNarrativesSkipsBelowThreshold covers the same
// grouping with too few distinct sources to qualify.
func TestDetectCoordinatedNarrativesSkipsBelowThreshold(t *testing.T) {
	st := newTestStore(t)
	lexicon := newsmodel.DefaultLexicon()
	c := newTestCollector(t, st, lexicon)

	base := time.Now().Add(-time.Hour)
	seedNarrativeArticle(t, c, "WIDGE", "wire-a", base)
	seedNarrativeArticle(t, c, "WIDGE", "wire-a", base.Add(20*time.Minute))

	detected, err := c.DetectCoordinatedNarratives(context.Background())
	if err != nil {
		t.Fatalf("DetectCoordinatedNarratives failed: %v", err)
	}
	if detected != 0 {
		t.Errorf("detected = %d, want 0 below the coordination threshold", detected)
	}
}
