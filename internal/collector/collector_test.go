package collector_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/collector"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "collector_test.db")
	st, err := store.NewSQLiteStore(zap.NewNop(), dsn, 5)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fakeSource returns a fixed batch of articles on every Fetch call,
// regardless of since/limit, so tests can drive exact Collect() scenarios.
type fakeSource struct {
	name      string
	tier      int
	articles  []collector.RawArticle
	fetches   int
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Tier() int    { return f.tier }
func (f *fakeSource) RateLimit() (float64, int) { return 100, 10 }
func (f *fakeSource) Fetch(ctx context.Context, since time.Time, limit int) ([]collector.RawArticle, error) {
	f.fetches++
	return f.articles, nil
}

func newTestCollector(t *testing.T, st *store.SQLiteStore, lexicon *newsmodel.Lexicon) *collector.Collector {
	t.Helper()
	return collector.New(zap.NewNop(), st, nil, lexicon, newsmodel.DefaultSessionWindows(time.UTC), collector.DefaultConfig())
}

// TestCollectDeduplicatesRepeatedArticle covers Scenario A: the same
// article fetched across two Collect passes produces one stored row with
// its update count incremented, not a second row.
func TestCollectDeduplicatesRepeatedArticle(t *testing.T) {
	st := newTestStore(t)
	lexicon := newsmodel.DefaultLexicon()
	lexicon.SourceTierByName["Reuters"] = 1

	publishedAt := time.Date(2025, 1, 15, 13, 5, 0, 0, time.UTC)
	src := &fakeSource{
		name: "Reuters",
		tier: 1,
		articles: []collector.RawArticle{
			{
				Headline:    "ACME beats Q3 earnings",
				SourceURL:   "https://example.com/acme-q3",
				PublishedAt: publishedAt,
				Symbol:      "ACME",
			},
		},
	}

	c := newTestCollector(t, st, lexicon)
	c.RegisterSource(src)

	ctx := context.Background()
	first, err := c.Collect(ctx, publishedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("first Collect failed: %v", err)
	}
	if first.ItemsNew != 1 {
		t.Fatalf("first pass ItemsNew = %d, want 1", first.ItemsNew)
	}

	second, err := c.Collect(ctx, publishedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("second Collect failed: %v", err)
	}
	if second.ItemsNew != 0 {
		t.Errorf("second pass ItemsNew = %d, want 0 (same article refetched)", second.ItemsNew)
	}
	if second.ItemsUpdated != 1 {
		t.Errorf("second pass ItemsUpdated = %d, want 1", second.ItemsUpdated)
	}

	items, err := st.ReadNewsRange(ctx, publishedAt.Add(-time.Hour), publishedAt.Add(time.Hour), store.NewsFilter{Symbol: "ACME", Limit: 10})
	if err != nil {
		t.Fatalf("ReadNewsRange failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly 1 stored row for the duplicated article, got %d", len(items))
	}
	if items[0].UpdateCount != 1 {
		t.Errorf("UpdateCount = %d, want 1 after a single re-fetch", items[0].UpdateCount)
	}
	if src.fetches != 2 {
		t.Errorf("expected Fetch to be called twice (once per Collect pass), got %d", src.fetches)
	}
}

// TestCollectConfirmsLowerTierArticleFromHigherTierSource covers Scenario
// C: a tier-3 FDA article lands at 10:00, then a tier-1 FDA article about
// the same symbol lands at 10:45. The tier-3 row must be marked confirmed
// by the tier-1 source with a 45-minute delay.
func TestCollectConfirmsLowerTierArticleFromHigherTierSource(t *testing.T) {
	st := newTestStore(t)
	lexicon := newsmodel.DefaultLexicon()
	lexicon.SourceTierByName["blog-wire"] = 3
	lexicon.SourceTierByName["Reuters"] = 1

	early := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	late := time.Date(2025, 3, 10, 10, 45, 0, 0, time.UTC)

	tier3Source := &fakeSource{
		name: "blog-wire",
		tier: 3,
		articles: []collector.RawArticle{
			{
				Headline:    "SYMB rumored fda clinical trial update",
				SourceURL:   "https://example.com/symb-rumor",
				PublishedAt: early,
				Symbol:      "SYMB",
			},
		},
	}
	tier1Source := &fakeSource{
		name: "Reuters",
		tier: 1,
		articles: []collector.RawArticle{
			{
				Headline:    "SYMB confirms fda clinical trial success",
				SourceURL:   "https://example.com/symb-confirmed",
				PublishedAt: late,
				Symbol:      "SYMB",
			},
		},
	}

	c := newTestCollector(t, st, lexicon)
	c.RegisterSource(tier3Source)

	ctx := context.Background()
	if _, err := c.Collect(ctx, early.Add(-time.Hour)); err != nil {
		t.Fatalf("tier-3 Collect failed: %v", err)
	}

	c.RegisterSource(tier1Source)
	if _, err := c.Collect(ctx, early.Add(-time.Hour)); err != nil {
		t.Fatalf("tier-1 Collect failed: %v", err)
	}

	items, err := st.ReadNewsRange(ctx, early.Add(-time.Hour), late.Add(time.Hour), store.NewsFilter{Symbol: "SYMB", Limit: 10})
	if err != nil {
		t.Fatalf("ReadNewsRange failed: %v", err)
	}

	var tier3Item *newsmodel.NewsItem
	for _, item := range items {
		if item.Source == "blog-wire" {
			tier3Item = item
		}
	}
	if tier3Item == nil {
		t.Fatal("expected the tier-3 article to be present")
	}
	if tier3Item.ConfirmationStatus != newsmodel.ConfirmationConfirmed {
		t.Fatalf("ConfirmationStatus = %q, want confirmed", tier3Item.ConfirmationStatus)
	}
	if tier3Item.ConfirmedBy != "Reuters" {
		t.Errorf("ConfirmedBy = %q, want Reuters", tier3Item.ConfirmedBy)
	}
	if tier3Item.ConfirmationDelayMinutes != 45 {
		t.Errorf("ConfirmationDelayMinutes = %d, want 45", tier3Item.ConfirmationDelayMinutes)
	}
}
