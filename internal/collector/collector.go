package collector

// collector.go implements the normalization pipeline and public contract:
// strip tracking params, fingerprint, extract tickers, classify market
// state, extract keywords, flag breaking news, resolve source tier, then
// idempotently upsert. Fan-out across registered sources runs on a
// bounded worker pool (internal/workers), with per-source rate limiting
// and retry.

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"github.com/TradingApplication/catalyst-trading-system/internal/workers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxFetchRetries  = 2
	baseRetryBackoff = 500 * time.Millisecond
	defaultFetchSince = 24 * time.Hour
)

// Config controls the collector's fan-out and clustering behavior.
type Config struct {
	Workers             int
	DefaultFetchLimit   int
	ConfirmationTiers   int // a higher-tier confirmation must come from tier <= this
	Location            *time.Location
}

// DefaultConfig returns the standard 8-worker fan-out.
func DefaultConfig() Config {
	return Config{
		Workers:           8,
		DefaultFetchLimit: 200,
		ConfirmationTiers: 2,
		Location:          time.UTC,
	}
}

// Collector is the News Collector component.
type Collector struct {
	logger  *zap.Logger
	store   store.Port
	lexicon *newsmodel.Lexicon
	windows newsmodel.SessionWindows
	bus     *events.EventBus
	cfg     Config

	mu       sync.Mutex
	sources  []Source
	limiters map[string]*rate.Limiter
}

// New constructs a Collector. The lexicon and session windows are supplied
// by the caller (cmd/collector) after loading configuration, since both
// are deployment-specific.
func New(logger *zap.Logger, st store.Port, bus *events.EventBus, lexicon *newsmodel.Lexicon, windows newsmodel.SessionWindows, cfg Config) *Collector {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.DefaultFetchLimit <= 0 {
		cfg.DefaultFetchLimit = 200
	}
	return &Collector{
		logger:   logger.Named("collector"),
		store:    st,
		lexicon:  lexicon,
		windows:  windows,
		bus:      bus,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// RegisterSource adds a source and provisions its rate limiter. Safe to
// call after construction but before the first Collect.
func (c *Collector) RegisterSource(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources = append(c.sources, src)
	rps, burst := src.RateLimit()
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiters[src.Name()] = rate.NewLimiter(rate.Limit(rps), burst)
}

// CollectResult summarizes one collection pass across all registered sources.
type CollectResult struct {
	ItemsFetched int
	ItemsNew     int
	ItemsUpdated int
	SourceErrors map[string]string // source name -> error, for sources that failed entirely
}

// Collect fans out Fetch across every registered source with bounded
// concurrency, normalizes, dedups via idempotent upsert, and runs
// confirmation matching on each new item. A single source's failure does
// not abort the others' collection.
func (c *Collector) Collect(ctx context.Context, since time.Time) (CollectResult, error) {
	c.mu.Lock()
	sources := append([]Source(nil), c.sources...)
	c.mu.Unlock()

	if since.IsZero() {
		since = time.Now().Add(-defaultFetchSince)
	}

	pool := workers.NewPool(c.logger, &workers.PoolConfig{
		Name:            "collector-fetch",
		NumWorkers:      c.cfg.Workers,
		QueueSize:       len(sources) + 1,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	})
	pool.Start()
	defer pool.Stop()

	result := CollectResult{SourceErrors: make(map[string]string)}
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for _, src := range sources {
		src := src
		wg.Add(1)
		if err := pool.SubmitFunc(func() error {
			defer wg.Done()
			articles, err := c.fetchWithRetry(ctx, src, since)
			if err != nil {
				resultMu.Lock()
				result.SourceErrors[src.Name()] = err.Error()
				resultMu.Unlock()
				c.logger.Warn("source fetch failed", zap.String("source", src.Name()), zap.Error(err))
				return err
			}

			fetched, created, updated := c.ingest(ctx, src, articles)
			resultMu.Lock()
			result.ItemsFetched += fetched
			result.ItemsNew += created
			result.ItemsUpdated += updated
			resultMu.Unlock()
			return nil
		}); err != nil {
			wg.Done()
			resultMu.Lock()
			result.SourceErrors[src.Name()] = err.Error()
			resultMu.Unlock()
		}
	}
	wg.Wait()

	return result, nil
}

func (c *Collector) fetchWithRetry(ctx context.Context, src Source, since time.Time) ([]RawArticle, error) {
	c.mu.Lock()
	limiter := c.limiters[src.Name()]
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("collector: rate limiter wait for %s: %w", src.Name(), err)
			}
		}

		articles, err := src.Fetch(ctx, since, c.cfg.DefaultFetchLimit)
		if err == nil {
			return articles, nil
		}
		lastErr = err
		if attempt < maxFetchRetries {
			wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryBackoff
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("collector: %s: exhausted %d retries: %w", src.Name(), maxFetchRetries, lastErr)
}

// ingest normalizes and upserts a batch of raw articles from one source.
func (c *Collector) ingest(ctx context.Context, src Source, articles []RawArticle) (fetched, created, updated int) {
	for _, raw := range articles {
		item := c.normalize(src, raw)

		stored, isNew, err := c.store.UpsertNewsItem(ctx, item)
		if err != nil {
			c.logger.Error("upsert failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		fetched++
		if isNew {
			created++
		} else {
			updated++
		}

		if c.bus != nil {
			c.bus.Publish(events.NewNewsCollectedEvent(stored.Fingerprint, stored.PrimarySymbol, stored.Source, stored.Headline, isNew))
		}

		if isNew {
			c.tryConfirm(ctx, stored)
		}
	}
	return fetched, created, updated
}

// normalize runs the pipeline: strip tracking params, fingerprint,
// extract tickers, classify market state, extract keywords, flag breaking.
func (c *Collector) normalize(src Source, raw RawArticle) *newsmodel.NewsItem {
	cleanURL := newsmodel.StripTrackingParams(raw.SourceURL)
	fingerprint := newsmodel.Fingerprint(raw.Headline, src.Name(), raw.PublishedAt)

	symbol := raw.Symbol
	tickers := c.lexicon.ExtractTickers(raw.Headline)
	if symbol == "" && len(tickers) > 0 {
		symbol = tickers[0]
	}
	tickerSet := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		tickerSet[t] = true
	}

	marketState := c.windows.Classify(raw.PublishedAt)
	keywords := c.lexicon.ExtractKeywords(raw.Headline, raw.ContentSnippet)
	tier := c.lexicon.TierFor(src.Name())
	ageMinutes := time.Since(raw.PublishedAt).Minutes()
	breaking := c.lexicon.IsBreaking(tier, ageMinutes, raw.Headline)

	snippet := raw.ContentSnippet
	if len(snippet) > 500 {
		snippet = snippet[:500]
	}

	item := &newsmodel.NewsItem{
		Fingerprint:      fingerprint,
		PrimarySymbol:    symbol,
		Headline:         raw.Headline,
		Source:           src.Name(),
		SourceURL:        cleanURL,
		PublishedAt:      raw.PublishedAt,
		ContentSnippet:   snippet,
		Keywords:         keywords,
		MentionedTickers: tickerSet,
		MarketState:      marketState,
		IsBreakingNews:   breaking,
		SourceTier:       tier,
		Metadata:         raw.Metadata,
		ConfirmationStatus: newsmodel.ConfirmationUnconfirmed,
	}

	if symbol != "" {
		categories := item.Categories()
		clusterID := newsmodel.ClusterID(symbol, raw.PublishedAt, c.cfg.Location, categories)
		item.ClusterID = clusterID
	}

	return item
}

// tryConfirm looks for an existing lower-tier article covering the same
// (symbol, keyword-category-set) within the ±4h window and marks it
// confirmed if this new item comes from a higher tier.
func (c *Collector) tryConfirm(ctx context.Context, item *newsmodel.NewsItem) {
	if item.PrimarySymbol == "" || item.SourceTier > c.cfg.ConfirmationTiers {
		return
	}

	since := item.PublishedAt.Add(-4 * time.Hour)
	until := item.PublishedAt.Add(4 * time.Hour)
	candidates, err := c.store.ReadNewsRange(ctx, since, until, store.NewsFilter{Symbol: item.PrimarySymbol, Limit: 200})
	if err != nil {
		c.logger.Warn("confirmation lookup failed", zap.Error(err))
		return
	}

	itemCategories := item.Categories()
	for _, candidate := range candidates {
		if candidate.Fingerprint == item.Fingerprint {
			continue
		}
		if candidate.ConfirmationStatus == newsmodel.ConfirmationConfirmed {
			continue
		}
		if candidate.SourceTier <= item.SourceTier {
			continue // only a strictly higher-tier article confirms a lower-tier one
		}
		if !newsmodel.CategoriesMatch(itemCategories, candidate.Categories()) {
			continue
		}
		if !newsmodel.WithinConfirmationWindow(item.PublishedAt, candidate.PublishedAt) {
			continue
		}

		delayMinutes := int(candidate.PublishedAt.Sub(item.PublishedAt).Abs().Minutes())
		if err := c.store.MarkConfirmed(ctx, candidate.Fingerprint, item.Source, delayMinutes); err != nil {
			c.logger.Warn("mark confirmed failed", zap.Error(err))
			continue
		}

		earlyMinutes := delayMinutes
		_ = c.store.IncrementSourceMetrics(ctx, store.SourceMetricsDelta{
			Source:             candidate.Source,
			Tier:               candidate.SourceTier,
			ConfirmedDelta:     1,
			EarlyMinutesSample: floatPtr(float64(earlyMinutes)),
		})
	}
}

// Search implements the News Collector's read contract.
func (c *Collector) Search(ctx context.Context, since, until time.Time, filter store.NewsFilter) ([]*newsmodel.NewsItem, error) {
	return c.store.ReadNewsRange(ctx, since, until, filter)
}

// UpdateOutcome applies a post-trade price/volume outcome to a stored
// article and bumps the owning source's accuracy counters. Once an
// article's accuracy is recorded, later calls leave SourceMetrics as they are.
func (c *Collector) UpdateOutcome(ctx context.Context, fingerprint string, outcome store.NewsOutcome) error {
	prior, err := c.store.GetNewsByFingerprint(ctx, fingerprint)
	if err != nil {
		return err
	}
	if err := c.store.UpdateNewsOutcome(ctx, fingerprint, outcome); err != nil {
		return err
	}
	if prior != nil && prior.WasAccurate != nil {
		return nil
	}

	item, err := c.store.GetNewsByFingerprint(ctx, fingerprint)
	if err != nil || item == nil {
		return err
	}

	delta := store.SourceMetricsDelta{Source: item.Source, Tier: item.SourceTier}
	if outcome.WasAccurate != nil {
		if *outcome.WasAccurate {
			delta.AccurateDelta = 1
		} else {
			delta.FalseDelta = 1
		}
	}
	if item.PrimarySymbol != "" {
		delta.Beneficiary = item.PrimarySymbol
	}
	if err := c.store.IncrementSourceMetrics(ctx, delta); err != nil {
		c.logger.Warn("increment source metrics failed", zap.Error(err))
	}

	if c.bus != nil {
		c.bus.Publish(events.NewOutcomeAppliedEvent(fingerprint, item.Source, outcome.WasAccurate))
		if m, err := c.store.GetSourceMetrics(ctx, item.Source); err == nil && m != nil {
			c.bus.Publish(events.NewSourceMetricsUpdatedEvent(item.Source, m.AccuracyRate))
		}
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }
