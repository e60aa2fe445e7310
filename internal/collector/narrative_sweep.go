package collector

// narrative_sweep.go implements the hourly coordinated-narrative detection
// pass: group the last 24h of news by (symbol, date, categories), score
// coordination, and persist clusters that qualify.

import (
	"context"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"go.uber.org/zap"
)

type narrativeGroup struct {
	symbol     string
	categories []newsmodel.KeywordCategory
	articles   []*newsmodel.NewsItem
	sources    map[string]bool
}

// DetectCoordinatedNarratives scans the last 24h of news, groups articles
// sharing a content-derived cluster id, and persists any group meeting the
// coordination threshold (>=4 articles, >=3 distinct sources, <2h spread).
func (c *Collector) DetectCoordinatedNarratives(ctx context.Context) (int, error) {
	until := time.Now()
	since := until.Add(-24 * time.Hour)

	items, err := c.store.ReadNewsRange(ctx, since, until, store.NewsFilter{Limit: 5000})
	if err != nil {
		return 0, err
	}

	groups := make(map[string]*narrativeGroup)
	for _, item := range items {
		if item.PrimarySymbol == "" || item.ClusterID == "" {
			continue
		}
		g, ok := groups[item.ClusterID]
		if !ok {
			g = &narrativeGroup{symbol: item.PrimarySymbol, categories: item.Categories(), sources: make(map[string]bool)}
			groups[item.ClusterID] = g
		}
		g.articles = append(g.articles, item)
		g.sources[item.Source] = true
	}

	detected := 0
	for clusterID, g := range groups {
		if len(g.articles) == 0 {
			continue
		}
		earliest, latest := g.articles[0].PublishedAt, g.articles[0].PublishedAt
		for _, a := range g.articles[1:] {
			if a.PublishedAt.Before(earliest) {
				earliest = a.PublishedAt
			}
			if a.PublishedAt.After(latest) {
				latest = a.PublishedAt
			}
		}
		spreadHours := latest.Sub(earliest).Hours()

		if !newsmodel.QualifiesAsCoordinated(len(g.articles), len(g.sources), spreadHours) {
			continue
		}

		score := newsmodel.CoordinationScore(len(g.sources), len(g.articles), spreadHours)
		cluster := &newsmodel.NarrativeCluster{
			ClusterID:         clusterID,
			Symbol:            g.symbol,
			Date:              earliest.In(c.cfg.Location).Format("2006-01-02"),
			Categories:        g.categories,
			ArticleCount:      len(g.articles),
			DistinctSources:   len(g.sources),
			TimeSpreadHours:   spreadHours,
			CoordinationScore: score,
			DetectedAt:        time.Now(),
		}

		if err := c.store.InsertNarrativeCluster(ctx, cluster); err != nil {
			c.logger.Warn("insert narrative cluster failed", zap.Error(err))
			continue
		}
		detected++

		if c.bus != nil {
			c.bus.Publish(events.NewClusterDetectedEvent(clusterID, g.symbol, len(g.articles), len(g.sources), score))
		}
	}

	return detected, nil
}

// RunNarrativeSweepLoop runs DetectCoordinatedNarratives on an independent
// hourly ticker until ctx is cancelled.
func (c *Collector) RunNarrativeSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.DetectCoordinatedNarratives(ctx); err != nil {
				c.logger.Error("narrative sweep failed", zap.Error(err))
			} else if n > 0 {
				c.logger.Info("narrative sweep detected clusters", zap.Int("count", n))
			}
		}
	}
}
