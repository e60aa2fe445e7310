// Package scanner implements the Catalyst Scanner: multi-stage candidate
// filtering over recent news, cross-checked against a market-data
// collaborator.
package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coreerrs"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/ids"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"github.com/TradingApplication/catalyst-trading-system/pkg/marketdata"
	"go.uber.org/zap"
)

// Mode selects the filter thresholds used by a scan.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeAggressive Mode = "aggressive"
)

// Config holds the scan's tunable thresholds.
type Config struct {
	TopK                 int
	MinCatalystScore     float64
	MinPrice             float64
	MaxPrice             float64
	MinVolume            int64
	MinRelativeVolume    float64
	MostActiveBaseline   int
	UniverseScoreFloor   float64
	CatalystFilterCap    int
}

// DefaultConfig returns the standard scan thresholds.
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		MinCatalystScore:   30,
		MinPrice:           1.0,
		MaxPrice:           500.0,
		MinVolume:          500_000,
		MinRelativeVolume:  1.5,
		MostActiveBaseline: 100,
		UniverseScoreFloor: 0.1,
		CatalystFilterCap:  20,
	}
}

// forMode returns the effective thresholds for a scan mode — aggressive
// lowers MinCatalystScore to 20 and MinVolume to 100,000.
func (c Config) forMode(mode Mode) Config {
	if mode != ModeAggressive {
		return c
	}
	c.MinCatalystScore = 20
	c.MinVolume = 100_000
	return c
}

// ScanResult is the public scan output.
type ScanResult struct {
	ScanID           string
	Candidates       []*newsmodel.TradingCandidate
	UniverseSize     int
	CatalystFiltered int
	DurationMS       int64
	Mode             Mode
}

// Scanner is the Catalyst Scanner component.
type Scanner struct {
	logger  *zap.Logger
	store   store.Port
	market  marketdata.Client
	bus     *events.EventBus
	cfg     Config
	loc     *time.Location
}

// New constructs a Scanner.
func New(logger *zap.Logger, st store.Port, market marketdata.Client, bus *events.EventBus, cfg Config, loc *time.Location) *Scanner {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scanner{logger: logger.Named("scanner"), store: st, market: market, bus: bus, cfg: cfg, loc: loc}
}

// Scan runs the full multi-stage pipeline: universe discovery, catalyst
// filter, technical validation, final ranking.
func (s *Scanner) Scan(ctx context.Context, mode Mode) (ScanResult, error) {
	start := time.Now()
	cfg := s.cfg.forMode(mode)

	universe, err := s.buildUniverse(ctx, cfg)
	if err != nil {
		return ScanResult{}, err
	}

	return s.runPipeline(ctx, universe, cfg, mode, start)
}

// ScanSymbols runs the pipeline against a caller-supplied symbol set,
// skipping universe discovery.
func (s *Scanner) ScanSymbols(ctx context.Context, symbols []string) (ScanResult, error) {
	start := time.Now()
	return s.runPipeline(ctx, symbols, s.cfg, ModeNormal, start)
}

// GetScanResults is an idempotent read of a previously persisted scan.
func (s *Scanner) GetScanResults(ctx context.Context, scanID string) (ScanResult, error) {
	candidates, err := s.store.GetCandidates(ctx, scanID)
	if err != nil {
		return ScanResult{}, err
	}
	if len(candidates) == 0 {
		return ScanResult{}, coreerrs.ErrNotFound("scan", scanID)
	}
	return ScanResult{ScanID: scanID, Candidates: candidates}, nil
}

// buildUniverse unions symbols from recent high-scoring news with the
// market-data collaborator's most-active baseline.
func (s *Scanner) buildUniverse(ctx context.Context, cfg Config) ([]string, error) {
	until := time.Now()
	since := until.Add(-24 * time.Hour)

	items, err := s.store.ReadNewsRange(ctx, since, until, store.NewsFilter{Limit: 5000})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var universe []string
	for _, item := range items {
		if item.PrimarySymbol == "" {
			continue
		}
		age := item.AgeAt(until)
		score := newsmodel.ItemScore(item.SourceTier, age, item.Categories(), item.MarketState)
		if score < cfg.UniverseScoreFloor {
			continue
		}
		if !seen[item.PrimarySymbol] {
			seen[item.PrimarySymbol] = true
			universe = append(universe, item.PrimarySymbol)
		}
	}

	if s.market != nil {
		mostActive, err := s.market.MostActive(ctx, cfg.MostActiveBaseline)
		if err != nil {
			s.logger.Warn("most-active baseline fetch failed", zap.Error(err))
		}
		for _, sym := range mostActive {
			if !seen[sym] {
				seen[sym] = true
				universe = append(universe, sym)
			}
		}
	}

	return universe, nil
}

type scoredSymbol struct {
	symbol        string
	catalystScore float64
	newsCount     int
	categories    []newsmodel.KeywordCategory
	primaryTier   int
	hasPreMarket  bool
}

// runPipeline executes stages 2-4 against the given symbol set.
func (s *Scanner) runPipeline(ctx context.Context, universe []string, cfg Config, mode Mode, start time.Time) (ScanResult, error) {
	scanID := ids.NewScanID()

	scored, err := s.scoreCatalysts(ctx, universe)
	if err != nil {
		return ScanResult{}, err
	}

	filtered := make([]scoredSymbol, 0, len(scored))
	for _, sc := range scored {
		if sc.catalystScore >= cfg.MinCatalystScore {
			filtered = append(filtered, sc)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].catalystScore > filtered[j].catalystScore })
	if len(filtered) > cfg.CatalystFilterCap {
		filtered = filtered[:cfg.CatalystFilterCap]
	}

	candidates, marketOutage := s.validateTechnical(ctx, filtered, cfg, scanID)

	rankCandidates(candidates, mode)
	if len(candidates) > cfg.TopK {
		candidates = candidates[:cfg.TopK]
	}
	for i, c := range candidates {
		c.SelectionRank = i + 1
	}

	if err := s.store.InsertCandidates(ctx, scanID, candidates); err != nil {
		return ScanResult{}, err
	}

	if s.bus != nil {
		for _, c := range candidates {
			s.bus.Publish(events.NewCandidateSelectedEvent(scanID, c.Symbol, c.CombinedScore, c.SelectionRank, c.CurrentPrice))
		}
	}

	result := ScanResult{
		ScanID:           scanID,
		Candidates:       candidates,
		UniverseSize:     len(universe),
		CatalystFiltered: len(filtered),
		DurationMS:       time.Since(start).Milliseconds(),
		Mode:             mode,
	}
	if marketOutage {
		s.logger.Warn("scan completed under total market-data outage", zap.String("scan_id", scanID))
	}
	return result, nil
}

// scoreCatalysts computes catalyst_score(sym) for each candidate symbol
// from its last-24h news.
func (s *Scanner) scoreCatalysts(ctx context.Context, symbols []string) ([]scoredSymbol, error) {
	until := time.Now()
	since := until.Add(-24 * time.Hour)

	out := make([]scoredSymbol, 0, len(symbols))
	for _, symbol := range symbols {
		items, err := s.store.ReadNewsRange(ctx, since, until, store.NewsFilter{Symbol: symbol, Limit: 500})
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			continue
		}

		var itemScores []float64
		categorySet := map[newsmodel.KeywordCategory]bool{}
		bestTier := 5
		hasPreMarket := false
		for _, item := range items {
			age := item.AgeAt(until)
			itemScores = append(itemScores, newsmodel.ItemScore(item.SourceTier, age, item.Categories(), item.MarketState))
			for _, c := range item.Categories() {
				categorySet[c] = true
			}
			if item.SourceTier < bestTier {
				bestTier = item.SourceTier
			}
			if item.MarketState == newsmodel.MarketStatePreMarket {
				hasPreMarket = true
			}
		}

		var categories []newsmodel.KeywordCategory
		for c := range categorySet {
			categories = append(categories, c)
		}

		out = append(out, scoredSymbol{
			symbol:        symbol,
			catalystScore: newsmodel.CatalystScore(itemScores),
			newsCount:     len(items),
			categories:    categories,
			primaryTier:   bestTier,
			hasPreMarket:  hasPreMarket,
		})
	}
	return out, nil
}

// validateTechnical implements the technical-validation stage and its
// failure semantics: a per-symbol market-data error removes only that
// symbol; if every lookup fails, candidates are emitted from
// catalyst_score alone with technical_validated=false.
func (s *Scanner) validateTechnical(ctx context.Context, candidates []scoredSymbol, cfg Config, scanID string) ([]*newsmodel.TradingCandidate, bool) {
	var results []*newsmodel.TradingCandidate
	failures := 0

	for _, sc := range candidates {
		var snap *marketdata.Snapshot
		var err error
		if s.market != nil {
			snap, err = s.market.GetSnapshot(ctx, sc.symbol)
		} else {
			err = coreerrs.New(coreerrs.KindDependencyDown, "no market-data client configured")
		}

		if err != nil {
			failures++
			s.logger.Debug("technical validation lookup failed", zap.String("symbol", sc.symbol), zap.Error(err))
			continue
		}

		price, _ := snap.Price.Float64()
		if price < cfg.MinPrice || price > cfg.MaxPrice {
			continue
		}
		volume, _ := snap.Volume.Float64()
		if int64(volume) < cfg.MinVolume {
			continue
		}
		if snap.RelativeVolume < cfg.MinRelativeVolume {
			continue
		}

		technicalScore := newsmodel.TechnicalScore(snap.RelativeVolume, snap.PriceChangePct)
		combinedScore := newsmodel.CombinedScore(sc.catalystScore, technicalScore)

		results = append(results, &newsmodel.TradingCandidate{
			ScanID:             scanID,
			Symbol:             sc.symbol,
			SelectedAt:         time.Now(),
			CatalystScore:      sc.catalystScore,
			NewsCount:          sc.newsCount,
			PrimaryCatalyst:    newsmodel.ClassifyPrimaryCatalyst(sc.categories),
			CatalystKeywords:   sc.categories,
			CurrentPrice:       snap.Price,
			CurrentVolume:      snap.Volume,
			RelativeVolume:     snap.RelativeVolume,
			PriceChangePct:     snap.PriceChangePct,
			PreMarketVolume:    snap.PreMarketVolume,
			PreMarketChangePct: snap.PreMarketChangePct,
			HasPreMarketNews:   sc.hasPreMarket,
			TechnicalScore:     technicalScore,
			CombinedScore:      combinedScore,
			TechnicalValidated: true,
			Status:             "selected",
		})
	}

	totalOutage := len(candidates) > 0 && failures == len(candidates)
	if totalOutage {
		for _, sc := range candidates {
			results = append(results, &newsmodel.TradingCandidate{
				ScanID:             scanID,
				Symbol:             sc.symbol,
				SelectedAt:         time.Now(),
				CatalystScore:      sc.catalystScore,
				NewsCount:          sc.newsCount,
				PrimaryCatalyst:    newsmodel.ClassifyPrimaryCatalyst(sc.categories),
				CatalystKeywords:   sc.categories,
				CombinedScore:      sc.catalystScore,
				HasPreMarketNews:   sc.hasPreMarket,
				TechnicalValidated: false,
				Status:             "selected",
			})
		}
	}

	return results, totalOutage
}

// rankCandidates sorts by combined_score descending with tie-breaks:
// pre-market news present, then lexicographic symbol. Source tier is not
// used as a tie-break. In aggressive mode, has_pre_market_news promotes a
// candidate straight to rank 1.
func rankCandidates(candidates []*newsmodel.TradingCandidate, mode Mode) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if mode == ModeAggressive && a.HasPreMarketNews != b.HasPreMarketNews {
			return a.HasPreMarketNews
		}
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.HasPreMarketNews != b.HasPreMarketNews {
			return a.HasPreMarketNews
		}
		return a.Symbol < b.Symbol
	})
}
