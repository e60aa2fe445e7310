// Package newsmodel defines the persisted record types shared by the News
// Collector, Catalyst Scanner, and Cycle Coordinator: NewsItem,
// SourceMetrics, TradingCandidate, and TradingCycle.
package newsmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketState classifies the session a news item was published in.
type MarketState string

const (
	MarketStatePreMarket  MarketState = "pre-market"
	MarketStateRegular    MarketState = "regular"
	MarketStateAfterHours MarketState = "after-hours"
	MarketStateWeekend    MarketState = "weekend"
)

// KeywordCategory is one of the recognized catalyst keyword buckets.
type KeywordCategory string

const (
	CategoryEarnings    KeywordCategory = "earnings"
	CategoryFDA         KeywordCategory = "fda"
	CategoryMerger      KeywordCategory = "merger"
	CategoryGuidance    KeywordCategory = "guidance"
	CategoryLawsuit     KeywordCategory = "lawsuit"
	CategoryBankruptcy  KeywordCategory = "bankruptcy"
	CategoryInsider     KeywordCategory = "insider"
	CategoryShort       KeywordCategory = "short"
	CategoryPump        KeywordCategory = "pump"
	CategoryDump        KeywordCategory = "dump"
	CategoryBreakthrough KeywordCategory = "breakthrough"
	CategoryConcerns    KeywordCategory = "concerns"
)

// PrimaryCatalyst is the dominant catalyst classification for a candidate.
type PrimaryCatalyst string

const (
	CatalystEarnings PrimaryCatalyst = "earnings"
	CatalystFDA      PrimaryCatalyst = "fda"
	CatalystMerger   PrimaryCatalyst = "merger"
	CatalystGeneric  PrimaryCatalyst = "generic"
)

// ConfirmationStatus tracks whether a lower-tier article has been
// corroborated by a higher-tier source.
type ConfirmationStatus string

const (
	ConfirmationUnconfirmed ConfirmationStatus = "unconfirmed"
	ConfirmationConfirmed   ConfirmationStatus = "confirmed"
)

// NewsItem is the immutable-after-insertion news record.
// Fields under "Outcome" are appended later by the Coordinator and are
// never rewritten once set, per the lifecycle invariant.
type NewsItem struct {
	Fingerprint string `json:"fingerprint"` // 64-char content-derived identity

	PrimarySymbol    string            `json:"primarySymbol,omitempty"`
	Headline         string            `json:"headline"`
	Source           string            `json:"source"`
	SourceURL        string            `json:"sourceUrl"`
	PublishedAt      time.Time         `json:"publishedAt"`
	CollectedAt      time.Time         `json:"collectedAt"`
	ContentSnippet   string            `json:"contentSnippet"` // <= 500 chars
	Keywords         map[KeywordCategory]bool `json:"keywords"`
	MentionedTickers map[string]bool   `json:"mentionedTickers"`
	MarketState      MarketState       `json:"marketState"`
	IsBreakingNews   bool              `json:"isBreakingNews"`
	SourceTier       int               `json:"sourceTier"` // 1..5
	ClusterID        string            `json:"clusterId,omitempty"`
	SentimentKeywords map[string]bool  `json:"sentimentKeywords,omitempty"`

	// Metadata preserves unknown fields from external source payloads.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Mutable bookkeeping maintained by the collector's idempotent upsert.
	UpdateCount int       `json:"updateCount"`
	LastSeen    time.Time `json:"lastSeen"`

	// Confirmation tracking (§4.2).
	ConfirmationStatus  ConfirmationStatus `json:"confirmationStatus"`
	ConfirmedBy         string             `json:"confirmedBy,omitempty"`
	ConfirmationDelayMinutes int           `json:"confirmationDelayMinutes,omitempty"`

	// Outcome fields, appended post-trade by the Coordinator. Never
	// rewritten once set (idempotent re-application is a no-op).
	PriceMove1h      *decimal.Decimal `json:"priceMove1h,omitempty"`
	PriceMove24h     *decimal.Decimal `json:"priceMove24h,omitempty"`
	VolumeSurgeRatio *decimal.Decimal `json:"volumeSurgeRatio,omitempty"`
	WasAccurate      *bool            `json:"wasAccurate,omitempty"`
}

// Categories returns the sorted set of recognized keyword categories
// present on this item, used for clustering and scoring.
func (n *NewsItem) Categories() []KeywordCategory {
	cats := make([]KeywordCategory, 0, len(n.Keywords))
	for c, present := range n.Keywords {
		if present {
			cats = append(cats, c)
		}
	}
	return sortCategories(cats)
}

// AgeAt returns the age of the article relative to t, in hours.
func (n *NewsItem) AgeAt(t time.Time) float64 {
	return t.Sub(n.PublishedAt).Hours()
}

// SourceMetrics is the one-row-per-source reliability record.
type SourceMetrics struct {
	Source string `json:"source"`
	Tier   int    `json:"tier"` // immutable after seeding

	TotalArticles     int64 `json:"totalArticles"`
	ConfirmedArticles int64 `json:"confirmedArticles"`
	AccurateArticles  int64 `json:"accurateArticles"`
	FalseArticles     int64 `json:"falseArticles"`

	AccuracyRate      float64 `json:"accuracyRate"`
	AvgEarlyMinutes   float64 `json:"avgEarlyMinutes"`

	NarrativeClusterCount int             `json:"narrativeClusterCount"`
	FrequentBeneficiaries map[string]int  `json:"frequentBeneficiaries"`
}

// Invariant reports whether the accurate+false<=confirmed<=total rule holds.
func (s *SourceMetrics) Invariant() bool {
	return s.AccurateArticles+s.FalseArticles <= s.ConfirmedArticles &&
		s.ConfirmedArticles <= s.TotalArticles
}

// TradingCandidate is a per-scan ranked candidate.
type TradingCandidate struct {
	ScanID            string          `json:"scanId"`
	Symbol            string          `json:"symbol"`
	SelectedAt        time.Time       `json:"selectedAt"`
	CatalystScore     float64         `json:"catalystScore"`
	NewsCount         int             `json:"newsCount"`
	PrimaryCatalyst   PrimaryCatalyst `json:"primaryCatalyst"`
	CatalystKeywords  []KeywordCategory `json:"catalystKeywords"`

	CurrentPrice      decimal.Decimal `json:"currentPrice"`
	CurrentVolume     decimal.Decimal `json:"currentVolume"`
	RelativeVolume    float64         `json:"relativeVolume"`
	PriceChangePct    float64         `json:"priceChangePct"`
	PreMarketVolume   decimal.Decimal `json:"preMarketVolume"`
	PreMarketChangePct float64        `json:"preMarketChangePct"`
	HasPreMarketNews  bool            `json:"hasPreMarketNews"`

	TechnicalScore    float64 `json:"technicalScore"`
	CombinedScore     float64 `json:"combinedScore"`
	SelectionRank     int     `json:"selectionRank"` // 1..K, dense & unique

	TechnicalValidated bool   `json:"technicalValidated"`
	Status             string `json:"status"` // "selected" | "analyzed" | "traded"
}

// CycleStatus is the TradingCycle state machine's terminal/active states.
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
)

// CycleMode is the scheduler's time-of-day-aware operating mode.
type CycleMode string

const (
	ModeAggressive CycleMode = "aggressive"
	ModeNormal     CycleMode = "normal"
	ModeLight      CycleMode = "light"
	ModeMinimal    CycleMode = "minimal"
)

// Stage identifies one step of the cycle's stage orchestration.
type Stage string

const (
	StageCollect  Stage = "collect"
	StageScan     Stage = "scan"
	StageAnalyze  Stage = "analyze"
	StageSignal   Stage = "signal"
	StageExecute  Stage = "execute"
	StageFinalize Stage = "finalize"
)

// StageRecord captures the timing and outcome of a single stage.
type StageRecord struct {
	Stage        Stage     `json:"stage"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
	RecordCount  int       `json:"recordCount"`
	Partial      bool      `json:"partial"`
	Error        string    `json:"error,omitempty"`
}

// TradingCycle is one row per coordinator run.
type TradingCycle struct {
	CycleID   string      `json:"cycleId"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   time.Time   `json:"endedAt,omitempty"`
	Status    CycleStatus `json:"status"`
	Mode      CycleMode   `json:"mode"`
	FailureReason string  `json:"failureReason,omitempty"`

	Stages []StageRecord `json:"stages"`

	NewsCollected     int `json:"newsCollected"`
	CandidatesSelected int `json:"candidatesSelected"`
	PatternsAnalyzed  int `json:"patternsAnalyzed"`
	SignalsGenerated  int `json:"signalsGenerated"`
	TradesExecuted    int `json:"tradesExecuted"`

	CyclePnL    decimal.Decimal `json:"cyclePnl"`
	SuccessRate float64         `json:"successRate"`
}

// CurrentStage returns the most recently started, not-yet-ended stage, or
// empty if idle between stages.
func (c *TradingCycle) CurrentStage() Stage {
	for i := len(c.Stages) - 1; i >= 0; i-- {
		if c.Stages[i].EndedAt.IsZero() {
			return c.Stages[i].Stage
		}
	}
	return ""
}

func sortCategories(cats []KeywordCategory) []KeywordCategory {
	for i := 1; i < len(cats); i++ {
		for j := i; j > 0 && cats[j-1] > cats[j]; j-- {
			cats[j-1], cats[j] = cats[j], cats[j-1]
		}
	}
	return cats
}
