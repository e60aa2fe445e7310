// Package collaborators defines the HTTP contracts the Cycle Coordinator
// uses to reach its out-of-process collaborators: the News Collector and
// Catalyst Scanner core services, plus the pattern, technical, and
// trading services that live outside this repository and are specified
// only by the contract the core uses.
package collaborators

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CollectionReport mirrors the News Collector's POST /collect_news
// response.
type CollectionReport struct {
	Articles        int            `json:"articles"`
	New             int            `json:"new"`
	Duplicate       int            `json:"duplicate"`
	PerSourceCounts map[string]int `json:"perSourceCounts"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// OutcomePayload mirrors the News Collector's POST /update_outcome body.
type OutcomePayload struct {
	NewsID           string   `json:"newsId"`
	PriceMove1h      *float64 `json:"priceMove1h,omitempty"`
	PriceMove24h     *float64 `json:"priceMove24h,omitempty"`
	VolumeSurgeRatio *float64 `json:"volumeSurgeRatio,omitempty"`
	WasAccurate      *bool    `json:"wasAccurate,omitempty"`
}

// CandidatePayload mirrors one entry of the Scanner's GET /scan response,
// trimmed to the fields the Coordinator's downstream stages actually
// consume.
type CandidatePayload struct {
	ScanID         string          `json:"scanId"`
	Symbol         string          `json:"symbol"`
	SelectionRank  int             `json:"selectionRank"`
	CombinedScore  float64         `json:"combinedScore"`
	CatalystScore  float64         `json:"catalystScore"`
	CurrentPrice   decimal.Decimal `json:"currentPrice"`
	CurrentVolume  decimal.Decimal `json:"currentVolume"`
}

// ScanResultPayload mirrors the Scanner's GET /scan response envelope.
type ScanResultPayload struct {
	ScanID     string              `json:"scanId"`
	Candidates []CandidatePayload  `json:"candidates"`
}

// PatternRecord is the pattern collaborator's per-candidate analysis
// result, produced during the Analyze stage. The collaborator's own
// internals live outside this repository; this is the minimal shape the
// Coordinator needs to decide whether a candidate proceeds to the signal
// stage.
type PatternRecord struct {
	Symbol     string  `json:"symbol"`
	ScanID     string  `json:"scanId"`
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
}

// SignalRecord is the technical collaborator's per-candidate signal,
// produced during the Signal stage. Signals below the confidence floor
// are filtered by the technical collaborator itself or the Coordinator
// caller.
type SignalRecord struct {
	Symbol     string  `json:"symbol"`
	ScanID     string  `json:"scanId"`
	Direction  string  `json:"direction"` // "long" | "short"
	Confidence float64 `json:"confidence"`
}

// ClosedTrade is one entry the trading collaborator reports as closed
// since the feedback sweep's last run.
type ClosedTrade struct {
	TradeID          string    `json:"tradeId"`
	NewsFingerprint  string    `json:"newsFingerprint"` // originating NewsItem
	Symbol           string    `json:"symbol"`
	ClosedAt         time.Time `json:"closedAt"`
	PnL              decimal.Decimal `json:"pnl"`
	WasAccurate      bool      `json:"wasAccurate"`
	PriceMove1h      float64   `json:"priceMove1h"`
	PriceMove24h     float64   `json:"priceMove24h"`
	VolumeSurgeRatio float64   `json:"volumeSurgeRatio"`
}

// HealthChecker is implemented by every collaborator client so
// Coordinator.ServiceHealth can probe them uniformly.
type HealthChecker interface {
	Name() string
	Health(ctx context.Context) error
}
