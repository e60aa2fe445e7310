// Package store defines the Persistence Port: the interface the
// Cycle Coordinator, News Collector, and Catalyst Scanner use to reach the
// relational store and its cache, plus a sqlite-backed reference
// implementation.
package store

import (
	"context"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
)

// NewsFilter narrows a readNewsRange query.
type NewsFilter struct {
	Symbol  string // empty = any
	MinTier int    // 0 = any
	Limit   int    // 0 = default (1000)
}

// NewsOutcome carries the mutable outcome fields applied post-trade.
type NewsOutcome struct {
	PriceMove1h      *float64
	PriceMove24h     *float64
	VolumeSurgeRatio *float64
	WasAccurate      *bool
}

// SourceMetricsDelta is one transactional increment applied to a source's
// reliability counters when a trade closes against one of its articles.
type SourceMetricsDelta struct {
	Source           string
	Tier             int // used only to seed a metrics row on first sight
	ArticlesDelta    int64
	ConfirmedDelta   int64
	AccurateDelta    int64
	FalseDelta       int64
	EarlyMinutesSample *float64 // folded into the running AvgEarlyMinutes
	Beneficiary      string     // optional symbol to bump in FrequentBeneficiaries
}

// ConfigModifier identifies who/what last wrote a configuration entry, for
// audit purposes on writeConfig.
type ConfigModifier string

// Port is the persistence abstraction consumed by the core.
// Implementations must provide read-committed transactions for multi-row
// writes and idempotency for the two upserts (news items, candidates).
type Port interface {
	// UpsertNewsItem is the idempotent insert-or-merge keyed by
	// fingerprint. Returns the stored item after the merge and whether
	// this call created a new row.
	UpsertNewsItem(ctx context.Context, item *newsmodel.NewsItem) (stored *newsmodel.NewsItem, created bool, err error)

	// GetNewsByFingerprint reads a single stored item, for round-trip
	// checks and confirmation matching.
	GetNewsByFingerprint(ctx context.Context, fingerprint string) (*newsmodel.NewsItem, error)

	// UpdateNewsOutcome applies outcome fields idempotently: re-applying
	// the same outcome is a no-op.
	UpdateNewsOutcome(ctx context.Context, fingerprint string, outcome NewsOutcome) error

	// MarkConfirmed transitions an unconfirmed article to confirmed.
	MarkConfirmed(ctx context.Context, fingerprint, confirmedBySource string, delayMinutes int) error

	// ReadNewsRange returns items published in [since, until], newest
	// first, bounded by filter.Limit.
	ReadNewsRange(ctx context.Context, since, until time.Time, filter NewsFilter) ([]*newsmodel.NewsItem, error)

	// InsertCandidates atomically persists a scan's ranked candidate
	// list, all-or-nothing.
	InsertCandidates(ctx context.Context, scanID string, candidates []*newsmodel.TradingCandidate) error

	// GetCandidates returns a previously persisted scan's candidates.
	GetCandidates(ctx context.Context, scanID string) ([]*newsmodel.TradingCandidate, error)

	// InsertCycle records a new running cycle.
	InsertCycle(ctx context.Context, cycle *newsmodel.TradingCycle) error

	// UpdateCycleStage records a stage's start/end/count transactionally.
	UpdateCycleStage(ctx context.Context, cycleID string, stage newsmodel.StageRecord) error

	// FinalizeCycle marks a cycle completed or failed and persists its
	// final counters.
	FinalizeCycle(ctx context.Context, cycleID string, status newsmodel.CycleStatus, reason string, cycle *newsmodel.TradingCycle) error

	// GetCycle reads a cycle by id.
	GetCycle(ctx context.Context, cycleID string) (*newsmodel.TradingCycle, error)

	// ReadConfig / WriteConfig back the Coordinator's configuration
	// store, writable only through the Coordinator's updateConfig.
	ReadConfig(ctx context.Context, key string) (string, bool, error)
	WriteConfig(ctx context.Context, key, value string, modifier ConfigModifier) error

	// IncrementSourceMetrics applies a transactional delta to a
	// source's reliability counters.
	IncrementSourceMetrics(ctx context.Context, delta SourceMetricsDelta) error

	// GetSourceMetrics reads one or all source metrics rows.
	GetSourceMetrics(ctx context.Context, source string) (*newsmodel.SourceMetrics, error)
	ListSourceMetrics(ctx context.Context) ([]*newsmodel.SourceMetrics, error)

	// InsertNarrativeCluster persists an hourly coordinated-narrative
	// detection.
	InsertNarrativeCluster(ctx context.Context, cluster *newsmodel.NarrativeCluster) error
	ListNarrativeClusters(ctx context.Context, since time.Time) ([]*newsmodel.NarrativeCluster, error)

	// Cache operations back the TTL-based lookup cache (news-by-id 1h,
	// candidate lists 5min, config values 1min).
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CacheInvalidatePattern(ctx context.Context, pattern string) error

	// Close releases pooled connections.
	Close() error
}
