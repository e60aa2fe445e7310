package store

// sqlite.go is the Persistence Port's reference implementation. It uses
// modernc.org/sqlite (a pure-Go database/sql driver, no cgo) so a
// relational schema with JSON-typed columns for the set-valued
// attributes can be satisfied without a C toolchain. Connections are
// pooled and bounded.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS news_raw (
	fingerprint        TEXT PRIMARY KEY,
	primary_symbol     TEXT,
	headline           TEXT NOT NULL,
	source             TEXT NOT NULL,
	source_url         TEXT,
	published_at       DATETIME NOT NULL,
	collected_at       DATETIME NOT NULL,
	content_snippet    TEXT,
	keywords           TEXT NOT NULL DEFAULT '{}',     -- JSON
	mentioned_tickers  TEXT NOT NULL DEFAULT '{}',     -- JSON
	market_state       TEXT NOT NULL,
	is_breaking_news   INTEGER NOT NULL DEFAULT 0,
	source_tier        INTEGER NOT NULL,
	cluster_id         TEXT,
	sentiment_keywords TEXT NOT NULL DEFAULT '{}',     -- JSON
	metadata           TEXT NOT NULL DEFAULT '{}',     -- JSON
	update_count       INTEGER NOT NULL DEFAULT 0,
	last_seen          DATETIME NOT NULL,
	confirmation_status TEXT NOT NULL DEFAULT 'unconfirmed',
	confirmed_by        TEXT,
	confirmation_delay_minutes INTEGER,
	price_move_1h      REAL,
	price_move_24h     REAL,
	volume_surge_ratio REAL,
	was_accurate       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_news_published ON news_raw(published_at DESC);
CREATE INDEX IF NOT EXISTS idx_news_symbol    ON news_raw(primary_symbol);
CREATE INDEX IF NOT EXISTS idx_news_cluster   ON news_raw(cluster_id);

CREATE TABLE IF NOT EXISTS source_metrics (
	source                TEXT PRIMARY KEY,
	tier                  INTEGER NOT NULL,
	total_articles        INTEGER NOT NULL DEFAULT 0,
	confirmed_articles    INTEGER NOT NULL DEFAULT 0,
	accurate_articles     INTEGER NOT NULL DEFAULT 0,
	false_articles        INTEGER NOT NULL DEFAULT 0,
	accuracy_rate         REAL NOT NULL DEFAULT 0,
	avg_early_minutes     REAL NOT NULL DEFAULT 0,
	early_minutes_samples INTEGER NOT NULL DEFAULT 0,
	narrative_cluster_count INTEGER NOT NULL DEFAULT 0,
	frequent_beneficiaries TEXT NOT NULL DEFAULT '{}' -- JSON
);

CREATE TABLE IF NOT EXISTS trading_candidates (
	scan_id              TEXT NOT NULL,
	symbol               TEXT NOT NULL,
	selected_at          DATETIME NOT NULL,
	catalyst_score       REAL NOT NULL,
	news_count           INTEGER NOT NULL,
	primary_catalyst     TEXT NOT NULL,
	catalyst_keywords    TEXT NOT NULL DEFAULT '[]', -- JSON
	current_price        REAL NOT NULL,
	current_volume       REAL NOT NULL,
	relative_volume      REAL NOT NULL,
	price_change_pct     REAL NOT NULL,
	premarket_volume     REAL NOT NULL DEFAULT 0,
	premarket_change_pct REAL NOT NULL DEFAULT 0,
	has_premarket_news   INTEGER NOT NULL DEFAULT 0,
	technical_score      REAL NOT NULL,
	combined_score       REAL NOT NULL,
	selection_rank       INTEGER NOT NULL,
	technical_validated  INTEGER NOT NULL DEFAULT 1,
	status               TEXT NOT NULL DEFAULT 'selected',
	PRIMARY KEY (scan_id, symbol)
);
CREATE INDEX IF NOT EXISTS idx_candidates_scan ON trading_candidates(scan_id, selection_rank);

CREATE TABLE IF NOT EXISTS trading_cycles (
	cycle_id           TEXT PRIMARY KEY,
	started_at         DATETIME NOT NULL,
	ended_at           DATETIME,
	status             TEXT NOT NULL,
	mode               TEXT NOT NULL,
	failure_reason     TEXT,
	stages             TEXT NOT NULL DEFAULT '[]', -- JSON []StageRecord
	news_collected      INTEGER NOT NULL DEFAULT 0,
	candidates_selected INTEGER NOT NULL DEFAULT 0,
	patterns_analyzed   INTEGER NOT NULL DEFAULT 0,
	signals_generated   INTEGER NOT NULL DEFAULT 0,
	trades_executed     INTEGER NOT NULL DEFAULT 0,
	cycle_pnl           REAL NOT NULL DEFAULT 0,
	success_rate        REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS narrative_clusters (
	cluster_id          TEXT NOT NULL,
	symbol              TEXT NOT NULL,
	date                TEXT NOT NULL,
	categories          TEXT NOT NULL DEFAULT '[]', -- JSON
	article_count       INTEGER NOT NULL,
	distinct_sources    INTEGER NOT NULL,
	time_spread_hours   REAL NOT NULL,
	coordination_score  REAL NOT NULL,
	detected_at         DATETIME NOT NULL,
	operator_cluster_id TEXT,
	PRIMARY KEY (cluster_id, detected_at)
);
CREATE INDEX IF NOT EXISTS idx_clusters_detected ON narrative_clusters(detected_at DESC);

CREATE TABLE IF NOT EXISTS config_entries (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	modifier    TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at DATETIME NOT NULL
);
`

// SQLiteStore is the reference Port implementation.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex // serializes multi-row writes sqlite can't do concurrently
}

// NewSQLiteStore opens (or creates) the database at dsn and applies the
// schema. maxOpenConns bounds the pool (~20); sqlite itself is
// effectively single-writer so writes are additionally serialized by mu.
func NewSQLiteStore(logger *zap.Logger, dsn string, maxOpenConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store.NewSQLiteStore: open %q: %w", dsn, err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 20
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.NewSQLiteStore: apply schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger.Named("store")}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// UpsertNewsItem implements the single-writer-wins idempotent merge: on
// conflict, bump update_count, set last_seen, and union the
// ticker/keyword sets — original immutable fields are never overwritten.
func (s *SQLiteStore) UpsertNewsItem(ctx context.Context, item *newsmodel.NewsItem) (*newsmodel.NewsItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store.UpsertNewsItem: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.getNewsTx(ctx, tx, item.Fingerprint)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("store.UpsertNewsItem: lookup: %w", err)
	}

	now := time.Now()
	if existing == nil {
		item.CollectedAt = now
		item.LastSeen = now
		item.UpdateCount = 0
		if item.ConfirmationStatus == "" {
			item.ConfirmationStatus = newsmodel.ConfirmationUnconfirmed
		}
		if err := s.insertNewsTx(ctx, tx, item); err != nil {
			return nil, false, fmt.Errorf("store.UpsertNewsItem: insert: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("store.UpsertNewsItem: commit: %w", err)
		}
		return item, true, nil
	}

	existing.UpdateCount++
	existing.LastSeen = now
	existing.MentionedTickers = unionBool(existing.MentionedTickers, item.MentionedTickers)
	existing.Keywords = unionBool(existing.Keywords, item.Keywords)
	if existing.SentimentKeywords == nil {
		existing.SentimentKeywords = map[string]bool{}
	}
	for k, v := range item.SentimentKeywords {
		if v {
			existing.SentimentKeywords[k] = true
		}
	}

	if err := s.updateNewsMergeTx(ctx, tx, existing); err != nil {
		return nil, false, fmt.Errorf("store.UpsertNewsItem: merge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store.UpsertNewsItem: commit: %w", err)
	}
	return existing, false, nil
}

func unionBool(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k, v := range a {
		if v {
			out[k] = true
		}
	}
	for k, v := range b {
		if v {
			out[k] = true
		}
	}
	return out
}

func (s *SQLiteStore) GetNewsByFingerprint(ctx context.Context, fingerprint string) (*newsmodel.NewsItem, error) {
	item, err := s.getNewsTx(ctx, s.db, fingerprint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) getNewsTx(ctx context.Context, q queryer, fingerprint string) (*newsmodel.NewsItem, error) {
	row := q.QueryRowContext(ctx, `SELECT fingerprint, primary_symbol, headline, source, source_url,
		published_at, collected_at, content_snippet, keywords, mentioned_tickers, market_state,
		is_breaking_news, source_tier, cluster_id, sentiment_keywords, metadata, update_count,
		last_seen, confirmation_status, confirmed_by, confirmation_delay_minutes,
		price_move_1h, price_move_24h, volume_surge_ratio, was_accurate
		FROM news_raw WHERE fingerprint = ?`, fingerprint)
	return scanNewsItem(row)
}

func scanNewsItem(row *sql.Row) (*newsmodel.NewsItem, error) {
	var n newsmodel.NewsItem
	var primarySymbol, sourceURL, clusterID, confirmedBy sql.NullString
	var keywordsJSON, tickersJSON, sentimentJSON, metadataJSON string
	var isBreaking int
	var confirmationDelay sql.NullInt64
	var priceMove1h, priceMove24h, volumeSurge sql.NullFloat64
	var wasAccurate sql.NullInt64

	if err := row.Scan(&n.Fingerprint, &primarySymbol, &n.Headline, &n.Source, &sourceURL,
		&n.PublishedAt, &n.CollectedAt, &n.ContentSnippet, &keywordsJSON, &tickersJSON, &n.MarketState,
		&isBreaking, &n.SourceTier, &clusterID, &sentimentJSON, &metadataJSON, &n.UpdateCount,
		&n.LastSeen, &n.ConfirmationStatus, &confirmedBy, &confirmationDelay,
		&priceMove1h, &priceMove24h, &volumeSurge, &wasAccurate); err != nil {
		return nil, err
	}

	n.PrimarySymbol = primarySymbol.String
	n.SourceURL = sourceURL.String
	n.ClusterID = clusterID.String
	n.ConfirmedBy = confirmedBy.String
	n.IsBreakingNews = isBreaking != 0

	n.Keywords = decodeBoolSet(keywordsJSON)
	n.MentionedTickers = decodeBoolSet(tickersJSON)
	n.SentimentKeywords = decodeBoolSetStr(sentimentJSON)
	_ = json.Unmarshal([]byte(metadataJSON), &n.Metadata)

	if confirmationDelay.Valid {
		n.ConfirmationDelayMinutes = int(confirmationDelay.Int64)
	}
	if priceMove1h.Valid {
		v := priceMove1h.Float64
		n.PriceMove1h = decimalPtr(v)
	}
	if priceMove24h.Valid {
		v := priceMove24h.Float64
		n.PriceMove24h = decimalPtr(v)
	}
	if volumeSurge.Valid {
		v := volumeSurge.Float64
		n.VolumeSurgeRatio = decimalPtr(v)
	}
	if wasAccurate.Valid {
		b := wasAccurate.Int64 != 0
		n.WasAccurate = &b
	}
	return &n, nil
}

func decodeBoolSet(js string) map[newsmodel.KeywordCategory]bool {
	var raw map[string]bool
	_ = json.Unmarshal([]byte(js), &raw)
	out := make(map[newsmodel.KeywordCategory]bool, len(raw))
	for k, v := range raw {
		out[newsmodel.KeywordCategory(k)] = v
	}
	return out
}

func decodeBoolSetStr(js string) map[string]bool {
	var raw map[string]bool
	_ = json.Unmarshal([]byte(js), &raw)
	return raw
}

func (s *SQLiteStore) insertNewsTx(ctx context.Context, tx *sql.Tx, n *newsmodel.NewsItem) error {
	keywordsJSON, _ := json.Marshal(n.Keywords)
	tickersJSON, _ := json.Marshal(n.MentionedTickers)
	sentimentJSON, _ := json.Marshal(n.SentimentKeywords)
	metadataJSON, _ := json.Marshal(n.Metadata)

	_, err := tx.ExecContext(ctx, `INSERT INTO news_raw (fingerprint, primary_symbol, headline, source,
		source_url, published_at, collected_at, content_snippet, keywords, mentioned_tickers,
		market_state, is_breaking_news, source_tier, cluster_id, sentiment_keywords, metadata,
		update_count, last_seen, confirmation_status, confirmed_by, confirmation_delay_minutes,
		price_move_1h, price_move_24h, volume_surge_ratio, was_accurate)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.Fingerprint, n.PrimarySymbol, n.Headline, n.Source, n.SourceURL, n.PublishedAt,
		n.CollectedAt, n.ContentSnippet, string(keywordsJSON), string(tickersJSON), n.MarketState,
		boolToInt(n.IsBreakingNews), n.SourceTier, n.ClusterID, string(sentimentJSON), string(metadataJSON),
		n.UpdateCount, n.LastSeen, string(n.ConfirmationStatus), n.ConfirmedBy, nullableInt(n.ConfirmationDelayMinutes),
		nullableDecimalPtr(n.PriceMove1h), nullableDecimalPtr(n.PriceMove24h), nullableDecimalPtr(n.VolumeSurgeRatio),
		nullableBoolPtr(n.WasAccurate))
	return err
}

func (s *SQLiteStore) updateNewsMergeTx(ctx context.Context, tx *sql.Tx, n *newsmodel.NewsItem) error {
	keywordsJSON, _ := json.Marshal(n.Keywords)
	tickersJSON, _ := json.Marshal(n.MentionedTickers)
	sentimentJSON, _ := json.Marshal(n.SentimentKeywords)

	_, err := tx.ExecContext(ctx, `UPDATE news_raw SET keywords=?, mentioned_tickers=?,
		sentiment_keywords=?, update_count=?, last_seen=? WHERE fingerprint=?`,
		string(keywordsJSON), string(tickersJSON), string(sentimentJSON), n.UpdateCount, n.LastSeen, n.Fingerprint)
	return err
}

// UpdateNewsOutcome fills outcome fields that are still unset; a field that
// already holds a value is never rewritten, so re-applying an outcome leaves
// the row unchanged. (Collector.UpdateOutcome likewise skips the
// SourceMetrics bump for an article whose accuracy is already recorded.)
func (s *SQLiteStore) UpdateNewsOutcome(ctx context.Context, fingerprint string, outcome NewsOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE news_raw SET
		price_move_1h = COALESCE(price_move_1h, ?),
		price_move_24h = COALESCE(price_move_24h, ?),
		volume_surge_ratio = COALESCE(volume_surge_ratio, ?),
		was_accurate = COALESCE(was_accurate, ?)
		WHERE fingerprint = ?`,
		nullableFloatPtr(outcome.PriceMove1h), nullableFloatPtr(outcome.PriceMove24h),
		nullableFloatPtr(outcome.VolumeSurgeRatio), nullableBoolPtr(outcome.WasAccurate), fingerprint)
	if err != nil {
		return fmt.Errorf("store.UpdateNewsOutcome: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkConfirmed(ctx context.Context, fingerprint, confirmedBySource string, delayMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE news_raw SET confirmation_status=?, confirmed_by=?,
		confirmation_delay_minutes=? WHERE fingerprint=? AND confirmation_status != ?`,
		string(newsmodel.ConfirmationConfirmed), confirmedBySource, delayMinutes, fingerprint,
		string(newsmodel.ConfirmationConfirmed))
	if err != nil {
		return fmt.Errorf("store.MarkConfirmed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadNewsRange(ctx context.Context, since, until time.Time, filter NewsFilter) ([]*newsmodel.NewsItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT fingerprint, primary_symbol, headline, source, source_url,
		published_at, collected_at, content_snippet, keywords, mentioned_tickers, market_state,
		is_breaking_news, source_tier, cluster_id, sentiment_keywords, metadata, update_count,
		last_seen, confirmation_status, confirmed_by, confirmation_delay_minutes,
		price_move_1h, price_move_24h, volume_surge_ratio, was_accurate
		FROM news_raw WHERE published_at >= ? AND published_at <= ?`
	args := []any{since, until}

	if filter.Symbol != "" {
		query += " AND primary_symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.MinTier > 0 {
		query += " AND source_tier <= ?"
		args = append(args, filter.MinTier)
	}
	query += " ORDER BY published_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.ReadNewsRange: %w", err)
	}
	defer rows.Close()

	var items []*newsmodel.NewsItem
	for rows.Next() {
		item, err := scanNewsItemRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store.ReadNewsRange: scan: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanNewsItemRows(rows *sql.Rows) (*newsmodel.NewsItem, error) {
	var n newsmodel.NewsItem
	var primarySymbol, sourceURL, clusterID, confirmedBy sql.NullString
	var keywordsJSON, tickersJSON, sentimentJSON, metadataJSON string
	var isBreaking int
	var confirmationDelay sql.NullInt64
	var priceMove1h, priceMove24h, volumeSurge sql.NullFloat64
	var wasAccurate sql.NullInt64

	if err := rows.Scan(&n.Fingerprint, &primarySymbol, &n.Headline, &n.Source, &sourceURL,
		&n.PublishedAt, &n.CollectedAt, &n.ContentSnippet, &keywordsJSON, &tickersJSON, &n.MarketState,
		&isBreaking, &n.SourceTier, &clusterID, &sentimentJSON, &metadataJSON, &n.UpdateCount,
		&n.LastSeen, &n.ConfirmationStatus, &confirmedBy, &confirmationDelay,
		&priceMove1h, &priceMove24h, &volumeSurge, &wasAccurate); err != nil {
		return nil, err
	}
	n.PrimarySymbol = primarySymbol.String
	n.SourceURL = sourceURL.String
	n.ClusterID = clusterID.String
	n.ConfirmedBy = confirmedBy.String
	n.IsBreakingNews = isBreaking != 0
	n.Keywords = decodeBoolSet(keywordsJSON)
	n.MentionedTickers = decodeBoolSet(tickersJSON)
	n.SentimentKeywords = decodeBoolSetStr(sentimentJSON)
	_ = json.Unmarshal([]byte(metadataJSON), &n.Metadata)
	if confirmationDelay.Valid {
		n.ConfirmationDelayMinutes = int(confirmationDelay.Int64)
	}
	if priceMove1h.Valid {
		v := priceMove1h.Float64
		n.PriceMove1h = decimalPtr(v)
	}
	if priceMove24h.Valid {
		v := priceMove24h.Float64
		n.PriceMove24h = decimalPtr(v)
	}
	if volumeSurge.Valid {
		v := volumeSurge.Float64
		n.VolumeSurgeRatio = decimalPtr(v)
	}
	if wasAccurate.Valid {
		b := wasAccurate.Int64 != 0
		n.WasAccurate = &b
	}
	return &n, nil
}

// InsertCandidates persists a scan's ranked list atomically.
func (s *SQLiteStore) InsertCandidates(ctx context.Context, scanID string, candidates []*newsmodel.TradingCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.InsertCandidates: begin: %w", err)
	}
	defer tx.Rollback()

	for _, c := range candidates {
		keywordsJSON, _ := json.Marshal(c.CatalystKeywords)
		_, err := tx.ExecContext(ctx, `INSERT INTO trading_candidates (scan_id, symbol, selected_at,
			catalyst_score, news_count, primary_catalyst, catalyst_keywords, current_price, current_volume,
			relative_volume, price_change_pct, premarket_volume, premarket_change_pct, has_premarket_news,
			technical_score, combined_score, selection_rank, technical_validated, status)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			scanID, c.Symbol, c.SelectedAt, c.CatalystScore, c.NewsCount, string(c.PrimaryCatalyst),
			string(keywordsJSON), decimalFloat(c.CurrentPrice), decimalFloat(c.CurrentVolume),
			c.RelativeVolume, c.PriceChangePct, decimalFloat(c.PreMarketVolume), c.PreMarketChangePct,
			boolToInt(c.HasPreMarketNews), c.TechnicalScore, c.CombinedScore, c.SelectionRank,
			boolToInt(c.TechnicalValidated), c.Status)
		if err != nil {
			return fmt.Errorf("store.InsertCandidates: insert %s: %w", c.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store.InsertCandidates: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCandidates(ctx context.Context, scanID string) ([]*newsmodel.TradingCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, selected_at, catalyst_score, news_count,
		primary_catalyst, catalyst_keywords, current_price, current_volume, relative_volume,
		price_change_pct, premarket_volume, premarket_change_pct, has_premarket_news, technical_score,
		combined_score, selection_rank, technical_validated, status
		FROM trading_candidates WHERE scan_id = ? ORDER BY selection_rank ASC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("store.GetCandidates: %w", err)
	}
	defer rows.Close()

	var out []*newsmodel.TradingCandidate
	for rows.Next() {
		var c newsmodel.TradingCandidate
		var keywordsJSON string
		var hasPremarket, technicalValidated int
		var price, volume, premarketVolume float64
		c.ScanID = scanID
		if err := rows.Scan(&c.Symbol, &c.SelectedAt, &c.CatalystScore, &c.NewsCount, &c.PrimaryCatalyst,
			&keywordsJSON, &price, &volume, &c.RelativeVolume, &c.PriceChangePct, &premarketVolume,
			&c.PreMarketChangePct, &hasPremarket, &c.TechnicalScore, &c.CombinedScore, &c.SelectionRank,
			&technicalValidated, &c.Status); err != nil {
			return nil, fmt.Errorf("store.GetCandidates: scan: %w", err)
		}
		_ = json.Unmarshal([]byte(keywordsJSON), &c.CatalystKeywords)
		c.CurrentPrice = decimalFromFloat(price)
		c.CurrentVolume = decimalFromFloat(volume)
		c.PreMarketVolume = decimalFromFloat(premarketVolume)
		c.HasPreMarketNews = hasPremarket != 0
		c.TechnicalValidated = technicalValidated != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertCycle(ctx context.Context, cycle *newsmodel.TradingCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stagesJSON, _ := json.Marshal(cycle.Stages)
	_, err := s.db.ExecContext(ctx, `INSERT INTO trading_cycles (cycle_id, started_at, status, mode, stages)
		VALUES (?,?,?,?,?)`, cycle.CycleID, cycle.StartedAt, string(cycle.Status), string(cycle.Mode), string(stagesJSON))
	if err != nil {
		return fmt.Errorf("store.InsertCycle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCycleStage(ctx context.Context, cycleID string, stage newsmodel.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycle, err := s.getCycleTx(ctx, s.db, cycleID)
	if err != nil {
		return fmt.Errorf("store.UpdateCycleStage: lookup: %w", err)
	}
	replaced := false
	for i, existing := range cycle.Stages {
		if existing.Stage == stage.Stage && existing.EndedAt.IsZero() {
			cycle.Stages[i] = stage
			replaced = true
			break
		}
	}
	if !replaced {
		cycle.Stages = append(cycle.Stages, stage)
	}
	stagesJSON, _ := json.Marshal(cycle.Stages)

	_, err = s.db.ExecContext(ctx, `UPDATE trading_cycles SET stages=? WHERE cycle_id=?`, string(stagesJSON), cycleID)
	if err != nil {
		return fmt.Errorf("store.UpdateCycleStage: update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinalizeCycle(ctx context.Context, cycleID string, status newsmodel.CycleStatus, reason string, cycle *newsmodel.TradingCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stagesJSON, _ := json.Marshal(cycle.Stages)
	_, err := s.db.ExecContext(ctx, `UPDATE trading_cycles SET ended_at=?, status=?, failure_reason=?,
		stages=?, news_collected=?, candidates_selected=?, patterns_analyzed=?, signals_generated=?,
		trades_executed=?, cycle_pnl=?, success_rate=? WHERE cycle_id=?`,
		cycle.EndedAt, string(status), reason, string(stagesJSON), cycle.NewsCollected, cycle.CandidatesSelected,
		cycle.PatternsAnalyzed, cycle.SignalsGenerated, cycle.TradesExecuted, decimalFloat(cycle.CyclePnL),
		cycle.SuccessRate, cycleID)
	if err != nil {
		return fmt.Errorf("store.FinalizeCycle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCycle(ctx context.Context, cycleID string) (*newsmodel.TradingCycle, error) {
	return s.getCycleTx(ctx, s.db, cycleID)
}

func (s *SQLiteStore) getCycleTx(ctx context.Context, q queryer, cycleID string) (*newsmodel.TradingCycle, error) {
	row := q.QueryRowContext(ctx, `SELECT cycle_id, started_at, ended_at, status, mode, failure_reason,
		stages, news_collected, candidates_selected, patterns_analyzed, signals_generated, trades_executed,
		cycle_pnl, success_rate FROM trading_cycles WHERE cycle_id=?`, cycleID)

	var c newsmodel.TradingCycle
	var endedAt sql.NullTime
	var reason sql.NullString
	var stagesJSON string
	var pnl float64
	if err := row.Scan(&c.CycleID, &c.StartedAt, &endedAt, &c.Status, &c.Mode, &reason, &stagesJSON,
		&c.NewsCollected, &c.CandidatesSelected, &c.PatternsAnalyzed, &c.SignalsGenerated, &c.TradesExecuted,
		&pnl, &c.SuccessRate); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		c.EndedAt = endedAt.Time
	}
	c.FailureReason = reason.String
	c.CyclePnL = decimalFromFloat(pnl)
	_ = json.Unmarshal([]byte(stagesJSON), &c.Stages)
	return &c, nil
}

func (s *SQLiteStore) ReadConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config_entries WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store.ReadConfig: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) WriteConfig(ctx context.Context, key, value string, modifier ConfigModifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO config_entries (key, value, modifier, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, modifier=excluded.modifier, updated_at=excluded.updated_at`,
		key, value, string(modifier), time.Now())
	if err != nil {
		return fmt.Errorf("store.WriteConfig: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementSourceMetrics(ctx context.Context, delta SourceMetricsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.IncrementSourceMetrics: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO source_metrics (source, tier) VALUES (?,?)
		ON CONFLICT(source) DO NOTHING`, delta.Source, delta.Tier)
	if err != nil {
		return fmt.Errorf("store.IncrementSourceMetrics: seed: %w", err)
	}

	var total, confirmed, accurate, false_ int64
	var avgEarly float64
	var earlySamples int64
	var beneficiariesJSON string
	err = tx.QueryRowContext(ctx, `SELECT total_articles, confirmed_articles, accurate_articles,
		false_articles, avg_early_minutes, early_minutes_samples, frequent_beneficiaries
		FROM source_metrics WHERE source=?`, delta.Source).
		Scan(&total, &confirmed, &accurate, &false_, &avgEarly, &earlySamples, &beneficiariesJSON)
	if err != nil {
		return fmt.Errorf("store.IncrementSourceMetrics: read: %w", err)
	}

	total += delta.ArticlesDelta
	confirmed += delta.ConfirmedDelta
	accurate += delta.AccurateDelta
	false_ += delta.FalseDelta

	if delta.EarlyMinutesSample != nil {
		avgEarly = (avgEarly*float64(earlySamples) + *delta.EarlyMinutesSample) / float64(earlySamples+1)
		earlySamples++
	}

	beneficiaries := map[string]int{}
	_ = json.Unmarshal([]byte(beneficiariesJSON), &beneficiaries)
	if delta.Beneficiary != "" {
		beneficiaries[delta.Beneficiary]++
	}
	beneficiariesOut, _ := json.Marshal(beneficiaries)

	accuracyRate := 0.0
	if confirmed > 0 {
		accuracyRate = float64(accurate) / float64(confirmed)
	}

	_, err = tx.ExecContext(ctx, `UPDATE source_metrics SET total_articles=?, confirmed_articles=?,
		accurate_articles=?, false_articles=?, accuracy_rate=?, avg_early_minutes=?, early_minutes_samples=?,
		frequent_beneficiaries=? WHERE source=?`,
		total, confirmed, accurate, false_, accuracyRate, avgEarly, earlySamples, string(beneficiariesOut), delta.Source)
	if err != nil {
		return fmt.Errorf("store.IncrementSourceMetrics: update: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSourceMetrics(ctx context.Context, source string) (*newsmodel.SourceMetrics, error) {
	row := s.db.QueryRowContext(ctx, `SELECT source, tier, total_articles, confirmed_articles,
		accurate_articles, false_articles, accuracy_rate, avg_early_minutes, frequent_beneficiaries
		FROM source_metrics WHERE source=?`, source)
	return scanSourceMetrics(row)
}

func scanSourceMetrics(row *sql.Row) (*newsmodel.SourceMetrics, error) {
	var m newsmodel.SourceMetrics
	var beneficiariesJSON string
	if err := row.Scan(&m.Source, &m.Tier, &m.TotalArticles, &m.ConfirmedArticles, &m.AccurateArticles,
		&m.FalseArticles, &m.AccuracyRate, &m.AvgEarlyMinutes, &beneficiariesJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.FrequentBeneficiaries = map[string]int{}
	_ = json.Unmarshal([]byte(beneficiariesJSON), &m.FrequentBeneficiaries)
	return &m, nil
}

func (s *SQLiteStore) ListSourceMetrics(ctx context.Context) ([]*newsmodel.SourceMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, tier, total_articles, confirmed_articles,
		accurate_articles, false_articles, accuracy_rate, avg_early_minutes, frequent_beneficiaries
		FROM source_metrics`)
	if err != nil {
		return nil, fmt.Errorf("store.ListSourceMetrics: %w", err)
	}
	defer rows.Close()

	var out []*newsmodel.SourceMetrics
	for rows.Next() {
		var m newsmodel.SourceMetrics
		var beneficiariesJSON string
		if err := rows.Scan(&m.Source, &m.Tier, &m.TotalArticles, &m.ConfirmedArticles, &m.AccurateArticles,
			&m.FalseArticles, &m.AccuracyRate, &m.AvgEarlyMinutes, &beneficiariesJSON); err != nil {
			return nil, fmt.Errorf("store.ListSourceMetrics: scan: %w", err)
		}
		m.FrequentBeneficiaries = map[string]int{}
		_ = json.Unmarshal([]byte(beneficiariesJSON), &m.FrequentBeneficiaries)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertNarrativeCluster(ctx context.Context, cluster *newsmodel.NarrativeCluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	categoriesJSON, _ := json.Marshal(cluster.Categories)
	_, err := s.db.ExecContext(ctx, `INSERT INTO narrative_clusters (cluster_id, symbol, date, categories,
		article_count, distinct_sources, time_spread_hours, coordination_score, detected_at, operator_cluster_id)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		cluster.ClusterID, cluster.Symbol, cluster.Date, string(categoriesJSON), cluster.ArticleCount,
		cluster.DistinctSources, cluster.TimeSpreadHours, cluster.CoordinationScore, cluster.DetectedAt,
		cluster.OperatorClusterID)
	if err != nil {
		return fmt.Errorf("store.InsertNarrativeCluster: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNarrativeClusters(ctx context.Context, since time.Time) ([]*newsmodel.NarrativeCluster, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cluster_id, symbol, date, categories, article_count,
		distinct_sources, time_spread_hours, coordination_score, detected_at, operator_cluster_id
		FROM narrative_clusters WHERE detected_at >= ? ORDER BY detected_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("store.ListNarrativeClusters: %w", err)
	}
	defer rows.Close()

	var out []*newsmodel.NarrativeCluster
	for rows.Next() {
		var c newsmodel.NarrativeCluster
		var categoriesJSON string
		var operatorID sql.NullString
		if err := rows.Scan(&c.ClusterID, &c.Symbol, &c.Date, &categoriesJSON, &c.ArticleCount,
			&c.DistinctSources, &c.TimeSpreadHours, &c.CoordinationScore, &c.DetectedAt, &operatorID); err != nil {
			return nil, fmt.Errorf("store.ListNarrativeClusters: scan: %w", err)
		}
		_ = json.Unmarshal([]byte(categoriesJSON), &c.Categories)
		c.OperatorClusterID = operatorID.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache_entries WHERE key=?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store.CacheGet: %w", err)
	}
	if time.Now().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key=?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO cache_entries (key, value, expires_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, value, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("store.CacheSet: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CacheInvalidatePattern(ctx context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key LIKE ?`, pattern)
	if err != nil {
		return fmt.Errorf("store.CacheInvalidatePattern: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	return boolToInt(*v)
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func decimalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func nullableDecimalPtr(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	f, _ := v.Float64()
	return f
}
