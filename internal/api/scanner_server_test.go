package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/scanner"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"github.com/TradingApplication/catalyst-trading-system/pkg/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newScannerServerForTest(t *testing.T) (*ScannerServer, *store.SQLiteStore, *marketdata.FakeClient) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "scanner_api_test.db")
	st, err := store.NewSQLiteStore(zap.NewNop(), dsn, 5)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	market := marketdata.NewFakeClient()
	// A single seeded article scores about 1.5, below the default catalyst
	// floor of 30, so the floor is lowered for these endpoint tests.
	cfg := scanner.DefaultConfig()
	cfg.MinCatalystScore = 0.1
	sc := scanner.New(zap.NewNop(), st, market, nil, cfg, time.UTC)
	return NewScannerServer(zap.NewNop(), DefaultServerConfig(0), sc, nil), st, market
}

func TestScannerServerHealthEndpoint(t *testing.T) {
	s, _, _ := newScannerServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestScannerServerScanSymbolsUppercasesAndRanks(t *testing.T) {
	s, st, market := newScannerServerForTest(t)
	item := &newsmodel.NewsItem{
		Fingerprint:   newsmodel.Fingerprint("ACME receives FDA approval", "wire-a", time.Now()),
		PrimarySymbol: "ACME",
		Headline:      "ACME receives FDA approval",
		Source:        "wire-a",
		PublishedAt:   time.Now(),
		CollectedAt:   time.Now(),
		Keywords:      map[newsmodel.KeywordCategory]bool{newsmodel.CategoryFDA: true},
		MarketState:   newsmodel.MarketStateRegular,
		SourceTier:    1,
	}
	if _, _, err := st.UpsertNewsItem(context.Background(), item); err != nil {
		t.Fatalf("seed news: %v", err)
	}
	market.Seed(marketdata.Snapshot{
		Symbol: "ACME", Price: decimal.NewFromInt(20), Volume: decimal.NewFromInt(1_000_000),
		RelativeVolume: 3.0, PriceChangePct: 8,
	})

	req := httptest.NewRequest(http.MethodPost, "/scan_symbols", strings.NewReader(`{"symbols":["acme"]}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	candidates, _ := body["candidates"].([]any)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %s", len(candidates), rec.Body.String())
	}
}

func TestScannerServerGetScanResultsRequiresScanID(t *testing.T) {
	s, _, _ := newScannerServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/get_scan_results", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestScannerServerGetScanResultsUnknownIDNotFound(t *testing.T) {
	s, _, _ := newScannerServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/get_scan_results?scan_id=scn_missing", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusNotFound, rec.Body.String())
	}
}
