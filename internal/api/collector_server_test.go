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

	"github.com/TradingApplication/catalyst-trading-system/internal/collector"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"go.uber.org/zap"
)

func newCollectorServerForTest(t *testing.T) (*CollectorServer, *store.SQLiteStore) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "collector_api_test.db")
	st, err := store.NewSQLiteStore(zap.NewNop(), dsn, 5)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	coll := collector.New(zap.NewNop(), st, nil, newsmodel.DefaultLexicon(), newsmodel.DefaultSessionWindows(time.UTC), collector.DefaultConfig())
	return NewCollectorServer(zap.NewNop(), DefaultServerConfig(0), coll, st, nil), st
}

func TestCollectorServerHealthEndpoint(t *testing.T) {
	s, _ := newCollectorServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["service"] != "news_collector" {
		t.Errorf("service = %v, want news_collector", body["service"])
	}
}

func TestCollectorServerCollectNewsWithNoSourcesReturnsZeroCounts(t *testing.T) {
	s, _ := newCollectorServerForTest(t)
	req := httptest.NewRequest(http.MethodPost, "/collect_news", strings.NewReader(`{"mode":"normal"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["new"].(float64) != 0 {
		t.Errorf("new = %v, want 0 with no registered sources", body["new"])
	}
}

func TestCollectorServerSearchNewsReturnsSeededItem(t *testing.T) {
	s, st := newCollectorServerForTest(t)
	item := &newsmodel.NewsItem{
		Fingerprint:   newsmodel.Fingerprint("ACME beats earnings", "wire-a", time.Now()),
		PrimarySymbol: "ACME",
		Headline:      "ACME beats earnings",
		Source:        "wire-a",
		PublishedAt:   time.Now(),
		CollectedAt:   time.Now(),
		MarketState:   newsmodel.MarketStateRegular,
		SourceTier:    1,
	}
	if _, _, err := st.UpsertNewsItem(context.Background(), item); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search_news?symbol=ACME&limit=10", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestCollectorServerUpdateOutcomeAppliesToStore(t *testing.T) {
	s, st := newCollectorServerForTest(t)
	item := &newsmodel.NewsItem{
		Fingerprint:   newsmodel.Fingerprint("WIDGE guidance cut", "wire-b", time.Now()),
		PrimarySymbol: "WIDGE",
		Headline:      "WIDGE guidance cut",
		Source:        "wire-b",
		PublishedAt:   time.Now(),
		CollectedAt:   time.Now(),
		MarketState:   newsmodel.MarketStateRegular,
		SourceTier:    2,
	}
	if _, _, err := st.UpsertNewsItem(context.Background(), item); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	body := `{"newsId":"` + item.Fingerprint + `","wasAccurate":true}`
	req := httptest.NewRequest(http.MethodPost, "/update_outcome", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCollectorServerSourceAnalysisUnknownSourceReturnsNull(t *testing.T) {
	s, _ := newCollectorServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/source_analysis?source=does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("body = %q, want null for an unknown source", rec.Body.String())
	}
}
