package collaborators_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator/collaborators"
	"github.com/TradingApplication/catalyst-trading-system/internal/coreerrs"
)

func TestNewsClientCollectRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"articles":5,"new":4,"duplicate":1}`))
	}))
	defer srv.Close()

	c := collaborators.NewNewsClient(srv.URL, 2*time.Second)
	report, err := c.Collect(context.Background(), "normal")
	if err != nil {
		t.Fatalf("Collect failed after retry: %v", err)
	}
	if report.New != 4 {
		t.Errorf("New = %d, want 4", report.New)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestNewsClientCollectExhaustsRetriesAsTransientNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := collaborators.NewNewsClient(srv.URL, 2*time.Second)
	_, err := c.Collect(context.Background(), "normal")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if !coreerrs.Is(err, coreerrs.KindTransientNetwork) {
		t.Errorf("expected KindTransientNetwork, got %v", err)
	}
}

func TestTechnicalClientSignalReturnsNilOnNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := collaborators.NewTechnicalClient(srv.URL, 2*time.Second)
	sig, err := c.Signal(context.Background(), collaborators.PatternRecord{Symbol: "ACME", ScanID: "scn_1"})
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if sig != nil {
		t.Errorf("expected nil signal on 204, got %+v", sig)
	}
}

func TestHealthCheckerNameIdentifiesEachCollaborator(t *testing.T) {
	cases := []struct {
		checker collaborators.HealthChecker
		want    string
	}{
		{collaborators.NewNewsClient("http://127.0.0.1:0", time.Second), "news_collector"},
		{collaborators.NewScannerClient("http://127.0.0.1:0", time.Second), "scanner"},
		{collaborators.NewPatternClient("http://127.0.0.1:0", time.Second), "pattern"},
		{collaborators.NewTechnicalClient("http://127.0.0.1:0", time.Second), "technical"},
		{collaborators.NewTradingClient("http://127.0.0.1:0", time.Second), "trading"},
	}
	for _, tc := range cases {
		if got := tc.checker.Name(); got != tc.want {
			t.Errorf("Name() = %q, want %q", got, tc.want)
		}
	}
}

func TestHealthReturnsDependencyDownWhenUnreachable(t *testing.T) {
	c := collaborators.NewNewsClient("http://127.0.0.1:1", time.Second)
	err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error probing an unreachable address")
	}
	if !coreerrs.Is(err, coreerrs.KindDependencyDown) {
		t.Errorf("expected KindDependencyDown, got %v", err)
	}
}
