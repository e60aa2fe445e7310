package coordinator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator"
	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator/collaborators"
	"github.com/TradingApplication/catalyst-trading-system/internal/coreerrs"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "coordinator_test.db")
	st, err := store.NewSQLiteStore(zap.NewNop(), dsn, 5)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func jsonHandler(t *testing.T, payload any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode stub response: %v", err)
		}
	}
}

// happyPathCollaborators wires every collaborator client to its own
// httptest server, each returning one candidate/pattern/signal/trade so a
// full six-stage cycle reaches CycleCompleted.
func happyPathCollaborators(t *testing.T) (coordinator.Collaborators, func()) {
	t.Helper()

	news := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/collect_news":
			jsonHandler(t, collaborators.CollectionReport{Articles: 3, New: 2, Duplicate: 1})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	scanner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/scan":
			jsonHandler(t, collaborators.ScanResultPayload{
				ScanID: "scn_1",
				Candidates: []collaborators.CandidatePayload{
					{ScanID: "scn_1", Symbol: "ACME", SelectionRank: 1, CombinedScore: 80, CatalystScore: 75},
				},
			})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	pattern := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/analyze":
			jsonHandler(t, collaborators.PatternRecord{Symbol: "ACME", ScanID: "scn_1", Pattern: "breakout", Confidence: 0.8})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	technical := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/signal":
			jsonHandler(t, collaborators.SignalRecord{Symbol: "ACME", ScanID: "scn_1", Direction: "long", Confidence: 0.9})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	trading := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/execute":
			jsonHandler(t, map[string]string{"tradeId": "trd_1"})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	collab := coordinator.Collaborators{
		News:      collaborators.NewNewsClient(news.URL, time.Second),
		Scanner:   collaborators.NewScannerClient(scanner.URL, time.Second),
		Pattern:   collaborators.NewPatternClient(pattern.URL, time.Second),
		Technical: collaborators.NewTechnicalClient(technical.URL, time.Second),
		Trading:   collaborators.NewTradingClient(trading.URL, time.Second),
	}
	closeAll := func() {
		news.Close()
		scanner.Close()
		pattern.Close()
		technical.Close()
		trading.Close()
	}
	return collab, closeAll
}

func waitForTerminalCycle(t *testing.T, co *coordinator.Coordinator, cycleID string) *coordinator.CycleView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := co.GetCycle(context.Background(), cycleID)
		if err == nil && (view.Status == newsmodel.CycleCompleted || view.Status == newsmodel.CycleFailed) {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cycle %s did not reach a terminal state in time", cycleID)
	return nil
}

func TestStartCycleRunsAllStagesToCompletion(t *testing.T) {
	st := newTestStore(t)
	collab, closeAll := happyPathCollaborators(t)
	defer closeAll()

	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	co := coordinator.New(zap.NewNop(), st, bus, collab, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))

	view, err := co.StartCycle(context.Background(), newsmodel.ModeNormal)
	if err != nil {
		t.Fatalf("StartCycle failed: %v", err)
	}

	final := waitForTerminalCycle(t, co, view.CycleID)
	if final.Status != newsmodel.CycleCompleted {
		t.Fatalf("expected cycle to complete, got status=%s", final.Status)
	}
	if final.NewsCollected != 2 {
		t.Errorf("NewsCollected = %d, want 2", final.NewsCollected)
	}
	if final.CandidatesSelected != 1 {
		t.Errorf("CandidatesSelected = %d, want 1", final.CandidatesSelected)
	}
	if final.PatternsAnalyzed != 1 {
		t.Errorf("PatternsAnalyzed = %d, want 1", final.PatternsAnalyzed)
	}
	if final.SignalsGenerated != 1 {
		t.Errorf("SignalsGenerated = %d, want 1", final.SignalsGenerated)
	}
	if final.TradesExecuted != 1 {
		t.Errorf("TradesExecuted = %d, want 1", final.TradesExecuted)
	}
}

func TestStartCycleReturnsBusyWhileOneIsActive(t *testing.T) {
	st := newTestStore(t)
	collab, closeAll := happyPathCollaborators(t)
	defer closeAll()

	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	co := coordinator.New(zap.NewNop(), st, bus, collab, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))

	first, err := co.StartCycle(context.Background(), newsmodel.ModeNormal)
	if err != nil {
		t.Fatalf("first StartCycle failed: %v", err)
	}

	_, err = co.StartCycle(context.Background(), newsmodel.ModeNormal)
	if err == nil {
		t.Fatal("expected second concurrent StartCycle to fail with Busy")
	}
	if !coreerrs.Is(err, coreerrs.KindBusy) {
		t.Errorf("expected KindBusy, got %v", err)
	}

	waitForTerminalCycle(t, co, first.CycleID)
}

func TestCollectStageFailureFailsCycleWithoutRunningLaterStages(t *testing.T) {
	st := newTestStore(t)

	news := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer news.Close()
	scanCalled := false
	scanner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		scanCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer scanner.Close()

	collab := coordinator.Collaborators{
		News:      collaborators.NewNewsClient(news.URL, 200*time.Millisecond),
		Scanner:   collaborators.NewScannerClient(scanner.URL, 200*time.Millisecond),
		Pattern:   collaborators.NewPatternClient("http://127.0.0.1:0", 200*time.Millisecond),
		Technical: collaborators.NewTechnicalClient("http://127.0.0.1:0", 200*time.Millisecond),
		Trading:   collaborators.NewTradingClient("http://127.0.0.1:0", 200*time.Millisecond),
	}

	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	cfg := coordinator.DefaultConfig()
	co := coordinator.New(zap.NewNop(), st, bus, collab, cfg, coordinator.DefaultScheduleWindows(time.UTC))

	view, err := co.StartCycle(context.Background(), newsmodel.ModeNormal)
	if err != nil {
		t.Fatalf("StartCycle failed: %v", err)
	}

	final := waitForTerminalCycle(t, co, view.CycleID)
	if final.Status != newsmodel.CycleFailed {
		t.Fatalf("expected cycle to fail when Collect fails, got status=%s", final.Status)
	}
	if scanCalled {
		t.Error("Scan stage must not run after Collect fails")
	}
}

func TestGetCycleUnknownIDNotFound(t *testing.T) {
	st := newTestStore(t)
	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	co := coordinator.New(zap.NewNop(), st, bus, coordinator.Collaborators{
		News:      collaborators.NewNewsClient("http://127.0.0.1:0", time.Second),
		Scanner:   collaborators.NewScannerClient("http://127.0.0.1:0", time.Second),
		Pattern:   collaborators.NewPatternClient("http://127.0.0.1:0", time.Second),
		Technical: collaborators.NewTechnicalClient("http://127.0.0.1:0", time.Second),
		Trading:   collaborators.NewTradingClient("http://127.0.0.1:0", time.Second),
	}, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))

	if _, err := co.GetCycle(context.Background(), "cyc_does_not_exist"); err == nil {
		t.Error("expected not-found error for unknown cycle id")
	} else if !coreerrs.Is(err, coreerrs.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestServiceHealthReportsEachCollaborator(t *testing.T) {
	st := newTestStore(t)
	collab, closeAll := happyPathCollaborators(t)
	defer closeAll()

	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	co := coordinator.New(zap.NewNop(), st, bus, collab, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))

	report := co.ServiceHealth(context.Background())
	if !report.Healthy {
		t.Fatalf("expected all collaborators healthy, got %+v", report.Services)
	}
	for _, name := range []string{"news_collector", "scanner", "pattern", "technical", "trading"} {
		if status, ok := report.Services[name]; !ok || status != "ok" {
			t.Errorf("expected %q to report ok, got %q (present=%v)", name, status, ok)
		}
	}
}

func TestUpdateConfigWritesThroughStore(t *testing.T) {
	st := newTestStore(t)
	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	co := coordinator.New(zap.NewNop(), st, bus, coordinator.Collaborators{
		News:      collaborators.NewNewsClient("http://127.0.0.1:0", time.Second),
		Scanner:   collaborators.NewScannerClient("http://127.0.0.1:0", time.Second),
		Pattern:   collaborators.NewPatternClient("http://127.0.0.1:0", time.Second),
		Technical: collaborators.NewTechnicalClient("http://127.0.0.1:0", time.Second),
		Trading:   collaborators.NewTradingClient("http://127.0.0.1:0", time.Second),
	}, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))

	if err := co.UpdateConfig(context.Background(), "min_catalyst_score", "40", store.ConfigModifier("operator")); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
}
