package coordinator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator"
	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator/collaborators"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"go.uber.org/zap"
)

// TestStartCycleCountersMatchScenarioD covers Scenario D's exact stage
// counters: news collected, candidates selected, patterns analyzed, signals
// generated and trades executed all line up through a full run.
func TestStartCycleCountersMatchScenarioD(t *testing.T) {
	st := newTestStore(t)

	news := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/collect_news":
			jsonHandler(t, collaborators.CollectionReport{Articles: 200, New: 200})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer news.Close()

	scanner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/scan":
			candidates := make([]collaborators.CandidatePayload, 0, 5)
			symbols := []string{"AAAA", "BBBB", "CCCC", "DDDD", "EEEE"}
			for i, sym := range symbols {
				candidates = append(candidates, collaborators.CandidatePayload{
					ScanID: "scn_d", Symbol: sym, SelectionRank: i + 1, CombinedScore: 70, CatalystScore: 60,
				})
			}
			jsonHandler(t, collaborators.ScanResultPayload{ScanID: "scn_d", Candidates: candidates})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer scanner.Close()

	pattern := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/analyze":
			jsonHandler(t, collaborators.PatternRecord{Symbol: "AAAA", ScanID: "scn_d", Pattern: "breakout", Confidence: 0.8})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer pattern.Close()

	signalCalls := 0
	technical := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/signal":
			signalCalls++
			if signalCalls <= 3 {
				jsonHandler(t, collaborators.SignalRecord{Symbol: "AAAA", ScanID: "scn_d", Direction: "long", Confidence: 0.9})(w, r)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer technical.Close()

	trading := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/execute":
			jsonHandler(t, map[string]string{"tradeId": "trd_d"})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer trading.Close()

	collab := coordinator.Collaborators{
		News:      collaborators.NewNewsClient(news.URL, time.Second),
		Scanner:   collaborators.NewScannerClient(scanner.URL, time.Second),
		Pattern:   collaborators.NewPatternClient(pattern.URL, time.Second),
		Technical: collaborators.NewTechnicalClient(technical.URL, time.Second),
		Trading:   collaborators.NewTradingClient(trading.URL, time.Second),
	}

	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	co := coordinator.New(zap.NewNop(), st, bus, collab, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))

	view, err := co.StartCycle(context.Background(), newsmodel.ModeNormal)
	if err != nil {
		t.Fatalf("StartCycle failed: %v", err)
	}

	final := waitForTerminalCycle(t, co, view.CycleID)
	if final.Status != newsmodel.CycleCompleted {
		t.Fatalf("expected cycle to complete, got status=%s reason=%s", final.Status, final.FailureReason)
	}
	if final.NewsCollected != 200 {
		t.Errorf("NewsCollected = %d, want 200", final.NewsCollected)
	}
	if final.CandidatesSelected != 5 {
		t.Errorf("CandidatesSelected = %d, want 5", final.CandidatesSelected)
	}
	if final.PatternsAnalyzed != 5 {
		t.Errorf("PatternsAnalyzed = %d, want 5", final.PatternsAnalyzed)
	}
	if final.SignalsGenerated != 3 {
		t.Errorf("SignalsGenerated = %d, want 3", final.SignalsGenerated)
	}
	if final.TradesExecuted != 3 {
		t.Errorf("TradesExecuted = %d, want 3", final.TradesExecuted)
	}
}

// TestCancelCycleMarksFailedWithCancelledReason covers Scenario F: an
// operator-initiated cancel mid-Analyze propagates to the in-flight stage
// call and the cycle ends up failed with reason "cancelled".
func TestCancelCycleMarksFailedWithCancelledReason(t *testing.T) {
	st := newTestStore(t)

	news := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/collect_news":
			jsonHandler(t, collaborators.CollectionReport{Articles: 1, New: 1})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer news.Close()

	scanner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/scan":
			jsonHandler(t, collaborators.ScanResultPayload{
				ScanID: "scn_f",
				Candidates: []collaborators.CandidatePayload{
					{ScanID: "scn_f", Symbol: "SLOW", SelectionRank: 1, CombinedScore: 80, CatalystScore: 75},
				},
			})(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer scanner.Close()

	analyzeStarted := make(chan struct{}, 1)
	pattern := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/analyze":
			select {
			case analyzeStarted <- struct{}{}:
			default:
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Second):
				jsonHandler(t, collaborators.PatternRecord{Symbol: "SLOW", ScanID: "scn_f", Pattern: "breakout", Confidence: 0.8})(w, r)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer pattern.Close()

	collab := coordinator.Collaborators{
		News:      collaborators.NewNewsClient(news.URL, time.Second),
		Scanner:   collaborators.NewScannerClient(scanner.URL, time.Second),
		Pattern:   collaborators.NewPatternClient(pattern.URL, 10*time.Second),
		Technical: collaborators.NewTechnicalClient("http://127.0.0.1:0", time.Second),
		Trading:   collaborators.NewTradingClient("http://127.0.0.1:0", time.Second),
	}

	bus := events.NewEventBus(zap.NewNop(), events.DefaultEventBusConfig())
	defer bus.Stop()

	co := coordinator.New(zap.NewNop(), st, bus, collab, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))

	view, err := co.StartCycle(context.Background(), newsmodel.ModeNormal)
	if err != nil {
		t.Fatalf("StartCycle failed: %v", err)
	}

	select {
	case <-analyzeStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("analyze stage never started")
	}

	if err := co.CancelCycle(view.CycleID); err != nil {
		t.Fatalf("CancelCycle failed: %v", err)
	}

	final := waitForTerminalCycle(t, co, view.CycleID)
	if final.Status != newsmodel.CycleFailed {
		t.Fatalf("expected cancelled cycle to end failed, got status=%s", final.Status)
	}
	if final.FailureReason != "cancelled" {
		t.Errorf("FailureReason = %q, want %q", final.FailureReason, "cancelled")
	}
}

// TestCancelCycleUnknownIDNotFound covers the operator cancelling a cycle
// ID that is not the currently active one.
func TestCancelCycleUnknownIDNotFound(t *testing.T) {
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

	if err := co.CancelCycle("cyc_does_not_exist"); err == nil {
		t.Error("expected not-found error cancelling an unknown cycle id")
	}
}
