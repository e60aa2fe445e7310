package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator"
	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator/collaborators"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"go.uber.org/zap"
)

func newCoordinatorServerForTest(t *testing.T) *CoordinatorServer {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "coordinator_api_test.db")
	st, err := store.NewSQLiteStore(zap.NewNop(), dsn, 5)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	collab := coordinator.Collaborators{
		News:      collaborators.NewNewsClient("http://127.0.0.1:0", time.Second),
		Scanner:   collaborators.NewScannerClient("http://127.0.0.1:0", time.Second),
		Pattern:   collaborators.NewPatternClient("http://127.0.0.1:0", time.Second),
		Technical: collaborators.NewTechnicalClient("http://127.0.0.1:0", time.Second),
		Trading:   collaborators.NewTradingClient("http://127.0.0.1:0", time.Second),
	}
	co := coordinator.New(zap.NewNop(), st, nil, collab, coordinator.DefaultConfig(), coordinator.DefaultScheduleWindows(time.UTC))
	return NewCoordinatorServer(zap.NewNop(), DefaultServerConfig(0), co, nil)
}

func TestCoordinatorServerCurrentCycleIdleReportsInactive(t *testing.T) {
	s := newCoordinatorServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/current_cycle", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if active, _ := body["active"].(bool); active {
		t.Error("expected active=false with no cycle running")
	}
}

func TestCoordinatorServerGetCycleRequiresID(t *testing.T) {
	s := newCoordinatorServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/get_cycle", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestCoordinatorServerServiceHealthReportsUnavailableWithUnreachableCollaborators(t *testing.T) {
	s := newCoordinatorServerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/service_health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusServiceUnavailable, rec.Body.String())
	}
}

func TestCoordinatorServerUpdateConfigRequiresKey(t *testing.T) {
	s := newCoordinatorServerForTest(t)
	req := httptest.NewRequest(http.MethodPost, "/workflow_config", strings.NewReader(`{"value":"40"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestCoordinatorServerUpdateConfigAppliesDefaultModifier(t *testing.T) {
	s := newCoordinatorServerForTest(t)
	req := httptest.NewRequest(http.MethodPost, "/workflow_config", strings.NewReader(`{"key":"min_catalyst_score","value":"40"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCoordinatorServerStartCycleAccepted(t *testing.T) {
	s := newCoordinatorServerForTest(t)
	req := httptest.NewRequest(http.MethodPost, "/start_trading_cycle", strings.NewReader(`{"mode":"normal"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	// The cycle's background goroutine keeps running against unreachable
	// collaborators; wait for it to fail out before the store closes.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/current_cycle", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		var body map[string]any
		json.Unmarshal(rec.Body.Bytes(), &body)
		if active, _ := body["active"].(bool); !active {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background cycle did not reach a terminal state in time")
}
