package api

// coordinator_server.go wires the Cycle Coordinator process's HTTP surface
// (port 5000): cycle control, live cycle view, collaborator
// health, and the single writable configuration path.

import (
	"context"
	"net/http"
	"strconv"

	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CoordinatorServer is the Cycle Coordinator's HTTP/WebSocket server.
type CoordinatorServer struct {
	logger      *zap.Logger
	cfg         ServerConfig
	router      *mux.Router
	httpSrv     *http.Server
	coordinator *coordinator.Coordinator
	hub         *Hub
	metrics     *Metrics
}

// NewCoordinatorServer constructs the Cycle Coordinator server and wires
// its routes.
func NewCoordinatorServer(logger *zap.Logger, cfg ServerConfig, co *coordinator.Coordinator, bus *events.EventBus) *CoordinatorServer {
	s := &CoordinatorServer{
		logger:      logger.Named("coordinator-api"),
		cfg:         cfg,
		router:      mux.NewRouter(),
		coordinator: co,
		hub:         NewHub(logger.Named("coordinator-ws")),
		metrics:     NewMetrics("coordinator"),
	}
	if bus != nil {
		s.hub.SubscribeEventBus(bus)
	}
	s.setupRoutes()
	return s
}

func (s *CoordinatorServer) setupRoutes() {
	s.router.Use(loggingMiddleware(s.logger))

	s.router.HandleFunc("/health", healthHandler("coordinator")).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttpOpts)).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/start_trading_cycle", s.handleStartCycle).Methods(http.MethodPost)
	s.router.HandleFunc("/cancel_cycle", s.handleCancelCycle).Methods(http.MethodPost)
	s.router.HandleFunc("/current_cycle", s.handleCurrentCycle).Methods(http.MethodGet)
	s.router.HandleFunc("/get_cycle", s.handleGetCycle).Methods(http.MethodGet)
	s.router.HandleFunc("/service_health", s.handleServiceHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/workflow_config", s.handleUpdateConfig).Methods(http.MethodPost)
}

// Start begins serving on cfg.Host:cfg.Port. Blocks until the server stops.
func (s *CoordinatorServer) Start() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      corsHandler(s.router),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("coordinator listening", zap.String("addr", addr))
	go s.hub.Run()
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *CoordinatorServer) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return Shutdown(ctx, s.httpSrv)
}

func (s *CoordinatorServer) handleStartCycle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}
	mode := newsmodel.CycleMode(body.Mode)
	if mode == "" {
		mode = newsmodel.ModeNormal
	}

	view, err := s.coordinator.StartCycle(r.Context(), mode)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.CyclesStarted.Inc()
	s.metrics.ActiveCycles.Set(1)
	writeJSON(w, http.StatusAccepted, view)
}

func (s *CoordinatorServer) handleCancelCycle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CycleID string `json:"cycle_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.CycleID == "" {
		writeError(w, s.logger, coreValidationErr("cycle_id is required"))
		return
	}
	if err := s.coordinator.CancelCycle(body.CycleID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelling", "cycleId": body.CycleID})
}

func (s *CoordinatorServer) handleCurrentCycle(w http.ResponseWriter, r *http.Request) {
	view := s.coordinator.GetCurrentCycle()
	if view == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *CoordinatorServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycle_id")
	if cycleID == "" {
		writeError(w, s.logger, coreValidationErr("cycle_id is required"))
		return
	}
	view, err := s.coordinator.GetCycle(r.Context(), cycleID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *CoordinatorServer) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	report := s.coordinator.ServiceHealth(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *CoordinatorServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		Modifier string `json:"modifier"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.Key == "" {
		writeError(w, s.logger, coreValidationErr("key is required"))
		return
	}
	if body.Modifier == "" {
		body.Modifier = "operator"
	}

	if err := s.coordinator.UpdateConfig(r.Context(), body.Key, body.Value, store.ConfigModifier(body.Modifier)); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "key": body.Key})
}

func (s *CoordinatorServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	serveWebSocket(s.hub, w, r, s.logger)
}
