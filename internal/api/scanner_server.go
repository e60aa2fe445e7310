package api

// scanner_server.go wires the Catalyst Scanner process's HTTP surface
// (port 5001): a scan trigger, symbol-scoped scan, and scan
// result lookup.

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/scanner"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ScannerServer is the Catalyst Scanner's HTTP/WebSocket server.
type ScannerServer struct {
	logger  *zap.Logger
	cfg     ServerConfig
	router  *mux.Router
	httpSrv *http.Server
	scanner *scanner.Scanner
	hub     *Hub
	metrics *Metrics
}

// NewScannerServer constructs the Catalyst Scanner server and wires its
// routes.
func NewScannerServer(logger *zap.Logger, cfg ServerConfig, sc *scanner.Scanner, bus *events.EventBus) *ScannerServer {
	s := &ScannerServer{
		logger:  logger.Named("scanner-api"),
		cfg:     cfg,
		router:  mux.NewRouter(),
		scanner: sc,
		hub:     NewHub(logger.Named("scanner-ws")),
		metrics: NewMetrics("scanner"),
	}
	if bus != nil {
		s.hub.SubscribeEventBus(bus)
	}
	s.setupRoutes()
	return s
}

func (s *ScannerServer) setupRoutes() {
	s.router.Use(loggingMiddleware(s.logger))

	s.router.HandleFunc("/health", healthHandler("scanner")).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttpOpts)).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/scan", s.handleScan).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/scan_symbols", s.handleScanSymbols).Methods(http.MethodPost)
	s.router.HandleFunc("/get_scan_results", s.handleGetScanResults).Methods(http.MethodGet)
}

// Start begins serving on cfg.Host:cfg.Port. Blocks until the server stops.
func (s *ScannerServer) Start() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      corsHandler(s.router),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("scanner listening", zap.String("addr", addr))
	go s.hub.Run()
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *ScannerServer) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return Shutdown(ctx, s.httpSrv)
}

func (s *ScannerServer) handleScan(w http.ResponseWriter, r *http.Request) {
	mode := scanner.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = scanner.ModeNormal
	}

	result, err := s.scanner.Scan(r.Context(), mode)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.ScansRun.Inc()
	s.metrics.CandidatesRanked.Add(float64(len(result.Candidates)))

	writeJSON(w, http.StatusOK, scanResultPayload(result))
}

func (s *ScannerServer) handleScanSymbols(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	for i, sym := range body.Symbols {
		body.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	result, err := s.scanner.ScanSymbols(r.Context(), body.Symbols)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.ScansRun.Inc()
	s.metrics.CandidatesRanked.Add(float64(len(result.Candidates)))

	writeJSON(w, http.StatusOK, scanResultPayload(result))
}

func (s *ScannerServer) handleGetScanResults(w http.ResponseWriter, r *http.Request) {
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		writeError(w, s.logger, coreValidationErr("scan_id is required"))
		return
	}

	result, err := s.scanner.GetScanResults(r.Context(), scanID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResultPayload(result))
}

func (s *ScannerServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	serveWebSocket(s.hub, w, r, s.logger)
}

func scanResultPayload(result scanner.ScanResult) map[string]any {
	return map[string]any{
		"scanId":           result.ScanID,
		"candidates":       result.Candidates,
		"universeSize":     result.UniverseSize,
		"catalystFiltered": result.CatalystFiltered,
		"durationMs":       result.DurationMS,
		"mode":             result.Mode,
	}
}
