package api

// collector_server.go wires the News Collector process's HTTP surface
// (port 5008): collection trigger, read/search, outcome feedback,
// source reliability, and coordinated-narrative listings.

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/collector"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CollectorServer is the News Collector's HTTP/WebSocket server.
type CollectorServer struct {
	logger    *zap.Logger
	cfg       ServerConfig
	router    *mux.Router
	httpSrv   *http.Server
	collector *collector.Collector
	st        store.Port
	hub       *Hub
	metrics   *Metrics
}

// NewCollectorServer constructs the News Collector server and wires its
// routes.
func NewCollectorServer(logger *zap.Logger, cfg ServerConfig, coll *collector.Collector, st store.Port, bus *events.EventBus) *CollectorServer {
	s := &CollectorServer{
		logger:    logger.Named("collector-api"),
		cfg:       cfg,
		router:    mux.NewRouter(),
		collector: coll,
		st:        st,
		hub:       NewHub(logger.Named("collector-ws")),
		metrics:   NewMetrics("news_collector"),
	}
	if bus != nil {
		s.hub.SubscribeEventBus(bus)
	}
	s.setupRoutes()
	return s
}

func (s *CollectorServer) setupRoutes() {
	s.router.Use(loggingMiddleware(s.logger))

	s.router.HandleFunc("/health", healthHandler("news_collector")).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttpOpts)).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/collect_news", s.handleCollectNews).Methods(http.MethodPost)
	s.router.HandleFunc("/search_news", s.handleSearchNews).Methods(http.MethodGet)
	s.router.HandleFunc("/trending_news", s.handleTrendingNews).Methods(http.MethodGet)
	s.router.HandleFunc("/update_outcome", s.handleUpdateOutcome).Methods(http.MethodPost)
	s.router.HandleFunc("/source_analysis", s.handleSourceAnalysis).Methods(http.MethodGet)
	s.router.HandleFunc("/coordinated_narratives", s.handleCoordinatedNarratives).Methods(http.MethodGet)
}

// Start begins serving on cfg.Host:cfg.Port. Blocks until the server stops.
func (s *CollectorServer) Start() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      corsHandler(s.router),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("news collector listening", zap.String("addr", addr))
	go s.hub.Run()
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *CollectorServer) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return Shutdown(ctx, s.httpSrv)
}

func (s *CollectorServer) handleCollectNews(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode  string `json:"mode"`
		Since string `json:"since"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	since := time.Time{}
	if body.Since != "" {
		if t, err := time.Parse(time.RFC3339, body.Since); err == nil {
			since = t
		}
	}

	result, err := s.collector.Collect(r.Context(), since)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.NewsCollected.Add(float64(result.ItemsNew))

	writeJSON(w, http.StatusOK, map[string]any{
		"articles":        result.ItemsFetched,
		"new":             result.ItemsNew,
		"duplicate":       result.ItemsFetched - result.ItemsNew,
		"perSourceCounts": map[string]int{},
		"errors":          result.SourceErrors,
	})
}

func (s *CollectorServer) handleSearchNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := parseTimeParam(q.Get("since"), time.Now().Add(-24*time.Hour))
	until := parseTimeParam(q.Get("until"), time.Now())

	filter := store.NewsFilter{Symbol: q.Get("symbol")}
	if tierStr := q.Get("min_tier"); tierStr != "" {
		if tier, err := strconv.Atoi(tierStr); err == nil {
			filter.MinTier = tier
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	items, err := s.collector.Search(r.Context(), since, until, filter)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// handleTrendingNews ranks the last 6h of articles by mention count across
// symbols, surfacing the most-covered names. "Trending" is not itself
// scored, only ranked by volume.
func (s *CollectorServer) handleTrendingNews(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-6 * time.Hour)
	items, err := s.collector.Search(r.Context(), since, time.Now(), store.NewsFilter{Limit: 2000})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	counts := make(map[string]int)
	for _, item := range items {
		if item.PrimarySymbol != "" {
			counts[item.PrimarySymbol]++
		}
	}

	type trendingEntry struct {
		Symbol string `json:"symbol"`
		Count  int    `json:"count"`
	}
	entries := make([]trendingEntry, 0, len(counts))
	for symbol, count := range counts {
		entries = append(entries, trendingEntry{Symbol: symbol, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Symbol < entries[j].Symbol
	})

	writeJSON(w, http.StatusOK, map[string]any{"trending": entries})
}

func (s *CollectorServer) handleUpdateOutcome(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewsID           string   `json:"newsId"`
		PriceMove1h      *float64 `json:"priceMove1h"`
		PriceMove24h     *float64 `json:"priceMove24h"`
		VolumeSurgeRatio *float64 `json:"volumeSurgeRatio"`
		WasAccurate      *bool    `json:"wasAccurate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	outcome := store.NewsOutcome{
		PriceMove1h:      body.PriceMove1h,
		PriceMove24h:     body.PriceMove24h,
		VolumeSurgeRatio: body.VolumeSurgeRatio,
		WasAccurate:      body.WasAccurate,
	}
	if err := s.collector.UpdateOutcome(r.Context(), body.NewsID, outcome); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

func (s *CollectorServer) handleSourceAnalysis(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source != "" {
		metrics, err := s.st.GetSourceMetrics(r.Context(), source)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, metrics)
		return
	}

	all, err := s.st.ListSourceMetrics(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": all})
}

func (s *CollectorServer) handleCoordinatedNarratives(w http.ResponseWriter, r *http.Request) {
	since := parseTimeParam(r.URL.Query().Get("since"), time.Now().Add(-24*time.Hour))
	clusters, err := s.st.ListNarrativeClusters(r.Context(), since)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

func (s *CollectorServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	serveWebSocket(s.hub, w, r, s.logger)
}

func parseTimeParam(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return fallback
}
