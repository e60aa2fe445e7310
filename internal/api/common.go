// Package api provides the HTTP and WebSocket surface for the three
// Catalyst Trading System processes: the Cycle Coordinator,
// News Collector, and Catalyst Scanner. Each process gets its own
// *http.Server constructor sharing this package's envelope helpers,
// CORS/logging middleware, metrics, and websocket hub.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coreerrs"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWebSocket upgrades the request and spins up the read/write pumps
// for a new Client bound to hub.
func serveWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(hub, conn)
	go client.WritePump()
	go client.ReadPump()
}

// errorEnvelope is the shape every handler returns on failure: the same
// {status:"error", code, message} envelope across all three processes,
// where code is the coreerrs kind.
type errorEnvelope struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}

// writeError maps a coreerrs.Error (or any wrapped error) to its HTTP
// status and the shared error envelope.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := coreerrs.KindDependencyDown
	status := http.StatusInternalServerError
	for _, k := range []coreerrs.Kind{
		coreerrs.KindValidation, coreerrs.KindBusy, coreerrs.KindNotFound,
		coreerrs.KindDependencyDown, coreerrs.KindDeadlineExceeded,
		coreerrs.KindRateLimited, coreerrs.KindTransientNetwork,
	} {
		if coreerrs.Is(err, k) {
			kind = k
			status = k.HTTPStatus()
			break
		}
	}
	if status == http.StatusInternalServerError {
		logger.Error("handler error", zap.Error(err))
	}
	writeJSON(w, status, errorEnvelope{Status: "error", Code: string(kind), Message: err.Error()})
}

// coreValidationErr builds a validation-kind error for handlers that reject
// a request before reaching their component (missing/invalid query params).
func coreValidationErr(msg string) error {
	return coreerrs.New(coreerrs.KindValidation, msg)
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return coreerrs.Wrap(coreerrs.KindValidation, "invalid request body", err)
	}
	return nil
}

// healthHandler backs every process's GET /health.
func healthHandler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// loggingMiddleware logs each request's method, path, status, and latency
// at Info level.
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// corsHandler wraps a router with permissive CORS, open for desktop and
// local-network dashboard clients.
func corsHandler(h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(h)
}

// ServerConfig controls the listening address and timeouts shared by all
// three process servers.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the standard listen address and timeouts
// shared by all three process servers.
func DefaultServerConfig(port int) ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Shutdown gracefully stops an *http.Server within a bounded window.
func Shutdown(ctx context.Context, srv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
