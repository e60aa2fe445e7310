// Package main is the entry point for the News Collector process,
// listening on port 5008.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/api"
	"github.com/TradingApplication/catalyst-trading-system/internal/collector"
	"github.com/TradingApplication/catalyst-trading-system/internal/collector/sources"
	"github.com/TradingApplication/catalyst-trading-system/internal/config"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	port := flag.Int("port", 5008, "HTTP listen port")
	flag.Parse()

	logger := setupLogger("info")
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("starting news collector", zap.Int("port", *port), zap.String("store_dsn", cfg.Store.DSN))

	st, err := store.NewSQLiteStore(logger, cfg.Store.DSN, cfg.Store.MaxOpenConns)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	defer bus.Stop()

	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		logger.Warn("unknown market timezone, defaulting to UTC", zap.String("timezone", cfg.MarketTimezone), zap.Error(err))
		loc = time.UTC
	}

	lexicon := newsmodel.DefaultLexicon()
	for _, src := range cfg.Sources {
		if src.Tier > 0 {
			lexicon.SourceTierByName[src.Name] = src.Tier
		}
	}

	windows := newsmodel.DefaultSessionWindows(loc)
	windows.PreMarketStart = cfg.PremarketStart
	windows.PreMarketEnd = cfg.PremarketEnd

	collectorCfg := collector.DefaultConfig()
	collectorCfg.Location = loc

	coll := collector.New(logger, st, bus, lexicon, windows, collectorCfg)
	registerSources(coll, cfg)

	apiCfg := api.DefaultServerConfig(*port)
	server := api.NewCollectorServer(logger, apiCfg, coll, st, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go coll.RunNarrativeSweepLoop(ctx, time.Hour)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("news collector server error", zap.Error(err))
		}
	}()

	waitForShutdown(logger, "news collector", cancel, func(shutdownCtx context.Context) error {
		return server.Stop(shutdownCtx)
	})
}

// registerSources wires every configured source kind
// (rest_json | rss | paginated_search).
func registerSources(coll *collector.Collector, cfg *config.Config) {
	for _, src := range cfg.Sources {
		apiKey := ""
		if src.APIKeyEnv != "" {
			apiKey = os.Getenv(src.APIKeyEnv)
		}

		switch src.Kind {
		case "rest_json":
			coll.RegisterSource(sources.NewRESTSource(sources.RESTConfig{
				Name: src.Name, Tier: src.Tier, BaseURL: src.BaseURL, APIKey: apiKey,
				RateLimitRPS: src.RateLimitRPS, Burst: src.RateLimitBurst,
			}))
		case "rss":
			coll.RegisterSource(sources.NewRSSSource(sources.RSSConfig{
				Name: src.Name, Tier: src.Tier, FeedURL: src.BaseURL,
				RateLimitRPS: src.RateLimitRPS, Burst: src.RateLimitBurst,
			}))
		case "paginated_search":
			pageSize := 50
			if raw, ok := src.Extra["page_size"]; ok {
				if n, err := strconv.Atoi(raw); err == nil && n > 0 {
					pageSize = n
				}
			}
			coll.RegisterSource(sources.NewPaginatedSource(sources.PaginatedConfig{
				Name: src.Name, Tier: src.Tier, BaseURL: src.BaseURL, APIKey: apiKey,
				RateLimitRPS: src.RateLimitRPS, Burst: src.RateLimitBurst, PageSize: pageSize,
			}))
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// waitForShutdown blocks until SIGINT/SIGTERM, then cancels ctx and calls
// stop with a bounded shutdown window.
func waitForShutdown(logger *zap.Logger, name string, cancel context.CancelFunc, stop func(context.Context) error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received", zap.String("service", name))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.String("service", name), zap.Error(err))
	}
	logger.Info("stopped", zap.String("service", name))
}
