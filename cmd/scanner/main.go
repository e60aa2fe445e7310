// Package main is the entry point for the Catalyst Scanner process,
// listening on port 5001.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/api"
	"github.com/TradingApplication/catalyst-trading-system/internal/config"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/scanner"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"github.com/TradingApplication/catalyst-trading-system/pkg/marketdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	port := flag.Int("port", 5001, "HTTP listen port")
	marketDataURL := flag.String("market-data-url", os.Getenv("CATALYST_MARKET_DATA_URL"), "Base URL of the market-data collaborator")
	flag.Parse()

	logger := setupLogger("info")
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("starting scanner", zap.Int("port", *port), zap.String("store_dsn", cfg.Store.DSN))

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

	var market marketdata.Client
	if *marketDataURL != "" {
		market = marketdata.NewHTTPClient(*marketDataURL, cfg.APITimeout())
	} else {
		logger.Warn("no market-data collaborator URL configured, scans will report total market-data outage")
		market = marketdata.NewFakeClient()
	}

	scannerCfg := scanner.DefaultConfig()
	scannerCfg.MinCatalystScore = cfg.MinCatalystScore
	scannerCfg.MinPrice = cfg.MinPrice
	scannerCfg.MaxPrice = cfg.MaxPrice
	scannerCfg.MinVolume = cfg.MinVolume
	scannerCfg.MinRelativeVolume = cfg.MinRelativeVolume
	scannerCfg.TopK = cfg.MaxPositions

	sc := scanner.New(logger, st, market, bus, scannerCfg, loc)

	apiCfg := api.DefaultServerConfig(*port)
	server := api.NewScannerServer(logger, apiCfg, sc, bus)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("scanner server error", zap.Error(err))
		}
	}()

	waitForShutdown(logger, "scanner", cancel, func(shutdownCtx context.Context) error {
		return server.Stop(shutdownCtx)
	})
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
