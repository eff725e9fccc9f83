// Options Engine — an event-driven runtime for trading listed option
// strategies through a broker bridge.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires bus → gateway → positions → strategies → hedging
//	bus/bus.go           — in-process event bus with a one-second timer heartbeat
//	gateway/gateway.go   — WebSocket session to the broker bridge: orders, fills, accounts, contracts
//	marketdata/poller.go — rate-limited chain poller: quotes with greeks for subscribed expiries
//	portfolio/store.go   — contracts, underlyings, and option chains with live analytics
//	position/engine.go   — per-strategy holdings: fills → positions, combos, P&L, greeks roll-up
//	strategy/manager.go  — strategy lifecycle and order routing (the OMS)
//	hedge/hedge.go       — delta-hedging controller for enrolled strategies
//	database/database.go — SQLite persistence for contracts, orders, and trades
//	api/server.go        — read-only HTTP status surface
//
// Strategies hold option combos (straddles, spreads, condors) per
// underlying portfolio. The hedging controller watches each enrolled
// strategy's aggregate delta and trades the underlying back inside its
// configured band.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"options-engine/internal/api"
	"options-engine/internal/config"
	"options-engine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("OE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status api started", "url", fmt.Sprintf("http://localhost:%d", cfg.API.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("options engine started",
		"bridge", cfg.Bridge.URL,
		"account", cfg.Bridge.Account,
		"classes", eng.StrategyClasses(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
