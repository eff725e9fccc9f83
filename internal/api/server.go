// Package api serves the read-only HTTP status surface: strategy state,
// holdings, accounts, chains, and order/trade history. It never mutates
// the engine; all write paths stay on the strategy manager.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"options-engine/internal/config"
)

// Server runs the HTTP status API.
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the server bound to the configured port.
func NewServer(cfg config.APIConfig, rt Runtime, logger *slog.Logger) *Server {
	handlers := NewHandlers(rt, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/api/orders", handlers.HandleOrders)
	mux.HandleFunc("/api/trades", handlers.HandleTrades)
	mux.HandleFunc("/api/holdings", handlers.HandleHoldings)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("status server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping status server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
