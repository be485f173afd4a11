// Package api exposes the engine's state and a small set of manually
// triggerable operations over HTTP: health, market listing, on-demand
// scan/analyze, position listing and manual close, and calibration history.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the engine's HTTP surface.
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a Server bound to the given port, wiring every route
// onto a single stdlib mux.
func NewServer(port int, deps Dependencies, logger *slog.Logger) *Server {
	handlers := NewHandlers(deps, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /markets", handlers.HandleListMarkets)
	mux.HandleFunc("GET /markets/{id}", handlers.HandleGetMarket)
	mux.HandleFunc("POST /scan/run", handlers.HandleTriggerScan)
	mux.HandleFunc("GET /scan/results", handlers.HandleScanResults)
	mux.HandleFunc("GET /scan/history", handlers.HandleScanHistory)
	mux.HandleFunc("POST /analyze/{marketID}", handlers.HandleAnalyze)
	mux.HandleFunc("GET /analyze/debates", handlers.HandleDebates)
	mux.HandleFunc("GET /positions", handlers.HandleListPositions)
	mux.HandleFunc("GET /positions/summary", handlers.HandlePositionsSummary)
	mux.HandleFunc("GET /positions/daily-pnl", handlers.HandleDailyPnL)
	mux.HandleFunc("POST /positions/{id}/close", handlers.HandleClosePosition)
	mux.HandleFunc("GET /calibration", handlers.HandleCalibration)
	mux.HandleFunc("GET /calibration/agents", handlers.HandleCalibrationAgents)
	mux.HandleFunc("GET /calibration/chart", handlers.HandleCalibrationChart)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		server:   srv,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, waiting up to 10s for in-flight
// requests to finish.
func (s *Server) Stop() error {
	s.logger.Info("api server stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
