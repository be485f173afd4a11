// Prediction Market Trading Engine — scans Kalshi and Polymarket for binary
// markets, estimates each one's true probability with an LLM analyst
// ensemble, sizes a position with a half-Kelly edge gate, and manages the
// resulting positions through fill, stop-loss, and resolution.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	internal/scanner           — discovers and qualifies markets across both venues
//	internal/estimator         — three-analyst ensemble + consensus + debate
//	internal/edge              — half-Kelly sizing gate
//	internal/executor          — hard safety gates + order placement
//	internal/lifecycle         — fill reconciliation, stop-loss, settlement
//	internal/scheduler         — runs the three recurring jobs above
//	internal/api               — optional HTTP surface for manual triggers and state
//	internal/venue/{kalshi,polymarket} — venue clients
//	internal/store             — SQLite persistence
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"predengine/internal/api"
	"predengine/internal/config"
	"predengine/internal/edge"
	"predengine/internal/estimator"
	"predengine/internal/executor"
	"predengine/internal/lifecycle"
	"predengine/internal/llm"
	"predengine/internal/scanner"
	"predengine/internal/scheduler"
	"predengine/internal/store"
	"predengine/internal/venue"
	"predengine/internal/venue/kalshi"
	"predengine/internal/venue/polymarket"
	"predengine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ENGINE_CONFIG"); p != "" {
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

	st, err := store.Open(cfg.Store.DatabaseURL)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	kalshiClient, err := kalshi.NewClient(cfg.Kalshi.KeyID, cfg.Kalshi.PrivateKeyPath, kalshiBaseURL(cfg.Kalshi.UseDemo), logger)
	if err != nil {
		logger.Error("failed to build kalshi client", "error", err)
		os.Exit(1)
	}

	polyAuth, err := polymarket.NewAuth(cfg.Polymarket.PrivateKey, cfg.Polymarket.SafeAddress, cfg.Polymarket.ChainID)
	if err != nil {
		logger.Error("failed to build polymarket auth", "error", err)
		os.Exit(1)
	}
	polyClient := polymarket.NewClient("https://gamma-api.polymarket.com", "https://clob.polymarket.com", polyAuth, logger)

	venues := map[types.Venue]venue.Client{
		types.VenueKalshi:     kalshiClient,
		types.VenuePolymarket: polyClient,
	}
	venueList := []venue.Client{kalshiClient, polyClient}

	completion := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	var search *llm.SearchClient
	if cfg.LLM.TavilyAPIKey != "" {
		search = llm.NewSearchClient(cfg.LLM.TavilyAPIKey)
	}

	sc := scanner.New(venueList, st, cfg.Scanner, logger)
	est := estimator.New(completion, search, logger)
	ex := executor.New(st, venues, cfg.Risk, cfg.Edge.Bankroll, logger)
	lc := lifecycle.New(st, venues, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := []scheduler.Job{
		{
			Name:     "scan",
			Interval: cfg.ScannerIntervalDuration(),
			Run:      func(ctx context.Context) { sc.Run(ctx) },
		},
		{
			Name:     "position-monitor",
			Interval: cfg.PositionMonitorInterval(),
			Run:      lc.RunPositionMonitor,
		},
		{
			Name:     "resolution-check",
			Interval: cfg.ResolutionCheckInterval(),
			Run:      lc.SettleResolutions,
		},
	}
	sched := scheduler.New(jobs, logger)
	sched.Start(ctx)

	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Dependencies{
			Store:       st,
			Scanner:     sc,
			Estimator:   est,
			Executor:    ex,
			Lifecycle:   lc,
			Bankroll:    cfg.Edge.Bankroll,
			MinEdge:     cfg.Edge.MinEdgeThreshold,
			MaxPosition: cfg.Edge.MaxPositionPct / 100,
		}
		apiServer = api.NewServer(cfg.API.Port, deps, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("prediction market trading engine started",
		"bankroll", cfg.Edge.Bankroll,
		"max_concurrent_positions", cfg.Risk.MaxConcurrentPositions,
		"api_enabled", cfg.API.Enabled,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}

	cancel()
	sched.Wait()
	logger.Info("shutdown complete")
}

func kalshiBaseURL(useDemo bool) string {
	if useDemo {
		return "https://demo-api.kalshi.co/trade-api/v2"
	}
	return "https://api.elections.kalshi.com/trade-api/v2"
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
