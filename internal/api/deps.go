package api

import (
	"context"

	"predengine/internal/estimator"
	"predengine/pkg/types"
)

// Store is the subset of *store.Store the API surface reads and writes.
// Declared as an interface so handlers can be tested against a fake.
type Store interface {
	Ping(ctx context.Context) error
	Markets(ctx context.Context, venue types.Venue, limit int) ([]types.Market, error)
	GetMarket(ctx context.Context, id int64) (types.Market, error)
	ScanHistory(ctx context.Context, limit int) ([]types.ScanResult, error)
	ListDebates(ctx context.Context, limit int) ([]types.EdgeAnalysis, error)
	Positions(ctx context.Context, status types.PositionStatus, venue types.Venue) ([]types.Position, error)
	ListCalibrationRecords(ctx context.Context) ([]types.CalibrationRecord, error)
	InsertProbabilityEstimate(ctx context.Context, e types.ProbabilityEstimate) (int64, error)
	InsertEdgeAnalysis(ctx context.Context, e types.EdgeAnalysis) (int64, error)
}

// Scanner triggers an on-demand market discovery pass.
type Scanner interface {
	Run(ctx context.Context) types.ScanResult
}

// Estimator runs the ensemble probability estimate for one market.
type Estimator interface {
	Run(ctx context.Context, mc estimator.MarketContext) estimator.Result
}

// Executor places an order for a tradeable edge analysis.
type Executor interface {
	Execute(ctx context.Context, market types.Market, analysis types.EdgeAnalysis) (types.Position, error)
}

// Lifecycle exposes the manual-close operation.
type Lifecycle interface {
	CloseManually(ctx context.Context, positionID int64, exitPrice float64) error
}

// Dependencies bundles everything a Handlers needs. Any interface field may
// be nil in a read-only deployment; a handler whose required dependency is
// nil returns 503. Two exceptions: /health with a nil Store answers 200 and
// reports the db as "not configured", and analyze with a nil Executor still
// answers 200 and reports execution as skipped.
type Dependencies struct {
	Store       Store
	Scanner     Scanner
	Estimator   Estimator
	Executor    Executor
	Lifecycle   Lifecycle
	Bankroll    float64
	MinEdge     float64
	MaxPosition float64
}
