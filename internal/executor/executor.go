// Package executor applies the hard safety gates and places the single
// maker-only limit order a tradeable edge analysis calls for, inside one
// transaction so the gate check and the resulting position can never race
// with a concurrent execution.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"predengine/internal/config"
	"predengine/internal/store"
	"predengine/internal/venue"
	"predengine/pkg/types"
)

// ErrGateRejected wraps any hard-safety-gate failure. Callers can
// errors.Is against it to distinguish a deliberate rejection from an
// infrastructure error.
var ErrGateRejected = errors.New("executor: safety gate rejected")

// Executor owns the transactional gate-then-place boundary.
type Executor struct {
	store    *store.Store
	venues   map[types.Venue]venue.Client
	risk     config.RiskConfig
	bankroll float64
	logger   *slog.Logger
}

// New builds an Executor. venues must have one entry per venue the engine
// trades on.
func New(st *store.Store, venues map[types.Venue]venue.Client, risk config.RiskConfig, bankroll float64, logger *slog.Logger) *Executor {
	return &Executor{
		store:    st,
		venues:   venues,
		risk:     risk,
		bankroll: bankroll,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs the ordered hard safety gates against a tradeable edge
// analysis and, on pass, places a limit order at the market's current
// side quote and creates a pending Position. A venue placement failure is
// recorded as a position with no venue_order_id rather than aborting —
// lifecycle reconciliation will later mark it cancelled.
func (e *Executor) Execute(ctx context.Context, market types.Market, analysis types.EdgeAnalysis) (types.Position, error) {
	if !analysis.Tradeable {
		return types.Position{}, fmt.Errorf("executor: edge analysis for market %d is not tradeable", market.ID)
	}

	client, ok := e.venues[market.Venue]
	if !ok {
		return types.Position{}, fmt.Errorf("executor: no client configured for venue %q", market.Venue)
	}

	now := time.Now()
	var pos types.Position

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		openCount, err := store.CountOpenPositions(tx)
		if err != nil {
			return fmt.Errorf("count open positions: %w", err)
		}
		if openCount >= e.risk.MaxConcurrentPositions {
			return fmt.Errorf("%w: concurrent-positions cap reached (%d/%d)", ErrGateRejected, openCount, e.risk.MaxConcurrentPositions)
		}

		pnlToday, err := store.SumPnLToday(tx, now)
		if err != nil {
			return fmt.Errorf("sum pnl today: %w", err)
		}
		floor := -(e.bankroll * config.MaxDailyDrawdownPct)
		if pnlToday <= floor {
			return fmt.Errorf("%w: daily drawdown kill-switch triggered (pnl %.2f <= floor %.2f)", ErrGateRejected, pnlToday, floor)
		}

		price, err := currentSidePrice(ctx, client, market.VenueMarketID, analysis.RecommendedSide)
		if err != nil {
			return fmt.Errorf("read current quote: %w", err)
		}

		req := types.OrderRequest{
			VenueMarketID: market.VenueMarketID,
			Side:          analysis.RecommendedSide,
			NumContracts:  analysis.NumContracts,
			Price:         price,
		}

		var venueOrderID string
		orderID, placeErr := client.PlaceLimitOrder(ctx, req)
		if placeErr != nil {
			e.logger.Error("order placement failed, recording attempt with no venue order id",
				"market_id", market.ID, "venue", market.Venue, "error", placeErr)
		} else {
			venueOrderID = orderID
		}

		pos = types.Position{
			MarketID:       market.ID,
			EdgeAnalysisID: analysis.ID,
			Venue:          market.Venue,
			Side:           analysis.RecommendedSide,
			NumContracts:   analysis.NumContracts,
			EntryPrice:     price,
			TotalCost:      price * float64(analysis.NumContracts),
			Status:         types.PositionPending,
			VenueOrderID:   venueOrderID,
			OpenedAt:       now,
		}
		id, err := store.InsertPosition(tx, pos)
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		pos.ID = id
		return nil
	})
	if err != nil {
		return types.Position{}, err
	}

	return pos, nil
}

// currentSidePrice re-reads the live book rather than trusting the
// scan-time snapshot on EdgeAnalysis, since time may have passed between
// estimation and execution.
func currentSidePrice(ctx context.Context, client venue.Client, venueMarketID string, side types.Side) (float64, error) {
	bestBid, bestAsk, err := client.GetOrderbook(ctx, venueMarketID)
	if err != nil {
		return 0, err
	}
	if side == types.SideYes {
		return bestBid, nil
	}
	return 1 - bestAsk, nil
}
