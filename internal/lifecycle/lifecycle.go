// Package lifecycle drives a position from placement through settlement:
// fill reconciliation, stop-loss enforcement, resolution-triggered
// settlement, and manual close. Every loop tolerates per-market errors —
// it logs and moves to the next market rather than aborting the batch.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"predengine/internal/config"
	"predengine/internal/store"
	"predengine/internal/venue"
	"predengine/pkg/types"
)

// Manager owns the three lifecycle sub-loops.
type Manager struct {
	store  *store.Store
	venues map[types.Venue]venue.Client
	logger *slog.Logger
}

// New builds a Manager over the given venue clients.
func New(st *store.Store, venues map[types.Venue]venue.Client, logger *slog.Logger) *Manager {
	return &Manager{store: st, venues: venues, logger: logger.With("component", "lifecycle")}
}

// RunPositionMonitor runs fill reconciliation then stop-loss enforcement in
// sequence, matching the scheduler's 60-second position-monitor job.
func (m *Manager) RunPositionMonitor(ctx context.Context) {
	m.ReconcileFills(ctx)
	m.EnforceStopLosses(ctx)
}

// ReconcileFills polls every pending position's venue order status and
// transitions it to open or cancelled.
func (m *Manager) ReconcileFills(ctx context.Context) {
	positions, err := m.store.ListPositionsByStatus(ctx, types.PositionPending)
	if err != nil {
		m.logger.Error("list pending positions", "error", err)
		return
	}

	for _, p := range positions {
		if p.VenueOrderID == "" {
			// placement never reached the venue; nothing to reconcile
			m.cancelPosition(ctx, p)
			continue
		}

		client, ok := m.venues[p.Venue]
		if !ok {
			m.logger.Error("no client configured for venue", "venue", p.Venue, "position_id", p.ID)
			continue
		}

		state, err := client.GetOrder(ctx, p.VenueOrderID)
		if err != nil {
			m.logger.Warn("get order status failed", "position_id", p.ID, "error", err)
			continue
		}

		switch state.Status {
		case types.OrderStatusFilled:
			if err := m.store.UpdatePositionStatus(ctx, p.ID, types.PositionOpen, nil); err != nil {
				m.logger.Error("mark position open", "position_id", p.ID, "error", err)
			}
		case types.OrderStatusCanceled, types.OrderStatusExpired, types.OrderStatusRejected:
			m.cancelPosition(ctx, p)
		}
		// any other status leaves the position pending for the next tick
	}
}

func (m *Manager) cancelPosition(ctx context.Context, p types.Position) {
	now := time.Now()
	if err := m.store.UpdatePositionStatus(ctx, p.ID, types.PositionCancelled, &now); err != nil {
		m.logger.Error("mark position cancelled", "position_id", p.ID, "error", err)
	}
}

// EnforceStopLosses re-reads the current YES price for every open position
// and closes any whose unrealized loss has crossed the stop-loss floor.
func (m *Manager) EnforceStopLosses(ctx context.Context) {
	positions, err := m.store.ListPositionsByStatus(ctx, types.PositionOpen)
	if err != nil {
		m.logger.Error("list open positions", "error", err)
		return
	}

	for _, p := range positions {
		client, ok := m.venues[p.Venue]
		if !ok {
			m.logger.Error("no client configured for venue", "venue", p.Venue, "position_id", p.ID)
			continue
		}

		market, err := m.store.GetMarket(ctx, p.MarketID)
		if err != nil {
			m.logger.Error("get market", "market_id", p.MarketID, "error", err)
			continue
		}

		currentYes, err := client.GetMidPrice(ctx, market.VenueMarketID)
		if err != nil {
			m.logger.Warn("get mid price failed", "market_id", p.MarketID, "error", err)
			continue
		}

		var unrealized float64
		if p.Side == types.SideYes {
			unrealized = (currentYes - p.EntryPrice) * float64(p.NumContracts)
		} else {
			unrealized = (p.EntryPrice - currentYes) * float64(p.NumContracts)
		}

		if unrealized < -(p.TotalCost * config.StopLossPct) {
			now := time.Now()
			pnlPercent := pctOf(unrealized, p.TotalCost)
			if err := m.store.ClosePosition(ctx, p.ID, currentYes, unrealized, pnlPercent, types.PositionClosedLoss, now); err != nil {
				m.logger.Error("close stop-loss position", "position_id", p.ID, "error", err)
			}
		}
	}
}

func pctOf(v, total float64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * v / total
}

// SettleResolutions checks every active market with open exposure for
// resolution, and on resolution closes its positions and records
// calibration.
func (m *Manager) SettleResolutions(ctx context.Context) {
	markets, err := m.store.ListActiveMarketsWithOpenPositions(ctx)
	if err != nil {
		m.logger.Error("list active markets with open positions", "error", err)
		return
	}

	for _, mk := range markets {
		client, ok := m.venues[mk.Venue]
		if !ok {
			m.logger.Error("no client configured for venue", "venue", mk.Venue, "market_id", mk.ID)
			continue
		}

		resolved, outcomeYes, err := client.IsResolved(ctx, mk.VenueMarketID)
		if err != nil {
			m.logger.Warn("check resolution failed", "market_id", mk.ID, "error", err)
			continue
		}
		if !resolved {
			continue
		}

		if err := m.settleMarket(ctx, mk, outcomeYes); err != nil {
			m.logger.Error("settle market", "market_id", mk.ID, "error", err)
		}
	}
}

func (m *Manager) settleMarket(ctx context.Context, mk types.Market, outcomeYes bool) error {
	positions, err := m.store.ListOpenPositionsByMarket(ctx, mk.ID)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}

	edgeAnalysis, err := m.store.LatestEdgeAnalysis(ctx, mk.ID)
	if err != nil {
		m.logger.Warn("no edge analysis to calibrate against", "market_id", mk.ID, "error", err)
	}
	estimates, err := m.store.LatestEstimatesByRole(ctx, mk.ID)
	if err != nil {
		m.logger.Warn("no estimates to calibrate against", "market_id", mk.ID, "error", err)
	}

	now := time.Now()
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.MarkMarketResolvedTx(tx, mk.ID, outcomeYes); err != nil {
			return fmt.Errorf("mark resolved: %w", err)
		}

		for _, p := range positions {
			exitPrice, pnl, status := settlePosition(p, outcomeYes)
			pnlPercent := pctOf(pnl, p.TotalCost)
			if err := store.ClosePositionTx(tx, p.ID, exitPrice, pnl, pnlPercent, status, now); err != nil {
				return fmt.Errorf("close position %d: %w", p.ID, err)
			}
		}

		outcomeFloat := 0.0
		if outcomeYes {
			outcomeFloat = 1.0
		}
		diff := edgeAnalysis.SystemProbability - outcomeFloat

		record := types.CalibrationRecord{
			MarketID:           mk.ID,
			SystemProbability:  edgeAnalysis.SystemProbability,
			MarketPriceAtEntry: edgeAnalysis.MarketPrice,
			ActualOutcome:      outcomeYes,
			BrierScore:         diff * diff,
			ResearchEstimate:   estimates[types.RoleResearch].Probability,
			BaseRateEstimate:   estimates[types.RoleBaseRate].Probability,
			ModelEstimate:      estimates[types.RoleModel].Probability,
			Category:           mk.Category,
			ResolvedAt:         now,
		}
		return store.InsertCalibrationRecordTx(tx, record)
	})
}

// settlePosition computes P&L and the terminal status for one position
// against a resolved outcome. The winning side always exits at 1.0, the
// losing side at 0.0.
func settlePosition(p types.Position, outcomeYes bool) (exitPrice, pnl float64, status types.PositionStatus) {
	won := (outcomeYes && p.Side == types.SideYes) || (!outcomeYes && p.Side == types.SideNo)
	if !won {
		return 0.0, -p.TotalCost, types.PositionClosedLoss
	}
	if p.Side == types.SideYes {
		return 1.0, (1 - p.EntryPrice) * float64(p.NumContracts), types.PositionClosedWin
	}
	return 1.0, p.EntryPrice * float64(p.NumContracts), types.PositionClosedWin
}

// CloseManually closes an open or pending position at a caller-supplied
// exit price, as if it were a stop-loss close triggered by hand.
func (m *Manager) CloseManually(ctx context.Context, positionID int64, exitPrice float64) error {
	p, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	if p.Status != types.PositionOpen && p.Status != types.PositionPending {
		return fmt.Errorf("position %d is not open or pending (status=%s)", positionID, p.Status)
	}

	var pnl float64
	if p.Side == types.SideYes {
		pnl = (exitPrice - p.EntryPrice) * float64(p.NumContracts)
	} else {
		pnl = (p.EntryPrice - exitPrice) * float64(p.NumContracts)
	}

	return m.store.ClosePosition(ctx, positionID, exitPrice, pnl, pctOf(pnl, p.TotalCost), types.PositionClosedEarly, time.Now())
}
