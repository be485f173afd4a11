// Package store provides transactional SQLite persistence for the six
// entity tables of the trading engine: markets, probability_estimates,
// edge_analyses, positions, calibration_records, scan_history.
//
// Execute (safety gates + insert) and resolution settlement (market status
// + positions + calibration) are each one transaction; callers use WithTx
// to get that guarantee. Scanner upserts are not batched: each market is
// upserted in its own transaction, so a reader can see part of a page's
// upserts before the rest are written. The database is
// opened with WAL journaling and a busy timeout so the scheduler's
// concurrent jobs never deadlock each other on a write lock.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"predengine/pkg/types"
)

// Store wraps a SQLite database connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive, for the HTTP surface's
// GET /health.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	var version int
	s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS markets (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				venue            TEXT NOT NULL,
				venue_market_id  TEXT NOT NULL,
				title            TEXT NOT NULL,
				category         TEXT NOT NULL,
				description      TEXT NOT NULL DEFAULT '',
				yes_price        REAL NOT NULL,
				no_price         REAL NOT NULL,
				spread           REAL NOT NULL DEFAULT 0,
				volume_24h       REAL NOT NULL DEFAULT 0,
				close_time       TEXT NOT NULL,
				days_to_expiry   INTEGER NOT NULL DEFAULT 0,
				status           TEXT NOT NULL DEFAULT 'active',
				resolved_outcome INTEGER,
				first_seen       TEXT NOT NULL,
				last_updated     TEXT NOT NULL,
				UNIQUE(venue, venue_market_id)
			);
			CREATE INDEX IF NOT EXISTS idx_markets_status ON markets(status);

			CREATE TABLE IF NOT EXISTS scan_history (
				id            TEXT PRIMARY KEY,
				started_at    TEXT NOT NULL,
				finished_at   TEXT,
				total_fetched INTEGER NOT NULL DEFAULT 0,
				qualifying    INTEGER NOT NULL DEFAULT 0,
				new_markets   INTEGER NOT NULL DEFAULT 0,
				updated       INTEGER NOT NULL DEFAULT 0,
				errors_json   TEXT NOT NULL DEFAULT '[]'
			);

			CREATE TABLE IF NOT EXISTS probability_estimates (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id   INTEGER NOT NULL REFERENCES markets(id),
				scan_id     TEXT NOT NULL,
				role        TEXT NOT NULL,
				probability REAL NOT NULL,
				confidence  REAL NOT NULL,
				reasoning   TEXT NOT NULL DEFAULT '',
				model_kind  TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_estimates_market ON probability_estimates(market_id);
			CREATE INDEX IF NOT EXISTS idx_estimates_scan ON probability_estimates(scan_id);

			CREATE TABLE IF NOT EXISTS edge_analyses (
				id                    INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id             INTEGER NOT NULL REFERENCES markets(id),
				scan_id               TEXT NOT NULL,
				system_probability    REAL NOT NULL,
				market_price          REAL NOT NULL,
				edge                  REAL NOT NULL,
				expected_value        REAL NOT NULL,
				kelly_fraction        REAL NOT NULL,
				half_kelly_fraction   REAL NOT NULL,
				position_size_dollars REAL NOT NULL,
				num_contracts         INTEGER NOT NULL,
				recommended_side      TEXT NOT NULL,
				tradeable             INTEGER NOT NULL,
				rejection_reason      TEXT NOT NULL DEFAULT '',
				debate_triggered      INTEGER NOT NULL DEFAULT 0,
				debate_transcript     TEXT NOT NULL DEFAULT '',
				estimates_divergence  REAL NOT NULL DEFAULT 0,
				created_at            TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_edge_market ON edge_analyses(market_id);
			CREATE INDEX IF NOT EXISTS idx_edge_scan ON edge_analyses(scan_id);

			CREATE TABLE IF NOT EXISTS positions (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id        INTEGER NOT NULL REFERENCES markets(id),
				edge_analysis_id INTEGER NOT NULL REFERENCES edge_analyses(id),
				venue            TEXT NOT NULL,
				side             TEXT NOT NULL,
				num_contracts    INTEGER NOT NULL,
				entry_price      REAL NOT NULL,
				total_cost       REAL NOT NULL,
				exit_price       REAL,
				pnl_dollars      REAL,
				pnl_percent      REAL,
				status           TEXT NOT NULL,
				venue_order_id   TEXT NOT NULL DEFAULT '',
				opened_at        TEXT NOT NULL,
				closed_at        TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market_id);
			CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
			CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions(closed_at);

			CREATE TABLE IF NOT EXISTS calibration_records (
				id                    INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id             INTEGER NOT NULL REFERENCES markets(id),
				system_probability    REAL NOT NULL,
				market_price_at_entry REAL NOT NULL,
				actual_outcome        INTEGER NOT NULL,
				brier_score           REAL NOT NULL,
				research_estimate     REAL NOT NULL DEFAULT 0,
				base_rate_estimate    REAL NOT NULL DEFAULT 0,
				model_estimate        REAL NOT NULL DEFAULT 0,
				category              TEXT NOT NULL,
				resolved_at           TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_calibration_market ON calibration_records(market_id);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// UpsertMarket inserts a new market or mutates price/volume/expiry fields
// of an existing one, inside the caller's transaction. The scanner opens
// one transaction per market for it.
func UpsertMarket(tx *sql.Tx, m types.Market, now time.Time) (id int64, isNew bool, err error) {
	row := tx.QueryRow(`SELECT id FROM markets WHERE venue = ? AND venue_market_id = ?`, m.Venue, m.VenueMarketID)
	if scanErr := row.Scan(&id); scanErr == nil {
		_, err = tx.Exec(`
			UPDATE markets SET yes_price=?, no_price=?, spread=?, volume_24h=?, close_time=?,
				days_to_expiry=?, last_updated=? WHERE id=?`,
			m.YesPrice, m.NoPrice, m.Spread, m.Volume24h, fmtTime(m.CloseTime), m.DaysToExpiry, fmtTime(now), id)
		return id, false, err
	}

	res, err := tx.Exec(`
		INSERT INTO markets (venue, venue_market_id, title, category, description, yes_price, no_price,
			spread, volume_24h, close_time, days_to_expiry, status, first_seen, last_updated)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.Venue, m.VenueMarketID, m.Title, m.Category, m.Description, m.YesPrice, m.NoPrice,
		m.Spread, m.Volume24h, fmtTime(m.CloseTime), m.DaysToExpiry, types.MarketActive, fmtTime(now), fmtTime(now))
	if err != nil {
		return 0, false, err
	}
	id, err = res.LastInsertId()
	return id, true, err
}

// GetMarketByVenueID looks up a market's internal id by its venue-native
// identifier, inside the caller's transaction.
func GetMarketByVenueID(tx *sql.Tx, v types.Venue, venueMarketID string) (types.Market, error) {
	row := tx.QueryRow(marketSelect+` WHERE venue = ? AND venue_market_id = ?`, v, venueMarketID)
	var m types.Market
	var closeTime, firstSeen, lastUpdated string
	var resolvedOutcome sql.NullBool
	if err := row.Scan(&m.ID, &m.Venue, &m.VenueMarketID, &m.Title, &m.Category, &m.Description,
		&m.YesPrice, &m.NoPrice, &m.Spread, &m.Volume24h, &closeTime, &m.DaysToExpiry, &m.Status,
		&resolvedOutcome, &firstSeen, &lastUpdated); err != nil {
		return types.Market{}, err
	}
	m.CloseTime = parseTime(closeTime)
	m.FirstSeen = parseTime(firstSeen)
	m.LastUpdated = parseTime(lastUpdated)
	if resolvedOutcome.Valid {
		v := resolvedOutcome.Bool
		m.ResolvedOutcome = &v
	}
	return m, nil
}

const marketSelect = `
	SELECT id, venue, venue_market_id, title, category, description, yes_price, no_price,
		spread, volume_24h, close_time, days_to_expiry, status, resolved_outcome, first_seen, last_updated
	FROM markets`

// GetMarket fetches a market by internal id.
func (s *Store) GetMarket(ctx context.Context, id int64) (types.Market, error) {
	rows, err := s.db.QueryContext(ctx, marketSelect+` WHERE id = ?`, id)
	if err != nil {
		return types.Market{}, err
	}
	defer rows.Close()
	list, err := scanMarkets(rows)
	if err != nil {
		return types.Market{}, err
	}
	if len(list) == 0 {
		return types.Market{}, sql.ErrNoRows
	}
	return list[0], nil
}

func scanMarkets(rows *sql.Rows) ([]types.Market, error) {
	var out []types.Market
	for rows.Next() {
		var m types.Market
		var closeTime, firstSeen, lastUpdated string
		var resolvedOutcome sql.NullBool
		if err := rows.Scan(&m.ID, &m.Venue, &m.VenueMarketID, &m.Title, &m.Category, &m.Description,
			&m.YesPrice, &m.NoPrice, &m.Spread, &m.Volume24h, &closeTime, &m.DaysToExpiry, &m.Status,
			&resolvedOutcome, &firstSeen, &lastUpdated); err != nil {
			return nil, err
		}
		m.CloseTime = parseTime(closeTime)
		m.FirstSeen = parseTime(firstSeen)
		m.LastUpdated = parseTime(lastUpdated)
		if resolvedOutcome.Valid {
			v := resolvedOutcome.Bool
			m.ResolvedOutcome = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListActiveMarketsWithOpenPositions returns active markets that have at
// least one pending or open position, for the hourly resolution checker.
func (s *Store) ListActiveMarketsWithOpenPositions(ctx context.Context) ([]types.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.id, m.venue, m.venue_market_id, m.title, m.category, m.description,
			m.yes_price, m.no_price, m.spread, m.volume_24h, m.close_time, m.days_to_expiry,
			m.status, m.resolved_outcome, m.first_seen, m.last_updated
		FROM markets m
		JOIN positions p ON p.market_id = m.id
		WHERE m.status = ? AND p.status IN ('pending','open')`, types.MarketActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}

// InsertProbabilityEstimate records one analyst role's immutable output.
func (s *Store) InsertProbabilityEstimate(ctx context.Context, e types.ProbabilityEstimate) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO probability_estimates (market_id, scan_id, role, probability, confidence, reasoning, model_kind, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.MarketID, e.ScanID, e.Role, e.Probability, e.Confidence, e.Reasoning, e.ModelKind, fmtTime(e.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestEstimatesByRole returns the most recent estimate per role for a market.
func (s *Store) LatestEstimatesByRole(ctx context.Context, marketID int64) (map[types.AnalystRole]types.ProbabilityEstimate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, scan_id, role, probability, confidence, reasoning, model_kind, created_at
		FROM probability_estimates WHERE market_id = ? ORDER BY created_at DESC`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.AnalystRole]types.ProbabilityEstimate)
	for rows.Next() {
		var e types.ProbabilityEstimate
		var createdAt string
		if err := rows.Scan(&e.ID, &e.MarketID, &e.ScanID, &e.Role, &e.Probability, &e.Confidence,
			&e.Reasoning, &e.ModelKind, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		if _, seen := out[e.Role]; !seen {
			out[e.Role] = e
		}
	}
	return out, rows.Err()
}

// InsertEdgeAnalysis records the Kelly gate's immutable verdict.
func (s *Store) InsertEdgeAnalysis(ctx context.Context, e types.EdgeAnalysis) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO edge_analyses (market_id, scan_id, system_probability, market_price, edge,
			expected_value, kelly_fraction, half_kelly_fraction, position_size_dollars, num_contracts,
			recommended_side, tradeable, rejection_reason, debate_triggered, debate_transcript,
			estimates_divergence, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.MarketID, e.ScanID, e.SystemProbability, e.MarketPrice, e.Edge, e.ExpectedValue,
		e.KellyFraction, e.HalfKellyFraction, e.PositionSizeDollars, e.NumContracts,
		e.RecommendedSide, e.Tradeable, e.RejectionReason, e.DebateTriggered, e.DebateTranscript,
		e.EstimatesDivergence, fmtTime(e.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestEdgeAnalysis returns the most recent EdgeAnalysis for a market.
func (s *Store) LatestEdgeAnalysis(ctx context.Context, marketID int64) (types.EdgeAnalysis, error) {
	var e types.EdgeAnalysis
	var createdAt string
	row := s.db.QueryRowContext(ctx, `
		SELECT id, market_id, scan_id, system_probability, market_price, edge, expected_value,
			kelly_fraction, half_kelly_fraction, position_size_dollars, num_contracts,
			recommended_side, tradeable, rejection_reason, debate_triggered, debate_transcript,
			estimates_divergence, created_at
		FROM edge_analyses WHERE market_id = ? ORDER BY created_at DESC LIMIT 1`, marketID)
	err := row.Scan(&e.ID, &e.MarketID, &e.ScanID, &e.SystemProbability, &e.MarketPrice, &e.Edge,
		&e.ExpectedValue, &e.KellyFraction, &e.HalfKellyFraction, &e.PositionSizeDollars,
		&e.NumContracts, &e.RecommendedSide, &e.Tradeable, &e.RejectionReason, &e.DebateTriggered,
		&e.DebateTranscript, &e.EstimatesDivergence, &createdAt)
	e.CreatedAt = parseTime(createdAt)
	return e, err
}

// ListDebates returns the most recent edge analyses that triggered a
// debate round, most recent first. Used by the HTTP surface's
// GET /analyze/debates.
func (s *Store) ListDebates(ctx context.Context, limit int) ([]types.EdgeAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, scan_id, system_probability, market_price, edge, expected_value,
			kelly_fraction, half_kelly_fraction, position_size_dollars, num_contracts,
			recommended_side, tradeable, rejection_reason, debate_triggered, debate_transcript,
			estimates_divergence, created_at
		FROM edge_analyses WHERE debate_triggered = 1 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.EdgeAnalysis
	for rows.Next() {
		var e types.EdgeAnalysis
		var createdAt string
		if err := rows.Scan(&e.ID, &e.MarketID, &e.ScanID, &e.SystemProbability, &e.MarketPrice, &e.Edge,
			&e.ExpectedValue, &e.KellyFraction, &e.HalfKellyFraction, &e.PositionSizeDollars,
			&e.NumContracts, &e.RecommendedSide, &e.Tradeable, &e.RejectionReason, &e.DebateTriggered,
			&e.DebateTranscript, &e.EstimatesDivergence, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountOpenPositions counts positions with status in {pending, open}. Used
// by the executor's concurrency-cap gate inside the same transaction as the
// insert that follows, so two concurrent executions cannot both pass.
func CountOpenPositions(tx *sql.Tx) (int, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM positions WHERE status IN ('pending','open')`).Scan(&n)
	return n, err
}

// SumPnLToday sums pnl_dollars over positions closed today (UTC), bounding
// the query by date rather than scanning all historical positions.
func SumPnLToday(tx *sql.Tx, now time.Time) (float64, error) {
	utc := now.UTC()
	dayStart := fmtTime(time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC))
	var sum sql.NullFloat64
	err := tx.QueryRow(`
		SELECT SUM(pnl_dollars) FROM positions
		WHERE closed_at IS NOT NULL AND closed_at >= ? AND pnl_dollars IS NOT NULL`, dayStart).Scan(&sum)
	return sum.Float64, err
}

// InsertPosition creates a position row inside the caller's transaction
// (the executor's safety-gate-then-insert boundary).
func InsertPosition(tx *sql.Tx, p types.Position) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO positions (market_id, edge_analysis_id, venue, side, num_contracts, entry_price,
			total_cost, status, venue_order_id, opened_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.MarketID, p.EdgeAnalysisID, p.Venue, p.Side, p.NumContracts, p.EntryPrice, p.TotalCost,
		p.Status, p.VenueOrderID, fmtTime(p.OpenedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const positionSelect = `
	SELECT id, market_id, edge_analysis_id, venue, side, num_contracts, entry_price, total_cost,
		exit_price, pnl_dollars, pnl_percent, status, venue_order_id, opened_at, closed_at
	FROM positions`

// ListPositionsByStatus returns positions with the given status.
func (s *Store) ListPositionsByStatus(ctx context.Context, status types.PositionStatus) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+` WHERE status = ?`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// Positions lists positions, optionally filtered by status and venue, for
// the HTTP surface's GET /positions.
func (s *Store) Positions(ctx context.Context, status types.PositionStatus, venue types.Venue) ([]types.Position, error) {
	query := positionSelect
	var args []interface{}
	var clauses []string
	if status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, status)
	}
	if venue != "" {
		clauses = append(clauses, "venue = ?")
		args = append(args, venue)
	}
	if len(clauses) > 0 {
		query += " WHERE " + clauses[0]
		for _, c := range clauses[1:] {
			query += " AND " + c
		}
	}
	query += " ORDER BY opened_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListOpenPositionsByMarket returns pending/open positions for a market.
func (s *Store) ListOpenPositionsByMarket(ctx context.Context, marketID int64) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+` WHERE market_id = ? AND status IN ('pending','open')`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetPosition fetches a single position by id.
func (s *Store) GetPosition(ctx context.Context, id int64) (types.Position, error) {
	rows, err := s.db.QueryContext(ctx, positionSelect+` WHERE id = ?`, id)
	if err != nil {
		return types.Position{}, err
	}
	defer rows.Close()
	list, err := scanPositions(rows)
	if err != nil {
		return types.Position{}, err
	}
	if len(list) == 0 {
		return types.Position{}, sql.ErrNoRows
	}
	return list[0], nil
}

func scanPositions(rows *sql.Rows) ([]types.Position, error) {
	var out []types.Position
	for rows.Next() {
		var p types.Position
		var openedAt string
		var closedAt sql.NullString
		var exitPrice, pnlDollars, pnlPercent sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.MarketID, &p.EdgeAnalysisID, &p.Venue, &p.Side, &p.NumContracts,
			&p.EntryPrice, &p.TotalCost, &exitPrice, &pnlDollars, &pnlPercent, &p.Status,
			&p.VenueOrderID, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		p.OpenedAt = parseTime(openedAt)
		if closedAt.Valid {
			t := parseTime(closedAt.String)
			p.ClosedAt = &t
		}
		if exitPrice.Valid {
			v := exitPrice.Float64
			p.ExitPrice = &v
		}
		if pnlDollars.Valid {
			v := pnlDollars.Float64
			p.PnLDollars = &v
		}
		if pnlPercent.Valid {
			v := pnlPercent.Float64
			p.PnLPercent = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePositionStatus transitions a pending position without closing it
// (fill reconciliation's filled/cancelled transitions).
func (s *Store) UpdatePositionStatus(ctx context.Context, id int64, status types.PositionStatus, closedAt *time.Time) error {
	var closed interface{}
	if closedAt != nil {
		closed = fmtTime(*closedAt)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE positions SET status=?, closed_at=? WHERE id=?`, status, closed, id)
	return err
}

// ClosePositionTx sets exit price, P&L, status, and closed_at for a
// position leaving {open, pending}, inside the caller's transaction
// (stop-loss and resolution settlement).
func ClosePositionTx(tx *sql.Tx, id int64, exitPrice, pnlDollars, pnlPercent float64, status types.PositionStatus, closedAt time.Time) error {
	_, err := tx.Exec(`
		UPDATE positions SET exit_price=?, pnl_dollars=?, pnl_percent=?, status=?, closed_at=?
		WHERE id=?`, exitPrice, pnlDollars, pnlPercent, status, fmtTime(closedAt), id)
	return err
}

// ClosePosition is ClosePositionTx's non-transactional form, for manual
// close requests arriving through the HTTP surface.
func (s *Store) ClosePosition(ctx context.Context, id int64, exitPrice, pnlDollars, pnlPercent float64, status types.PositionStatus, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions SET exit_price=?, pnl_dollars=?, pnl_percent=?, status=?, closed_at=?
		WHERE id=?`, exitPrice, pnlDollars, pnlPercent, status, fmtTime(closedAt), id)
	return err
}

// MarkMarketResolvedTx sets a market's terminal status and outcome inside
// the caller's resolution-settlement transaction.
func MarkMarketResolvedTx(tx *sql.Tx, marketID int64, outcomeYes bool) error {
	status := types.MarketResolvedNo
	if outcomeYes {
		status = types.MarketResolvedYes
	}
	_, err := tx.Exec(`UPDATE markets SET status=?, resolved_outcome=? WHERE id=?`, status, outcomeYes, marketID)
	return err
}

// InsertCalibrationRecordTx records one resolved market's forecast accuracy
// inside the resolution-settlement transaction.
func InsertCalibrationRecordTx(tx *sql.Tx, c types.CalibrationRecord) error {
	_, err := tx.Exec(`
		INSERT INTO calibration_records (market_id, system_probability, market_price_at_entry,
			actual_outcome, brier_score, research_estimate, base_rate_estimate, model_estimate,
			category, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.MarketID, c.SystemProbability, c.MarketPriceAtEntry, c.ActualOutcome, c.BrierScore,
		c.ResearchEstimate, c.BaseRateEstimate, c.ModelEstimate, c.Category, fmtTime(c.ResolvedAt))
	return err
}

// ListCalibrationRecords returns all calibration records, most recent first.
func (s *Store) ListCalibrationRecords(ctx context.Context) ([]types.CalibrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, system_probability, market_price_at_entry, actual_outcome, brier_score,
			research_estimate, base_rate_estimate, model_estimate, category, resolved_at
		FROM calibration_records ORDER BY resolved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CalibrationRecord
	for rows.Next() {
		var c types.CalibrationRecord
		var resolvedAt string
		if err := rows.Scan(&c.ID, &c.MarketID, &c.SystemProbability, &c.MarketPriceAtEntry,
			&c.ActualOutcome, &c.BrierScore, &c.ResearchEstimate, &c.BaseRateEstimate,
			&c.ModelEstimate, &c.Category, &resolvedAt); err != nil {
			return nil, err
		}
		c.ResolvedAt = parseTime(resolvedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordScan persists a ScanResult summary.
func (s *Store) RecordScan(ctx context.Context, r types.ScanResult, errorsJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_history (id, started_at, finished_at, total_fetched, qualifying, new_markets, updated, errors_json)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.ScanID, fmtTime(r.StartedAt), fmtTime(r.FinishedAt), r.TotalFetched, r.Qualifying, r.New, r.Updated, errorsJSON)
	return err
}

// ScanHistory returns recent scan summaries, most recent first.
func (s *Store) ScanHistory(ctx context.Context, limit int) ([]types.ScanResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total_fetched, qualifying, new_markets, updated
		FROM scan_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ScanResult
	for rows.Next() {
		var r types.ScanResult
		var started, finished string
		if err := rows.Scan(&r.ScanID, &started, &finished, &r.TotalFetched, &r.Qualifying, &r.New, &r.Updated); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Markets lists markets, optionally filtered by venue, most recently
// updated first. Used by the HTTP surface's GET /markets.
func (s *Store) Markets(ctx context.Context, venue types.Venue, limit int) ([]types.Market, error) {
	query := marketSelect
	var args []interface{}
	if venue != "" {
		query += ` WHERE venue = ?`
		args = append(args, venue)
	}
	query += ` ORDER BY last_updated DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkets(rows)
}
