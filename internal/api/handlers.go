package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"predengine/internal/edge"
	"predengine/internal/estimator"
	"predengine/pkg/types"
)

// Handlers holds every dependency the HTTP routes need.
type Handlers struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewHandlers builds a Handlers over the given Dependencies.
func NewHandlers(deps Dependencies, logger *slog.Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger.With("component", "api-handlers")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are already sent; nothing left to do but log upstream
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// platformParam reads the wire-level "platform" query parameter into the
// internal Venue vocabulary.
func platformParam(r *http.Request) types.Venue {
	return types.Venue(r.URL.Query().Get("platform"))
}

// HandleHealth pings the store and reports its status alongside liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"db":        "ok",
		"timestamp": time.Now().UTC(),
	}
	if h.deps.Store == nil {
		resp["db"] = "not configured"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["db"] = "error: " + err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type marketView struct {
	ID            int64              `json:"id"`
	Venue         types.Venue        `json:"venue"`
	VenueMarketID string             `json:"venue_market_id"`
	Title         string             `json:"title"`
	Category      types.Category     `json:"category"`
	YesPrice      float64            `json:"yes_price"`
	NoPrice       float64            `json:"no_price"`
	Spread        float64            `json:"spread"`
	Volume24h     float64            `json:"volume_24h"`
	CloseTime     time.Time          `json:"close_time"`
	DaysToExpiry  int                `json:"days_to_expiry"`
	Status        types.MarketStatus `json:"status"`
}

func toMarketView(m types.Market) marketView {
	return marketView{
		ID: m.ID, Venue: m.Venue, VenueMarketID: m.VenueMarketID, Title: m.Title,
		Category: m.Category, YesPrice: m.YesPrice, NoPrice: m.NoPrice, Spread: m.Spread,
		Volume24h: m.Volume24h, CloseTime: m.CloseTime, DaysToExpiry: m.DaysToExpiry, Status: m.Status,
	}
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}

// HandleListMarkets supports optional ?platform= and ?limit= filters.
func (h *Handlers) HandleListMarkets(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	markets, err := h.deps.Store.Markets(r.Context(), platformParam(r), limit)
	if err != nil {
		h.logger.Error("list markets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	views := make([]marketView, len(markets))
	for i, m := range markets {
		views[i] = toMarketView(m)
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleGetMarket returns a single market by its internal id.
func (h *Handlers) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	market, err := h.deps.Store.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("market %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(market))
}

// HandleTriggerScan runs the scanner synchronously and returns its result.
func (h *Handlers) HandleTriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}
	result := h.deps.Scanner.Run(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// HandleScanResults lists qualifying markets, filtered by ?platform=,
// ?category=, ?min_volume=, and sorted by ?sort_by= (volume, spread,
// expiry; defaults to most recently updated).
func (h *Handlers) HandleScanResults(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	markets, err := h.deps.Store.Markets(r.Context(), platformParam(r), 500)
	if err != nil {
		h.logger.Error("scan results", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	category := types.Category(r.URL.Query().Get("category"))
	var minVolume float64
	if raw := r.URL.Query().Get("min_volume"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_volume must be numeric")
			return
		}
		minVolume = v
	}

	filtered := markets[:0]
	for _, m := range markets {
		if category != "" && m.Category != category {
			continue
		}
		if m.Volume24h < minVolume {
			continue
		}
		filtered = append(filtered, m)
	}

	switch r.URL.Query().Get("sort_by") {
	case "volume":
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].Volume24h > filtered[j].Volume24h })
	case "spread":
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].Spread < filtered[j].Spread })
	case "expiry":
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].DaysToExpiry < filtered[j].DaysToExpiry })
	}

	views := make([]marketView, len(filtered))
	for i, m := range filtered {
		views[i] = toMarketView(m)
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleScanHistory returns the most recent scan results.
func (h *Handlers) HandleScanHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := h.deps.Store.ScanHistory(r.Context(), limit)
	if err != nil {
		h.logger.Error("scan history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read scan history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type edgeAnalysisView struct {
	MarketID            int64      `json:"market_id"`
	ScanID              string     `json:"scan_id"`
	SystemProbability   float64    `json:"system_probability"`
	MarketPrice         float64    `json:"market_price"`
	Edge                float64    `json:"edge"`
	ExpectedValue       float64    `json:"expected_value"`
	KellyFraction       float64    `json:"kelly_fraction"`
	HalfKellyFraction   float64    `json:"half_kelly_fraction"`
	PositionSizeDollars string     `json:"position_size_dollars"`
	NumContracts        int        `json:"num_contracts"`
	RecommendedSide     types.Side `json:"recommended_side"`
	Tradeable           bool       `json:"tradeable"`
	RejectionReason     string     `json:"rejection_reason,omitempty"`
	DebateTriggered     bool       `json:"debate_triggered"`
	DebateTranscript    string     `json:"debate_transcript,omitempty"`
}

func toEdgeAnalysisView(a types.EdgeAnalysis) edgeAnalysisView {
	return edgeAnalysisView{
		MarketID: a.MarketID, ScanID: a.ScanID, SystemProbability: a.SystemProbability,
		MarketPrice: a.MarketPrice, Edge: a.Edge, ExpectedValue: a.ExpectedValue,
		KellyFraction: a.KellyFraction, HalfKellyFraction: a.HalfKellyFraction,
		PositionSizeDollars: dollars(a.PositionSizeDollars), NumContracts: a.NumContracts,
		RecommendedSide: a.RecommendedSide, Tradeable: a.Tradeable,
		RejectionReason: a.RejectionReason, DebateTriggered: a.DebateTriggered,
		DebateTranscript: a.DebateTranscript,
	}
}

type analyzeResponse struct {
	Estimates        []estimator.RoleEstimate `json:"estimates"`
	DebateTriggered  bool                      `json:"debate_triggered"`
	DebateRounds     int                       `json:"debate_rounds,omitempty"`
	DebateConverged  bool                      `json:"debate_converged,omitempty"`
	EdgeAnalysis     edgeAnalysisView          `json:"edge_analysis"`
	ExecutionStatus  string                    `json:"execution_status"`
	PositionID       int64                     `json:"position_id,omitempty"`
}

// HandleAnalyze runs the ensemble estimator and Kelly gate for one market,
// persisting both the per-role estimates and the resulting edge analysis.
// When ?execute=true and the analysis is tradeable, it also places the
// order through the executor.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil || h.deps.Estimator == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis pipeline not configured")
		return
	}

	marketID, err := strconv.ParseInt(r.PathValue("marketID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "marketID must be an integer")
		return
	}

	market, err := h.deps.Store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("market %d not found", marketID))
		return
	}

	scanID := uuid.NewString()
	mc := estimator.MarketContext{
		Title: market.Title, Description: market.Description,
		YesPrice: market.YesPrice, Category: market.Category,
	}
	result := h.deps.Estimator.Run(r.Context(), mc)

	var transcript string
	if len(result.Transcript) > 0 {
		if raw, err := json.Marshal(result.Transcript); err == nil {
			transcript = string(raw)
		} else {
			h.logger.Error("serialize debate transcript", "market_id", marketID, "error", err)
		}
	}

	now := time.Now()
	for _, est := range result.Estimates {
		record := types.ProbabilityEstimate{
			MarketID: marketID, ScanID: scanID, Role: est.Role,
			Probability: est.Probability, Confidence: est.Confidence,
			Reasoning: est.Reasoning, ModelKind: "ensemble", CreatedAt: now,
		}
		if _, err := h.deps.Store.InsertProbabilityEstimate(r.Context(), record); err != nil {
			h.logger.Error("persist probability estimate", "market_id", marketID, "role", est.Role, "error", err)
		}
	}

	analysis := edge.Evaluate(edge.Input{
		MarketID: marketID, ScanID: scanID,
		SystemProbability: result.SystemProbability, MarketPrice: market.YesPrice,
		Bankroll: h.deps.Bankroll, MinEdge: h.deps.MinEdge, MaxPositionPct: h.deps.MaxPosition,
		DebateTriggered: result.DebateNeeded, DebateTranscript: transcript,
		EstimatesDivergence: result.Divergence,
	})
	analysis.CreatedAt = now

	insertedID, err := h.deps.Store.InsertEdgeAnalysis(r.Context(), analysis)
	if err != nil {
		h.logger.Error("persist edge analysis", "market_id", marketID, "error", err)
	}
	analysis.ID = insertedID

	resp := analyzeResponse{
		Estimates: result.Estimates, DebateTriggered: result.DebateNeeded,
		DebateRounds: result.DebateRounds, DebateConverged: result.DebateConverged,
		EdgeAnalysis: toEdgeAnalysisView(analysis), ExecutionStatus: "not_requested",
	}

	execute := r.URL.Query().Get("execute") == "true"
	switch {
	case !execute:
		// leave as not_requested
	case !analysis.Tradeable:
		resp.ExecutionStatus = "skipped_not_tradeable"
	case h.deps.Executor == nil:
		resp.ExecutionStatus = "skipped_executor_not_configured"
	default:
		pos, err := h.deps.Executor.Execute(r.Context(), market, analysis)
		if err != nil {
			h.logger.Error("execute analysis", "market_id", marketID, "error", err)
			resp.ExecutionStatus = "failed: " + err.Error()
		} else {
			resp.ExecutionStatus = "placed"
			resp.PositionID = pos.ID
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleDebates lists the most recent edge analyses that required a debate
// round.
func (h *Handlers) HandleDebates(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	debates, err := h.deps.Store.ListDebates(r.Context(), limit)
	if err != nil {
		h.logger.Error("list debates", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list debates")
		return
	}
	views := make([]edgeAnalysisView, len(debates))
	for i, d := range debates {
		views[i] = toEdgeAnalysisView(d)
	}
	writeJSON(w, http.StatusOK, views)
}

type positionView struct {
	ID           int64                `json:"id"`
	MarketID     int64                `json:"market_id"`
	Venue        types.Venue          `json:"venue"`
	Side         types.Side           `json:"side"`
	NumContracts int                  `json:"num_contracts"`
	EntryPrice   float64              `json:"entry_price"`
	TotalCost    string               `json:"total_cost"`
	ExitPrice    *float64             `json:"exit_price,omitempty"`
	PnLDollars   *string              `json:"pnl_dollars,omitempty"`
	Status       types.PositionStatus `json:"status"`
	VenueOrderID string               `json:"venue_order_id,omitempty"`
	OpenedAt     time.Time            `json:"opened_at"`
	ClosedAt     *time.Time           `json:"closed_at,omitempty"`
}

func toPositionView(p types.Position) positionView {
	v := positionView{
		ID: p.ID, MarketID: p.MarketID, Venue: p.Venue, Side: p.Side,
		NumContracts: p.NumContracts, EntryPrice: p.EntryPrice, TotalCost: dollars(p.TotalCost),
		ExitPrice: p.ExitPrice, Status: p.Status, VenueOrderID: p.VenueOrderID,
		OpenedAt: p.OpenedAt, ClosedAt: p.ClosedAt,
	}
	if p.PnLDollars != nil {
		s := dollars(*p.PnLDollars)
		v.PnLDollars = &s
	}
	return v
}

// HandleListPositions supports optional ?status= and ?platform= filters.
func (h *Handlers) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	status := types.PositionStatus(r.URL.Query().Get("status"))

	positions, err := h.deps.Store.Positions(r.Context(), status, platformParam(r))
	if err != nil {
		h.logger.Error("list positions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	views := make([]positionView, len(positions))
	for i, p := range positions {
		views[i] = toPositionView(p)
	}
	writeJSON(w, http.StatusOK, views)
}

type positionsSummary struct {
	OpenCount      int    `json:"open_count"`
	PendingCount   int    `json:"pending_count"`
	ClosedCount    int    `json:"closed_count"`
	TotalExposure  string `json:"total_exposure"`
	RealizedPnL    string `json:"realized_pnl"`
}

// HandlePositionsSummary aggregates open exposure and realized P&L across
// every position.
func (h *Handlers) HandlePositionsSummary(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	positions, err := h.deps.Store.Positions(r.Context(), "", "")
	if err != nil {
		h.logger.Error("positions summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	var summary positionsSummary
	var exposure, realized float64
	for _, p := range positions {
		switch p.Status {
		case types.PositionOpen:
			summary.OpenCount++
			exposure += p.TotalCost
		case types.PositionPending:
			summary.PendingCount++
			exposure += p.TotalCost
		default:
			summary.ClosedCount++
			if p.PnLDollars != nil {
				realized += *p.PnLDollars
			}
		}
	}
	summary.TotalExposure = dollars(exposure)
	summary.RealizedPnL = dollars(realized)
	writeJSON(w, http.StatusOK, summary)
}

type dailyPnL struct {
	Date       string `json:"date"`
	PnLDollars string `json:"pnl_dollars"`
	Closed     int    `json:"closed"`
}

// HandleDailyPnL buckets realized P&L from closed positions by UTC day.
func (h *Handlers) HandleDailyPnL(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	positions, err := h.deps.Store.Positions(r.Context(), "", "")
	if err != nil {
		h.logger.Error("daily pnl", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	totals := map[string]float64{}
	counts := map[string]int{}
	for _, p := range positions {
		if p.ClosedAt == nil || p.PnLDollars == nil {
			continue
		}
		day := p.ClosedAt.UTC().Format("2006-01-02")
		totals[day] += *p.PnLDollars
		counts[day]++
	}

	days := make([]string, 0, len(totals))
	for d := range totals {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]dailyPnL, len(days))
	for i, d := range days {
		out[i] = dailyPnL{Date: d, PnLDollars: dollars(totals[d]), Closed: counts[d]}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleClosePosition closes an open or pending position at a caller-given
// exit price, supplied as the ?exit_price= query parameter.
func (h *Handlers) HandleClosePosition(w http.ResponseWriter, r *http.Request) {
	if h.deps.Lifecycle == nil {
		writeError(w, http.StatusServiceUnavailable, "lifecycle manager not configured")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	exitPrice, err := strconv.ParseFloat(r.URL.Query().Get("exit_price"), 64)
	if err != nil || exitPrice <= 0 || exitPrice >= 1 {
		writeError(w, http.StatusBadRequest, "exit_price query parameter must be a number in (0,1)")
		return
	}

	if err := h.deps.Lifecycle.CloseManually(r.Context(), id, exitPrice); err != nil {
		h.logger.Error("close position", "position_id", id, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type calibrationOverview struct {
	OverallBrierScore  *float64           `json:"overall_brier_score"`
	NumResolvedMarkets int                `json:"num_resolved_markets"`
	PerCategoryScores  map[string]float64 `json:"per_category_scores"`
}

// HandleCalibration reports the system's overall Brier score and a
// per-category breakdown, so a reviewer can see at a glance whether
// miscalibration is concentrated in one market category.
func (h *Handlers) HandleCalibration(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	records, err := h.deps.Store.ListCalibrationRecords(r.Context())
	if err != nil {
		h.logger.Error("list calibration records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calibration records")
		return
	}

	out := calibrationOverview{
		NumResolvedMarkets: len(records),
		PerCategoryScores:  map[string]float64{},
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusOK, out)
		return
	}

	var sumBrier float64
	catSum := map[types.Category]float64{}
	catCount := map[types.Category]int{}
	for _, rec := range records {
		sumBrier += rec.BrierScore
		catSum[rec.Category] += rec.BrierScore
		catCount[rec.Category]++
	}
	overall := sumBrier / float64(len(records))
	out.OverallBrierScore = &overall
	for cat, sum := range catSum {
		out.PerCategoryScores[string(cat)] = sum / float64(catCount[cat])
	}
	writeJSON(w, http.StatusOK, out)
}

// calibrationTrendWindow is the number of most-recent resolved predictions
// compared against the window before it to judge whether a desk's accuracy
// is improving, degrading, or holding steady.
const calibrationTrendWindow = 10

// calibrationTrendThreshold is the minimum swing in mean Brier score between
// the two windows before a trend is called improving or degrading rather
// than stable.
const calibrationTrendThreshold = 0.02

type agentCalibration struct {
	Role             types.AnalystRole `json:"role"`
	Count            int               `json:"count"`
	MeanEstimate     float64           `json:"mean_estimate"`
	MeanBrier        float64           `json:"mean_brier"`
	CalibrationTrend string            `json:"calibration_trend"`
	RecentAccuracy   *float64          `json:"recent_accuracy"`
}

// HandleCalibrationAgents reports per-role mean estimate, mean Brier score,
// trend direction, and recent accuracy across resolved markets.
func (h *Handlers) HandleCalibrationAgents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	records, err := h.deps.Store.ListCalibrationRecords(r.Context())
	if err != nil {
		h.logger.Error("calibration agents", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calibration records")
		return
	}

	roleEstimate := map[types.AnalystRole]func(types.CalibrationRecord) float64{
		types.RoleResearch: func(c types.CalibrationRecord) float64 { return c.ResearchEstimate },
		types.RoleBaseRate: func(c types.CalibrationRecord) float64 { return c.BaseRateEstimate },
		types.RoleModel:    func(c types.CalibrationRecord) float64 { return c.ModelEstimate },
	}

	roles := []types.AnalystRole{types.RoleResearch, types.RoleBaseRate, types.RoleModel}
	out := make([]agentCalibration, 0, len(roles))
	for _, role := range roles {
		extract := roleEstimate[role]

		sorted := make([]types.CalibrationRecord, len(records))
		copy(sorted, records)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ResolvedAt.Before(sorted[j].ResolvedAt) })

		briers := make([]float64, len(sorted))
		var sumEstimate, sumBrier float64
		for i, rec := range sorted {
			est := extract(rec)
			outcome := 0.0
			if rec.ActualOutcome {
				outcome = 1.0
			}
			diff := est - outcome
			briers[i] = diff * diff
			sumEstimate += est
			sumBrier += briers[i]
		}

		agent := agentCalibration{Role: role, Count: len(sorted), CalibrationTrend: "stable"}
		if len(sorted) > 0 {
			agent.MeanEstimate = sumEstimate / float64(len(sorted))
			agent.MeanBrier = sumBrier / float64(len(sorted))
		}
		if len(sorted) >= calibrationTrendWindow {
			recent := mean(briers[len(briers)-calibrationTrendWindow:])
			agent.RecentAccuracy = ptr(1 - recent)
		}
		agent.CalibrationTrend = calibrationTrend(briers)
		out = append(out, agent)
	}
	writeJSON(w, http.StatusOK, out)
}

// calibrationTrend compares the mean Brier score of the most recent window
// of predictions against the window immediately before it. It returns
// "stable" unless there are at least two full windows of history, matching
// the conservative behavior of only calling a trend once there is enough
// data to distinguish it from noise.
func calibrationTrend(briersByTime []float64) string {
	if len(briersByTime) < calibrationTrendWindow*2 {
		return "stable"
	}
	recent := briersByTime[len(briersByTime)-calibrationTrendWindow:]
	older := briersByTime[len(briersByTime)-calibrationTrendWindow*2 : len(briersByTime)-calibrationTrendWindow]

	delta := mean(recent) - mean(older)
	switch {
	case delta < -calibrationTrendThreshold:
		return "improving"
	case delta > calibrationTrendThreshold:
		return "degrading"
	default:
		return "stable"
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func ptr(v float64) *float64 { return &v }

type calibrationBucket struct {
	RangeLabel      string  `json:"range"`
	Count           int     `json:"count"`
	MeanForecast    float64 `json:"mean_forecast"`
	ObservedFreq    float64 `json:"observed_frequency"`
}

// HandleCalibrationChart buckets system probability forecasts into deciles
// and reports the observed outcome frequency per bucket — a reliability
// diagram for the ensemble as a whole.
func (h *Handlers) HandleCalibrationChart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	records, err := h.deps.Store.ListCalibrationRecords(r.Context())
	if err != nil {
		h.logger.Error("calibration chart", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calibration records")
		return
	}

	const numBuckets = 10
	sumForecast := make([]float64, numBuckets)
	sumOutcome := make([]float64, numBuckets)
	count := make([]int, numBuckets)

	for _, rec := range records {
		idx := int(rec.SystemProbability * numBuckets)
		if idx >= numBuckets {
			idx = numBuckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		sumForecast[idx] += rec.SystemProbability
		if rec.ActualOutcome {
			sumOutcome[idx]++
		}
		count[idx]++
	}

	out := make([]calibrationBucket, 0, numBuckets)
	for i := 0; i < numBuckets; i++ {
		lo := float64(i) / numBuckets
		hi := float64(i+1) / numBuckets
		b := calibrationBucket{
			RangeLabel: fmt.Sprintf("%.1f-%.1f", lo, hi),
			Count:      count[i],
		}
		if count[i] > 0 {
			b.MeanForecast = sumForecast[i] / float64(count[i])
			b.ObservedFreq = sumOutcome[i] / float64(count[i])
		}
		out = append(out, b)
	}
	writeJSON(w, http.StatusOK, out)
}
