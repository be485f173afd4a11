package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"predengine/internal/estimator"
	"predengine/pkg/types"
)

type fakeStore struct {
	markets      []types.Market
	marketsByID  map[int64]types.Market
	positions    []types.Position
	calibration  []types.CalibrationRecord
	scanHistory  []types.ScanResult
	debates      []types.EdgeAnalysis
	insertedEst  []types.ProbabilityEstimate
	insertedEdge []types.EdgeAnalysis
	pingErr      error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}
func (f *fakeStore) ListDebates(ctx context.Context, limit int) ([]types.EdgeAnalysis, error) {
	return f.debates, nil
}
func (f *fakeStore) Markets(ctx context.Context, venue types.Venue, limit int) ([]types.Market, error) {
	return f.markets, nil
}
func (f *fakeStore) GetMarket(ctx context.Context, id int64) (types.Market, error) {
	m, ok := f.marketsByID[id]
	if !ok {
		return types.Market{}, errors.New("not found")
	}
	return m, nil
}
func (f *fakeStore) ScanHistory(ctx context.Context, limit int) ([]types.ScanResult, error) {
	return f.scanHistory, nil
}
func (f *fakeStore) Positions(ctx context.Context, status types.PositionStatus, venue types.Venue) ([]types.Position, error) {
	return f.positions, nil
}
func (f *fakeStore) ListCalibrationRecords(ctx context.Context) ([]types.CalibrationRecord, error) {
	return f.calibration, nil
}
func (f *fakeStore) InsertProbabilityEstimate(ctx context.Context, e types.ProbabilityEstimate) (int64, error) {
	f.insertedEst = append(f.insertedEst, e)
	return int64(len(f.insertedEst)), nil
}
func (f *fakeStore) InsertEdgeAnalysis(ctx context.Context, e types.EdgeAnalysis) (int64, error) {
	f.insertedEdge = append(f.insertedEdge, e)
	return int64(len(f.insertedEdge)), nil
}

type fakeEstimator struct {
	result estimator.Result
}

func (f *fakeEstimator) Run(ctx context.Context, mc estimator.MarketContext) estimator.Result {
	return f.result
}

type fakeLifecycle struct {
	closeErr error
	closedID int64
	closedAt float64
}

func (f *fakeLifecycle) CloseManually(ctx context.Context, positionID int64, exitPrice float64) error {
	f.closedID = positionID
	f.closedAt = exitPrice
	return f.closeErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["db"] != "ok" {
		t.Errorf("body = %+v, want status/db = ok", body)
	}
}

func TestHandleHealthReturns503OnDBError(t *testing.T) {
	t.Parallel()
	st := &fakeStore{pingErr: errors.New("database is locked")}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestHandleListMarketsReturns503WithoutStore(t *testing.T) {
	t.Parallel()
	h := NewHandlers(Dependencies{}, discardLogger())
	rr := httptest.NewRecorder()
	h.HandleListMarkets(rr, httptest.NewRequest(http.MethodGet, "/markets", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestHandleListMarketsReturnsViews(t *testing.T) {
	t.Parallel()
	st := &fakeStore{markets: []types.Market{{ID: 1, Title: "Will it rain", YesPrice: 0.4}}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleListMarkets(rr, httptest.NewRequest(http.MethodGet, "/markets", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var views []marketView
	if err := json.NewDecoder(rr.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Title != "Will it rain" {
		t.Errorf("views = %+v", views)
	}
}

func TestHandleListMarketsRejectsBadLimit(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/markets?limit=-1", nil)
	h.HandleListMarkets(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleAnalyzePersistsEstimatesAndEdgeAnalysis(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		marketsByID: map[int64]types.Market{
			1: {ID: 1, Title: "Will it rain", YesPrice: 0.55},
		},
	}
	est := &fakeEstimator{result: estimator.Result{
		SystemProbability: 0.70,
		Estimates: []estimator.RoleEstimate{
			{Role: types.RoleResearch, Probability: 0.68, Confidence: 0.7},
			{Role: types.RoleBaseRate, Probability: 0.72, Confidence: 0.6},
			{Role: types.RoleModel, Probability: 0.70, Confidence: 0.8},
		},
	}}
	h := NewHandlers(Dependencies{Store: st, Estimator: est, Bankroll: 10000, MinEdge: 0.05, MaxPosition: 0.05}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/analyze/1", nil)
	req.SetPathValue("marketID", "1")
	rr := httptest.NewRecorder()
	h.HandleAnalyze(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(st.insertedEst) != 3 {
		t.Errorf("insertedEst = %d, want 3", len(st.insertedEst))
	}
	if len(st.insertedEdge) != 1 {
		t.Fatalf("insertedEdge = %d, want 1", len(st.insertedEdge))
	}
	if !st.insertedEdge[0].Tradeable {
		t.Error("expected a tradeable edge analysis (0.70 vs 0.55 clears min edge)")
	}

	var resp analyzeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.EdgeAnalysis.RecommendedSide != types.SideYes {
		t.Errorf("RecommendedSide = %q, want yes", resp.EdgeAnalysis.RecommendedSide)
	}
}

func TestHandleAnalyzeUnknownMarket(t *testing.T) {
	t.Parallel()
	st := &fakeStore{marketsByID: map[int64]types.Market{}}
	est := &fakeEstimator{}
	h := NewHandlers(Dependencies{Store: st, Estimator: est}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/analyze/99", nil)
	req.SetPathValue("marketID", "99")
	rr := httptest.NewRecorder()
	h.HandleAnalyze(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandleClosePosition(t *testing.T) {
	t.Parallel()
	lc := &fakeLifecycle{}
	h := NewHandlers(Dependencies{Lifecycle: lc}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/positions/7/close?exit_price=0.62", nil)
	req.SetPathValue("id", "7")
	rr := httptest.NewRecorder()
	h.HandleClosePosition(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if lc.closedID != 7 || lc.closedAt != 0.62 {
		t.Errorf("closedID=%d closedAt=%v, want 7/0.62", lc.closedID, lc.closedAt)
	}
}

func TestHandleClosePositionRejectsOutOfRangePrice(t *testing.T) {
	t.Parallel()
	lc := &fakeLifecycle{}
	h := NewHandlers(Dependencies{Lifecycle: lc}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/positions/7/close?exit_price=1.5", nil)
	req.SetPathValue("id", "7")
	rr := httptest.NewRecorder()
	h.HandleClosePosition(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleClosePositionPropagatesLifecycleError(t *testing.T) {
	t.Parallel()
	lc := &fakeLifecycle{closeErr: errors.New("position 7 is not open or pending")}
	h := NewHandlers(Dependencies{Lifecycle: lc}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/positions/7/close?exit_price=0.5", nil)
	req.SetPathValue("id", "7")
	rr := httptest.NewRecorder()
	h.HandleClosePosition(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestHandleCalibration(t *testing.T) {
	t.Parallel()
	st := &fakeStore{calibration: []types.CalibrationRecord{
		{MarketID: 1, BrierScore: 0.04, Category: types.CategoryPolitics},
		{MarketID: 2, BrierScore: 0.16, Category: types.CategoryPolitics},
		{MarketID: 3, BrierScore: 0.09, Category: types.CategorySports},
	}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleCalibration(rr, httptest.NewRequest(http.MethodGet, "/calibration", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var overview calibrationOverview
	if err := json.NewDecoder(rr.Body).Decode(&overview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if overview.NumResolvedMarkets != 3 {
		t.Errorf("num resolved = %d, want 3", overview.NumResolvedMarkets)
	}
	if overview.OverallBrierScore == nil || *overview.OverallBrierScore < 0.0966 || *overview.OverallBrierScore > 0.0967 {
		t.Errorf("overall brier = %v, want ~0.0967", overview.OverallBrierScore)
	}
	if got := overview.PerCategoryScores["politics"]; got < 0.0999 || got > 0.1001 {
		t.Errorf("politics brier = %v, want 0.10", got)
	}
	if got := overview.PerCategoryScores["sports"]; got != 0.09 {
		t.Errorf("sports brier = %v, want 0.09", got)
	}
}

func TestHandleCalibrationEmpty(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleCalibration(rr, httptest.NewRequest(http.MethodGet, "/calibration", nil))

	var overview calibrationOverview
	if err := json.NewDecoder(rr.Body).Decode(&overview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if overview.OverallBrierScore != nil {
		t.Errorf("overall brier = %v, want nil with no records", overview.OverallBrierScore)
	}
	if overview.NumResolvedMarkets != 0 {
		t.Errorf("num resolved = %d, want 0", overview.NumResolvedMarkets)
	}
}

func TestDollarsFormatsToTwoDecimals(t *testing.T) {
	t.Parallel()
	if got := dollars(19.999999999999996); got != "20.00" {
		t.Errorf("dollars = %q, want 20.00", got)
	}
}

type fakeExecutor struct {
	position types.Position
	err      error
	called   bool
}

func (f *fakeExecutor) Execute(ctx context.Context, market types.Market, analysis types.EdgeAnalysis) (types.Position, error) {
	f.called = true
	return f.position, f.err
}

func TestHandleGetMarket(t *testing.T) {
	t.Parallel()
	st := &fakeStore{marketsByID: map[int64]types.Market{5: {ID: 5, Title: "Election outcome"}}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/markets/5", nil)
	req.SetPathValue("id", "5")
	rr := httptest.NewRecorder()
	h.HandleGetMarket(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var view marketView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Title != "Election outcome" {
		t.Errorf("view = %+v", view)
	}
}

func TestHandleGetMarketNotFound(t *testing.T) {
	t.Parallel()
	st := &fakeStore{marketsByID: map[int64]types.Market{}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/markets/5", nil)
	req.SetPathValue("id", "5")
	rr := httptest.NewRecorder()
	h.HandleGetMarket(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandleScanResultsFiltersByCategoryAndVolume(t *testing.T) {
	t.Parallel()
	st := &fakeStore{markets: []types.Market{
		{ID: 1, Category: types.CategoryPolitics, Volume24h: 50000},
		{ID: 2, Category: types.CategoryPolitics, Volume24h: 500},
		{ID: 3, Category: types.CategorySports, Volume24h: 90000},
	}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/scan/results?category=politics&min_volume=1000", nil)
	rr := httptest.NewRecorder()
	h.HandleScanResults(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var views []marketView
	if err := json.NewDecoder(rr.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].ID != 1 {
		t.Errorf("views = %+v", views)
	}
}

func TestHandleScanResultsSortsByVolumeDescending(t *testing.T) {
	t.Parallel()
	st := &fakeStore{markets: []types.Market{
		{ID: 1, Volume24h: 100},
		{ID: 2, Volume24h: 900},
		{ID: 3, Volume24h: 400},
	}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/scan/results?sort_by=volume", nil)
	rr := httptest.NewRecorder()
	h.HandleScanResults(rr, req)

	var views []marketView
	if err := json.NewDecoder(rr.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 3 || views[0].ID != 2 || views[1].ID != 3 || views[2].ID != 1 {
		t.Errorf("views not sorted by volume desc: %+v", views)
	}
}

func TestHandleDebates(t *testing.T) {
	t.Parallel()
	st := &fakeStore{debates: []types.EdgeAnalysis{{MarketID: 1, DebateTriggered: true}}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleDebates(rr, httptest.NewRequest(http.MethodGet, "/analyze/debates", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var views []edgeAnalysisView
	if err := json.NewDecoder(rr.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || !views[0].DebateTriggered {
		t.Errorf("views = %+v", views)
	}
}

func TestHandlePositionsSummary(t *testing.T) {
	t.Parallel()
	loss, win := -5.0, 10.0
	st := &fakeStore{positions: []types.Position{
		{Status: types.PositionOpen, TotalCost: 100},
		{Status: types.PositionPending, TotalCost: 50},
		{Status: types.PositionClosedWin, PnLDollars: &win},
		{Status: types.PositionClosedLoss, PnLDollars: &loss},
	}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandlePositionsSummary(rr, httptest.NewRequest(http.MethodGet, "/positions/summary", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var summary positionsSummary
	if err := json.NewDecoder(rr.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.OpenCount != 1 || summary.PendingCount != 1 || summary.ClosedCount != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TotalExposure != "150.00" || summary.RealizedPnL != "5.00" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestHandleDailyPnL(t *testing.T) {
	t.Parallel()
	day := time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)
	pnl1, pnl2 := 12.0, -3.0
	st := &fakeStore{positions: []types.Position{
		{Status: types.PositionClosedWin, ClosedAt: &day, PnLDollars: &pnl1},
		{Status: types.PositionClosedLoss, ClosedAt: &day, PnLDollars: &pnl2},
		{Status: types.PositionOpen},
	}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleDailyPnL(rr, httptest.NewRequest(http.MethodGet, "/positions/daily-pnl", nil))

	var out []dailyPnL
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Date != "2026-07-15" || out[0].PnLDollars != "9.00" || out[0].Closed != 2 {
		t.Errorf("out = %+v", out)
	}
}

func TestHandleCalibrationAgents(t *testing.T) {
	t.Parallel()
	st := &fakeStore{calibration: []types.CalibrationRecord{
		{ResearchEstimate: 0.6, BaseRateEstimate: 0.5, ModelEstimate: 0.55, ActualOutcome: true},
		{ResearchEstimate: 0.4, BaseRateEstimate: 0.5, ModelEstimate: 0.45, ActualOutcome: false},
	}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleCalibrationAgents(rr, httptest.NewRequest(http.MethodGet, "/calibration/agents", nil))

	var agents []agentCalibration
	if err := json.NewDecoder(rr.Body).Decode(&agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("agents = %+v", agents)
	}
	for _, a := range agents {
		if a.Count != 2 {
			t.Errorf("agent %s count = %d, want 2", a.Role, a.Count)
		}
		if a.CalibrationTrend != "stable" {
			t.Errorf("agent %s trend = %q, want stable with < 20 records", a.Role, a.CalibrationTrend)
		}
		if a.RecentAccuracy != nil {
			t.Errorf("agent %s recent accuracy = %v, want nil with < 10 records", a.Role, a.RecentAccuracy)
		}
	}
}

func TestHandleCalibrationAgentsDetectsTrend(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var records []types.CalibrationRecord
	// Older window: research desk consistently wrong (est 0.9, outcome false -> brier 0.81).
	for i := 0; i < 10; i++ {
		records = append(records, types.CalibrationRecord{
			ResearchEstimate: 0.9, BaseRateEstimate: 0.5, ModelEstimate: 0.5,
			ActualOutcome: false,
			ResolvedAt:    base.AddDate(0, 0, i),
		})
	}
	// Recent window: research desk now well-calibrated (est 0.5, outcome alternates -> brier 0.25).
	for i := 10; i < 20; i++ {
		records = append(records, types.CalibrationRecord{
			ResearchEstimate: 0.5, BaseRateEstimate: 0.5, ModelEstimate: 0.5,
			ActualOutcome: i%2 == 0,
			ResolvedAt:    base.AddDate(0, 0, i),
		})
	}

	st := &fakeStore{calibration: records}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleCalibrationAgents(rr, httptest.NewRequest(http.MethodGet, "/calibration/agents", nil))

	var agents []agentCalibration
	if err := json.NewDecoder(rr.Body).Decode(&agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, a := range agents {
		if a.Role != types.RoleResearch {
			continue
		}
		if a.CalibrationTrend != "improving" {
			t.Errorf("research trend = %q, want improving", a.CalibrationTrend)
		}
		if a.RecentAccuracy == nil || *a.RecentAccuracy < 0.74 || *a.RecentAccuracy > 0.76 {
			t.Errorf("research recent accuracy = %v, want ~0.75", a.RecentAccuracy)
		}
	}
}

func TestHandleCalibrationChartBucketsByForecast(t *testing.T) {
	t.Parallel()
	st := &fakeStore{calibration: []types.CalibrationRecord{
		{SystemProbability: 0.85, ActualOutcome: true},
		{SystemProbability: 0.82, ActualOutcome: false},
		{SystemProbability: 0.15, ActualOutcome: false},
	}}
	h := NewHandlers(Dependencies{Store: st}, discardLogger())

	rr := httptest.NewRecorder()
	h.HandleCalibrationChart(rr, httptest.NewRequest(http.MethodGet, "/calibration/chart", nil))

	var buckets []calibrationBucket
	if err := json.NewDecoder(rr.Body).Decode(&buckets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buckets) != 10 {
		t.Fatalf("buckets = %d, want 10", len(buckets))
	}
	if buckets[8].Count != 2 || buckets[1].Count != 1 {
		t.Errorf("buckets = %+v", buckets)
	}
}

func TestHandleAnalyzeExecutesWhenTradeableAndExecuteRequested(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		marketsByID: map[int64]types.Market{
			1: {ID: 1, Title: "Will it rain", YesPrice: 0.55},
		},
	}
	est := &fakeEstimator{result: estimator.Result{
		SystemProbability: 0.70,
		Estimates: []estimator.RoleEstimate{
			{Role: types.RoleResearch, Probability: 0.70, Confidence: 0.7},
		},
	}}
	ex := &fakeExecutor{position: types.Position{ID: 42}}
	h := NewHandlers(Dependencies{Store: st, Estimator: est, Executor: ex, Bankroll: 10000, MinEdge: 0.05, MaxPosition: 0.05}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/analyze/1?execute=true", nil)
	req.SetPathValue("marketID", "1")
	rr := httptest.NewRecorder()
	h.HandleAnalyze(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !ex.called {
		t.Fatal("expected executor to be called")
	}
	var resp analyzeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ExecutionStatus != "placed" || resp.PositionID != 42 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleAnalyzeSkipsExecutionWithoutExecuteParam(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		marketsByID: map[int64]types.Market{
			1: {ID: 1, Title: "Will it rain", YesPrice: 0.55},
		},
	}
	est := &fakeEstimator{result: estimator.Result{
		SystemProbability: 0.70,
		Estimates: []estimator.RoleEstimate{
			{Role: types.RoleResearch, Probability: 0.70, Confidence: 0.7},
		},
	}}
	ex := &fakeExecutor{position: types.Position{ID: 42}}
	h := NewHandlers(Dependencies{Store: st, Estimator: est, Executor: ex, Bankroll: 10000, MinEdge: 0.05, MaxPosition: 0.05}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/analyze/1", nil)
	req.SetPathValue("marketID", "1")
	rr := httptest.NewRecorder()
	h.HandleAnalyze(rr, req)

	if ex.called {
		t.Error("executor should not be called without ?execute=true")
	}
}
