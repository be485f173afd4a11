package edge

import (
	"testing"

	"predengine/pkg/types"
)

func baseInput() Input {
	return Input{
		MarketID:       1,
		ScanID:         "scan-1",
		Bankroll:       10000,
		MinEdge:        0.05,
		MaxPositionPct: 0.05,
	}
}

func TestEvaluateYesSideTradeable(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.SystemProbability = 0.70
	in.MarketPrice = 0.55

	got := Evaluate(in)
	if got.RecommendedSide != types.SideYes {
		t.Errorf("RecommendedSide = %q, want yes", got.RecommendedSide)
	}
	if got.Edge != 0.15 {
		t.Errorf("Edge = %v, want 0.15", got.Edge)
	}
	if got.ExpectedValue <= 0 {
		t.Errorf("ExpectedValue = %v, want > 0", got.ExpectedValue)
	}
	if got.PositionSizeDollars > 500 {
		t.Errorf("PositionSizeDollars = %v, want <= 500", got.PositionSizeDollars)
	}
	if !got.Tradeable {
		t.Error("expected Tradeable=true")
	}
	if got.RejectionReason != "" {
		t.Errorf("RejectionReason = %q, want empty", got.RejectionReason)
	}
}

func TestEvaluateNoSideTradeable(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.SystemProbability = 0.30
	in.MarketPrice = 0.55

	got := Evaluate(in)
	if got.RecommendedSide != types.SideNo {
		t.Errorf("RecommendedSide = %q, want no", got.RecommendedSide)
	}
	if got.Edge != 0.25 {
		t.Errorf("Edge = %v, want 0.25", got.Edge)
	}
	if !got.Tradeable {
		t.Error("expected Tradeable=true")
	}
}

func TestEvaluateRejectsEdgeTooSmall(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.SystemProbability = 0.52
	in.MarketPrice = 0.50
	in.MinEdge = 0.05

	got := Evaluate(in)
	if got.Tradeable {
		t.Error("expected Tradeable=false")
	}
	if got.RejectionReason != "edge below minimum" {
		t.Errorf("RejectionReason = %q", got.RejectionReason)
	}
	if got.NumContracts != 0 || got.PositionSizeDollars != 0 {
		t.Errorf("expected zeroed sizing fields, got %+v", got)
	}
}

func TestEvaluateKellyCapLimitsPositionSize(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.SystemProbability = 0.90
	in.MarketPrice = 0.50
	in.MaxPositionPct = 0.05

	got := Evaluate(in)
	if got.PositionSizeDollars > 500 {
		t.Errorf("PositionSizeDollars = %v, want <= 500 regardless of Kelly math", got.PositionSizeDollars)
	}
	if got.HalfKellyFraction > 0.25 {
		t.Errorf("HalfKellyFraction = %v, want <= 0.25 hard cap", got.HalfKellyFraction)
	}
}

func TestEvaluateRejectsInvalidPWin(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.SystemProbability = 1.0
	in.MarketPrice = 0.50

	got := Evaluate(in)
	if got.RejectionReason != "invalid p_win" {
		t.Errorf("RejectionReason = %q, want invalid p_win", got.RejectionReason)
	}
}

func TestEvaluateRejectsInvalidPayoffStructure(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.SystemProbability = 0.90
	in.MarketPrice = 0
	in.MinEdge = 0

	got := Evaluate(in)
	if got.RejectionReason != "invalid payoff structure" {
		t.Errorf("RejectionReason = %q, want invalid payoff structure", got.RejectionReason)
	}
}

func TestEvaluateNotTradeableWhenContractsRoundToZero(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.SystemProbability = 0.56
	in.MarketPrice = 0.50
	in.Bankroll = 1 // tiny bankroll forces num_contracts to floor to 0
	in.MaxPositionPct = 0.05

	got := Evaluate(in)
	if got.Tradeable {
		t.Error("expected Tradeable=false when num_contracts floors to 0")
	}
	if got.NumContracts != 0 {
		t.Errorf("NumContracts = %d, want 0", got.NumContracts)
	}
}
