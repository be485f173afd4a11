package estimator

import (
	"math"
	"testing"

	"predengine/pkg/types"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestReduceConsensusMedianWhenAgreeing(t *testing.T) {
	t.Parallel()
	estimates := []RoleEstimate{
		{Role: types.RoleResearch, Probability: 0.48, Confidence: 0.5},
		{Role: types.RoleBaseRate, Probability: 0.52, Confidence: 0.5},
		{Role: types.RoleModel, Probability: 0.55, Confidence: 0.5},
	}

	got := reduceConsensus(estimates, 0.10)
	if got.debateNeeded {
		t.Error("expected debateNeeded=false")
	}
	if !approxEqual(got.divergence, 0.07, 0.001) {
		t.Errorf("divergence = %v, want ~0.07", got.divergence)
	}
	if !approxEqual(got.systemProbability, 0.52, 0.001) {
		t.Errorf("systemProbability = %v, want 0.52", got.systemProbability)
	}
	if got.method != MethodMedian {
		t.Errorf("method = %q, want median", got.method)
	}
}

func TestReduceConsensusWeightedMeanWhenDiverging(t *testing.T) {
	t.Parallel()
	estimates := []RoleEstimate{
		{Role: types.RoleResearch, Probability: 0.30, Confidence: 0.5},
		{Role: types.RoleBaseRate, Probability: 0.45, Confidence: 0.5},
		{Role: types.RoleModel, Probability: 0.60, Confidence: 0.5},
	}

	got := reduceConsensus(estimates, 0.10)
	if !got.debateNeeded {
		t.Error("expected debateNeeded=true")
	}
	if !approxEqual(got.divergence, 0.30, 0.001) {
		t.Errorf("divergence = %v, want 0.30", got.divergence)
	}
	if got.method != MethodWeightedAvgPreDebate {
		t.Errorf("method = %q, want weighted_avg (pre-debate)", got.method)
	}
	// equal confidences => plain mean
	if !approxEqual(got.systemProbability, 0.45, 0.001) {
		t.Errorf("systemProbability = %v, want 0.45", got.systemProbability)
	}
}

func TestReduceConsensusFallsBackToMedianWhenWeightsZero(t *testing.T) {
	t.Parallel()
	estimates := []RoleEstimate{
		{Role: types.RoleResearch, Probability: 0.20, Confidence: 0},
		{Role: types.RoleBaseRate, Probability: 0.50, Confidence: 0},
		{Role: types.RoleModel, Probability: 0.80, Confidence: 0},
	}

	got := reduceConsensus(estimates, 0.10)
	if !approxEqual(got.systemProbability, 0.50, 0.001) {
		t.Errorf("systemProbability = %v, want 0.50 (median fallback)", got.systemProbability)
	}
}

func TestMedianOddAndEvenCounts(t *testing.T) {
	t.Parallel()
	if got := median([]float64{0.1, 0.5, 0.9}); got != 0.5 {
		t.Errorf("median(odd) = %v, want 0.5", got)
	}
	if got := median([]float64{0.2, 0.4, 0.6, 0.8}); got != 0.5 {
		t.Errorf("median(even) = %v, want 0.5", got)
	}
}
