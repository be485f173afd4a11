// Package edge implements the half-Kelly sizing gate that turns an
// ensemble probability estimate and a market price into a trade/no-trade
// decision with a recommended side and size.
package edge

import (
	"math"

	"predengine/internal/config"
	"predengine/pkg/types"
)

// Input is everything the gate needs for one market's analysis.
type Input struct {
	MarketID            int64
	ScanID              string
	SystemProbability   float64
	MarketPrice         float64
	Bankroll            float64
	MinEdge             float64
	MaxPositionPct      float64 // fraction of bankroll, e.g. 0.05
	DebateTriggered     bool
	DebateTranscript    string
	EstimatesDivergence float64
}

func round(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

// Evaluate runs the side-selection, rejection taxonomy, and half-Kelly
// sizing math against one market. Rejection checks run in order; the first
// match short-circuits with a zeroed, non-tradeable result.
func Evaluate(in Input) types.EdgeAnalysis {
	p := in.SystemProbability
	m := in.MarketPrice

	var side types.Side
	var pWin, profitIfWin, lossIfLose float64
	if p > m {
		side = types.SideYes
		pWin = p
		profitIfWin = 1 - m
		lossIfLose = m
	} else {
		side = types.SideNo
		pWin = 1 - p
		profitIfWin = m
		lossIfLose = 1 - m
	}

	edgeValue := math.Abs(p - m)

	result := types.EdgeAnalysis{
		MarketID:            in.MarketID,
		ScanID:              in.ScanID,
		SystemProbability:   round(p, 4),
		MarketPrice:         round(m, 4),
		Edge:                round(edgeValue, 4),
		RecommendedSide:     side,
		DebateTriggered:     in.DebateTriggered,
		DebateTranscript:    in.DebateTranscript,
		EstimatesDivergence: round(in.EstimatesDivergence, 4),
	}

	switch {
	case edgeValue < in.MinEdge:
		result.RejectionReason = "edge below minimum"
		return result
	case pWin <= 0 || pWin >= 1:
		result.RejectionReason = "invalid p_win"
		return result
	case profitIfWin <= 0 || lossIfLose <= 0:
		result.RejectionReason = "invalid payoff structure"
		return result
	}

	ev := pWin*profitIfWin - (1-pWin)*lossIfLose
	b := profitIfWin / lossIfLose
	fullKelly := (pWin*b - (1 - pWin)) / b
	fullKelly = math.Max(0, math.Min(1, fullKelly))

	halfKelly := math.Min(fullKelly/2, config.MaxPositionPctCap)
	positionDollars := math.Min(halfKelly*in.Bankroll, in.MaxPositionPct*in.Bankroll)

	contractCost := m
	if side == types.SideNo {
		contractCost = 1 - m
	}
	numContracts := 0
	if contractCost > 0 {
		numContracts = int(math.Floor(positionDollars / contractCost))
	}

	result.ExpectedValue = round(ev, 6)
	result.KellyFraction = round(fullKelly, 6)
	result.HalfKellyFraction = round(halfKelly, 6)
	result.PositionSizeDollars = round(positionDollars, 4)
	result.NumContracts = numContracts
	result.Tradeable = ev > 0 && numContracts > 0

	return result
}
