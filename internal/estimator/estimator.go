// Package estimator implements the ensemble probability estimator: a
// five-node state machine (three parallel analyst roles, a consensus
// reducer, and a conditional debate round) that turns a market's title,
// description, and current price into a single system probability.
package estimator

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"predengine/internal/config"
	"predengine/internal/llm"
)

// Estimator runs the ensemble graph for one market at a time. It is safe
// for concurrent use across markets; state is entirely per-call.
type Estimator struct {
	completion *llm.Client
	search     *llm.SearchClient
	dDebate    float64
	dConverged float64
	rMax       int
	logger     *slog.Logger
}

// New builds an Estimator. search may be nil, in which case the research
// and base_rate roles fall back to reasoning from the completion endpoint
// alone.
func New(completion *llm.Client, search *llm.SearchClient, logger *slog.Logger) *Estimator {
	return &Estimator{
		completion: completion,
		search:     search,
		dDebate:    config.DDebate,
		dConverged: config.DConverged,
		rMax:       config.RMax,
		logger:     logger.With("component", "estimator"),
	}
}

// Result is the ensemble's complete output for one market.
type Result struct {
	SystemProbability  float64
	Divergence         float64
	DebateNeeded       bool
	DebateRounds       int
	DebateConverged    bool
	Transcript         []TranscriptEntry
	ConsensusReasoning string
	Estimates          []RoleEstimate
}

// Run fans the three analyst roles out in parallel, reduces them to a
// consensus, and runs the debate protocol when they diverge beyond the
// configured threshold.
func (e *Estimator) Run(ctx context.Context, mc MarketContext) Result {
	estimates := e.fanOut(ctx, mc)
	consensus := reduceConsensus(estimates, e.dDebate)

	result := Result{
		SystemProbability: consensus.systemProbability,
		Divergence:        consensus.divergence,
		DebateNeeded:      consensus.debateNeeded,
		Estimates:         estimates,
	}

	if !consensus.debateNeeded {
		result.ConsensusReasoning = string(consensus.method)
		return result
	}

	debate := runDebate(ctx, e.completion, mc, estimates, e.rMax, e.dConverged, e.logger)
	result.SystemProbability = debate.consensus
	result.DebateRounds = debate.rounds
	result.DebateConverged = debate.converged
	result.Transcript = debate.transcript
	if debate.converged {
		result.ConsensusReasoning = "debate converged"
	} else {
		result.ConsensusReasoning = "debate exhausted, consensus pulled toward 0.5"
	}
	return result
}

func (e *Estimator) fanOut(ctx context.Context, mc MarketContext) []RoleEstimate {
	estimates := make([]RoleEstimate, 3)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		estimates[0] = researchRole(gctx, e.completion, e.search, mc, e.logger)
		return nil
	})
	g.Go(func() error {
		estimates[1] = baseRateRole(gctx, e.completion, e.search, mc, e.logger)
		return nil
	})
	g.Go(func() error {
		estimates[2] = modelRole(gctx, e.completion, mc, e.logger)
		return nil
	})
	_ = g.Wait() // role failures are absorbed into fallback estimates, never propagated

	return estimates
}
