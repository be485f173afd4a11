package estimator

import (
	"context"
	"fmt"
	"log/slog"

	"predengine/internal/llm"
	"predengine/pkg/types"
)

// MarketContext is the read-only view of a market each analyst role forms
// its estimate from.
type MarketContext struct {
	Title       string
	Description string
	YesPrice    float64
	Category    types.Category
}

// RoleEstimate is one analyst role's probability judgment for one market,
// before it has been assigned a market/scan id for persistence.
type RoleEstimate struct {
	Role        types.AnalystRole
	Probability float64
	Confidence  float64
	Reasoning   string
}

func clampProbability(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

// fallbackEstimate is what a role reports when its completion call or
// extraction fails. The pipeline continues rather than aborting the market.
func fallbackEstimate(role types.AnalystRole, mc MarketContext, reason string) RoleEstimate {
	return RoleEstimate{
		Role:        role,
		Probability: clampProbability(mc.YesPrice),
		Confidence:  0.1,
		Reasoning:   reason,
	}
}

const responseFormatInstruction = `Respond with a single JSON object of the form {"probability": <0-1>, "confidence": <0-1>, "reasoning": "<short justification>"} and nothing else.`

// researchRole estimates from current information. It calls a search tool
// when one is configured, then asks the completion endpoint to weigh the
// findings into a probability.
func researchRole(ctx context.Context, completion *llm.Client, search *llm.SearchClient, mc MarketContext, logger *slog.Logger) RoleEstimate {
	var searchContext string
	if search != nil {
		answer, sources, err := search.Search(ctx, mc.Title)
		if err != nil {
			logger.Warn("research role search failed", "market", mc.Title, "error", err)
		} else {
			searchContext = fmt.Sprintf("Recent search findings: %s\nSources: %v\n\n", answer, sources)
		}
	}

	system := "You are a research analyst forecasting a binary prediction market. Use current information to judge the true probability the market resolves YES. " + responseFormatInstruction
	user := fmt.Sprintf("%sMarket: %s\nDescription: %s\nCategory: %s\nCurrent YES price: %.2f\n\nWhat is the true probability this resolves YES?",
		searchContext, mc.Title, mc.Description, mc.Category, mc.YesPrice)

	resp, err := completion.Complete(ctx, system, user)
	if err != nil {
		return fallbackEstimate(types.RoleResearch, mc, fmt.Sprintf("completion error: %v", err))
	}
	est, ok := llm.ExtractEstimate(resp)
	if !ok {
		return fallbackEstimate(types.RoleResearch, mc, "could not extract a probability from the response")
	}
	return RoleEstimate{Role: types.RoleResearch, Probability: clampProbability(est.Probability), Confidence: est.Confidence, Reasoning: est.Reasoning}
}

// baseRateRole estimates from historical reference-class frequency only. It
// may search, but is instructed to ignore current sentiment or breaking news.
func baseRateRole(ctx context.Context, completion *llm.Client, search *llm.SearchClient, mc MarketContext, logger *slog.Logger) RoleEstimate {
	var searchContext string
	if search != nil {
		answer, sources, err := search.Search(ctx, "historical base rate "+mc.Title)
		if err != nil {
			logger.Warn("base_rate role search failed", "market", mc.Title, "error", err)
		} else {
			searchContext = fmt.Sprintf("Historical reference class findings: %s\nSources: %v\n\n", answer, sources)
		}
	}

	system := "You are a base-rate analyst. Estimate the probability a binary prediction market resolves YES using only the historical frequency of similar events in its reference class. Ignore current sentiment, polling, or breaking news. " + responseFormatInstruction
	user := fmt.Sprintf("%sMarket: %s\nDescription: %s\nCategory: %s\n\nWhat does the historical base rate for this reference class suggest the probability of YES is?",
		searchContext, mc.Title, mc.Description, mc.Category)

	resp, err := completion.Complete(ctx, system, user)
	if err != nil {
		return fallbackEstimate(types.RoleBaseRate, mc, fmt.Sprintf("completion error: %v", err))
	}
	est, ok := llm.ExtractEstimate(resp)
	if !ok {
		return fallbackEstimate(types.RoleBaseRate, mc, "could not extract a probability from the response")
	}
	return RoleEstimate{Role: types.RoleBaseRate, Probability: clampProbability(est.Probability), Confidence: est.Confidence, Reasoning: est.Reasoning}
}

// modelRole computes an estimate from reasoning and arithmetic alone, with
// no external tools.
func modelRole(ctx context.Context, completion *llm.Client, mc MarketContext, logger *slog.Logger) RoleEstimate {
	system := "You are a quantitative analyst. Using only the information given and logical reasoning, no external tools, estimate the probability a binary prediction market resolves YES. " + responseFormatInstruction
	user := fmt.Sprintf("Market: %s\nDescription: %s\nCategory: %s\nCurrent YES price: %.2f\n\nReason through the question and give your probability estimate.",
		mc.Title, mc.Description, mc.Category, mc.YesPrice)

	resp, err := completion.Complete(ctx, system, user)
	if err != nil {
		logger.Warn("model role completion failed", "market", mc.Title, "error", err)
		return fallbackEstimate(types.RoleModel, mc, fmt.Sprintf("completion error: %v", err))
	}
	est, ok := llm.ExtractEstimate(resp)
	if !ok {
		return fallbackEstimate(types.RoleModel, mc, "could not extract a probability from the response")
	}
	return RoleEstimate{Role: types.RoleModel, Probability: clampProbability(est.Probability), Confidence: est.Confidence, Reasoning: est.Reasoning}
}
