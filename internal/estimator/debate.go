package estimator

import (
	"context"
	"fmt"
	"log/slog"

	"predengine/internal/llm"
	"predengine/pkg/types"
)

// TranscriptEntry is one message recorded during a debate round.
type TranscriptEntry struct {
	Role               types.AnalystRole
	Round              int
	Type               string // opening, critique, rebuttal, moderator
	Message            string
	UpdatedProbability float64
}

type debateResult struct {
	consensus  float64
	rounds     int
	converged  bool
	transcript []TranscriptEntry
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func roundType(round int) string {
	switch round {
	case 1:
		return "opening"
	case 2:
		return "critique"
	default:
		return "rebuttal"
	}
}

// runDebate executes the multi-round debate protocol against the three
// post-consensus estimates. Each role revises its probability in turn;
// the loop exits early on convergence, or pulls the weighted average
// toward 0.5 if it runs to exhaustion.
func runDebate(ctx context.Context, completion *llm.Client, mc MarketContext, initial []RoleEstimate, rMax int, dConverged float64, logger *slog.Logger) debateResult {
	current := make([]RoleEstimate, len(initial))
	copy(current, initial)

	initialConfidence := make(map[types.AnalystRole]float64, len(initial))
	for _, e := range initial {
		initialConfidence[e.Role] = e.Confidence
	}

	var transcript []TranscriptEntry
	converged := false
	round := 1

	for ; round <= rMax; round++ {
		rt := roundType(round)

		for i, est := range current {
			var peer RoleEstimate
			if rt == "critique" {
				peer = current[(i+1)%len(current)]
			}

			msg, newProb, err := debateTurn(ctx, completion, mc, est, peer, rt)
			if err != nil {
				logger.Warn("debate turn failed", "role", est.Role, "round", round, "error", err)
				msg = fmt.Sprintf("no response: %v", err)
				newProb = est.Probability // missing/unparseable output leaves the prior probability standing
			}

			transcript = append(transcript, TranscriptEntry{
				Role:               est.Role,
				Round:              round,
				Type:               rt,
				Message:            truncate(msg, 500),
				UpdatedProbability: newProb,
			})
			current[i].Probability = newProb
		}

		probs := make([]float64, len(current))
		for i, e := range current {
			probs[i] = e.Probability
		}
		if spread(probs) <= dConverged {
			converged = true
			break
		}
	}

	probs := make([]float64, len(current))
	for i, e := range current {
		probs[i] = e.Probability
	}

	var consensus float64
	if converged {
		consensus = median(probs)
	} else {
		var weightedSum, weightSum float64
		for _, e := range current {
			c := initialConfidence[e.Role]
			weightedSum += e.Probability * c
			weightSum += c
		}
		if weightSum > 0 {
			consensus = weightedSum / weightSum
		} else {
			consensus = median(probs)
		}
		consensus = 0.9*consensus + 0.1*0.5

		transcript = append(transcript, TranscriptEntry{
			Type:               "moderator",
			Round:              round,
			Message:            "debate exhausted without convergence; consensus pulled 10% toward 0.5",
			UpdatedProbability: consensus,
		})
	}

	actualRounds := round
	if actualRounds > rMax {
		actualRounds = rMax
	}

	return debateResult{consensus: consensus, rounds: actualRounds, converged: converged, transcript: transcript}
}

func debateTurn(ctx context.Context, completion *llm.Client, mc MarketContext, self, peer RoleEstimate, rt string) (string, float64, error) {
	var user string
	switch rt {
	case "opening":
		user = fmt.Sprintf("Market: %s\nYour current estimate: probability %.2f, confidence %.2f.\nState your opening position in 2-3 sentences, then end with \"updated probability: X\".",
			mc.Title, self.Probability, self.Confidence)
	case "critique":
		user = fmt.Sprintf("Market: %s\nA peer analyst estimates probability %.2f, reasoning: %s\nCritique their reasoning, then say whether you revise your own estimate. End with \"updated probability: X\".",
			mc.Title, peer.Probability, truncate(peer.Reasoning, 300))
	default:
		user = fmt.Sprintf("Market: %s\nOther analysts are converging toward a different value than your current estimate of %.2f. Offer a rebuttal or concede ground. End with \"updated probability: X\".",
			mc.Title, self.Probability)
	}
	system := fmt.Sprintf("You are the %s analyst in a multi-round forecasting debate about a prediction market.", self.Role)

	resp, err := completion.Complete(ctx, system, user)
	if err != nil {
		return "", self.Probability, err
	}

	newProb := self.Probability
	if est, ok := llm.ExtractEstimate(resp); ok {
		newProb = clampProbability(est.Probability)
	}
	return resp, newProb, nil
}
