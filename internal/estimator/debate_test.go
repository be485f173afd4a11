package estimator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"predengine/internal/llm"
	"predengine/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func chatServerAlwaysReturning(content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestRunDebateConvergesImmediately(t *testing.T) {
	t.Parallel()
	srv := chatServerAlwaysReturning(`updated probability: 0.50`)
	defer srv.Close()

	completion := llm.NewClient(srv.URL, "key", "model")
	mc := MarketContext{Title: "Will it happen"}
	initial := []RoleEstimate{
		{Role: types.RoleResearch, Probability: 0.30, Confidence: 0.5},
		{Role: types.RoleBaseRate, Probability: 0.45, Confidence: 0.5},
		{Role: types.RoleModel, Probability: 0.60, Confidence: 0.5},
	}

	got := runDebate(context.Background(), completion, mc, initial, 5, 0.05, discardLogger())
	if !got.converged {
		t.Error("expected converged=true")
	}
	if got.rounds != 1 {
		t.Errorf("rounds = %d, want 1", got.rounds)
	}
	if got.consensus != 0.50 {
		t.Errorf("consensus = %v, want 0.50", got.consensus)
	}
	if len(got.transcript) != 3 {
		t.Errorf("transcript length = %d, want 3 (one opening statement per role)", len(got.transcript))
	}
}

func TestRunDebateExhaustsAndPullsTowardHalf(t *testing.T) {
	t.Parallel()
	srv := chatServerAlwaysReturning(`I have no further comment.`) // unparseable: no update
	defer srv.Close()

	completion := llm.NewClient(srv.URL, "key", "model")
	mc := MarketContext{Title: "Will it happen"}
	initial := []RoleEstimate{
		{Role: types.RoleResearch, Probability: 0.30, Confidence: 0.5},
		{Role: types.RoleBaseRate, Probability: 0.45, Confidence: 0.5},
		{Role: types.RoleModel, Probability: 0.60, Confidence: 0.5},
	}

	got := runDebate(context.Background(), completion, mc, initial, 5, 0.05, discardLogger())
	if got.converged {
		t.Error("expected converged=false; probabilities never moved")
	}
	if got.rounds != 5 {
		t.Errorf("rounds = %d, want 5 (R_MAX)", got.rounds)
	}
	// weighted mean of 0.30/0.45/0.60 at equal confidence is 0.45, pulled 10% toward 0.5
	want := 0.9*0.45 + 0.1*0.5
	if !approxEqual(got.consensus, want, 0.001) {
		t.Errorf("consensus = %v, want %v", got.consensus, want)
	}
	last := got.transcript[len(got.transcript)-1]
	if last.Type != "moderator" {
		t.Errorf("expected final transcript entry to be a moderator note, got %q", last.Type)
	}
}
