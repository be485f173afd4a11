package llm

import "testing"

func TestExtractEstimateParsesJSON(t *testing.T) {
	t.Parallel()
	est, ok := ExtractEstimate(`{"probability": 0.72, "confidence": 0.8, "reasoning": "base rates favor yes"}`)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if est.Probability != 0.72 {
		t.Errorf("Probability = %v, want 0.72", est.Probability)
	}
	if est.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", est.Confidence)
	}
	if est.Reasoning != "base rates favor yes" {
		t.Errorf("Reasoning = %q", est.Reasoning)
	}
}

func TestExtractEstimateParsesJSONInsideCodeBlock(t *testing.T) {
	t.Parallel()
	response := "Here's my analysis:\n```json\n{\"probability\": 0.35, \"confidence\": 0.6}\n```\n"
	est, ok := ExtractEstimate(response)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if est.Probability != 0.35 {
		t.Errorf("Probability = %v, want 0.35", est.Probability)
	}
}

func TestExtractEstimateFallsBackToLabeledNumbers(t *testing.T) {
	t.Parallel()
	response := "Based on my research, probability: 0.65 with confidence: 0.7 given recent polling."
	est, ok := ExtractEstimate(response)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if est.Probability != 0.65 {
		t.Errorf("Probability = %v, want 0.65", est.Probability)
	}
	if est.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", est.Confidence)
	}
}

func TestExtractEstimateFallbackAcceptsPercentForm(t *testing.T) {
	t.Parallel()
	response := "probability: 65 confidence: 80"
	est, ok := ExtractEstimate(response)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if est.Probability != 0.65 {
		t.Errorf("Probability = %v, want 0.65", est.Probability)
	}
	if est.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", est.Confidence)
	}
}

func TestExtractEstimateFallbackDefaultsConfidenceWhenMissing(t *testing.T) {
	t.Parallel()
	est, ok := ExtractEstimate("probability: 0.4, no strong signal either way")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if est.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5 default", est.Confidence)
	}
}

func TestExtractEstimateReturnsNotOKOnUnparseableText(t *testing.T) {
	t.Parallel()
	if _, ok := ExtractEstimate("I'm not sure, hard to say."); ok {
		t.Error("expected ok=false for text with no extractable estimate")
	}
}

func TestClampUnit(t *testing.T) {
	t.Parallel()
	cases := map[float64]float64{-0.5: 0, 0.5: 0.5, 1.5: 1}
	for in, want := range cases {
		if got := clampUnit(in); got != want {
			t.Errorf("clampUnit(%v) = %v, want %v", in, got, want)
		}
	}
}
