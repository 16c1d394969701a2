package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/store"
)

// stubAnalyzer returns a canned result without running the pipeline.
type stubAnalyzer struct {
	result *api.CompositeResult
}

func (s *stubAnalyzer) Analyze(ctx context.Context, subjectID string) (*api.CompositeResult, error) {
	return s.result, nil
}

func positiveResult(subjectID string) *api.CompositeResult {
	return &api.CompositeResult{
		SubjectID: subjectID,
		State: &api.State{
			SubjectID:    subjectID,
			Coefficients: []float64{0.8, 0.4, 0.3, 0.33},
			Categories:   api.Categories(),
			Probabilities: map[string]float64{
				"positive": 0.64, "negative": 0.16, "neutral": 0.09, "emerging": 0.11,
			},
			Uncertainty: 0.75,
		},
		ComputedAt: time.Now(),
	}
}

func seedCorrelations(t *testing.T, st *store.MemoryStore, subjectID string, count int) {
	t.Helper()
	others := []string{"globex", "initech", "umbrella", "hooli", "stark"}
	var results []api.CorrelationResult
	for i := 0; i < count; i++ {
		a, b := api.PairKey(subjectID, others[i])
		results = append(results, api.CorrelationResult{
			SubjectA:            a,
			SubjectB:            b,
			EntanglementEntropy: 0.1 * float64(i+1),
			QuantumDistance:     0.2,
			Strength:            api.StrengthModerate,
			MeasuredAt:          time.Now(),
		})
	}
	if err := st.UpsertCorrelations(context.Background(), results); err != nil {
		t.Fatalf("seeding correlations failed: %v", err)
	}
}

func TestBuild_InvalidTier(t *testing.T) {
	b := NewBuilder(&stubAnalyzer{}, store.NewMemoryStore())

	if _, err := b.Build(context.Background(), "acme", "platinum"); err == nil {
		t.Fatal("expected an error for an unknown tier")
	}
}

func TestBuild_NoAnalysisAvailable(t *testing.T) {
	b := NewBuilder(&stubAnalyzer{result: nil}, store.NewMemoryStore())

	card, err := b.Build(context.Background(), "acme", api.TierFree)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if card != nil {
		t.Errorf("expected nil card when analysis is unavailable, got %+v", card)
	}
}

func TestBuild_EnterpriseCard(t *testing.T) {
	st := store.NewMemoryStore()
	seedCorrelations(t, st, "acme", 5)

	result := positiveResult("acme")
	result.Anomalies = []api.Anomaly{
		{SubjectID: "acme", Type: api.AnomalyStrongCollapse, Strength: 0.85, Confidence: 0.9, Description: "strong consensus"},
	}
	result.Cascade = &api.CascadePrediction{
		SubjectID:        "acme",
		TriggerType:      api.AnomalyStrongCollapse,
		Probability:      0.76,
		TimeToEventHours: 27.6,
		WindowEnd:        time.Now().Add(28 * time.Hour),
	}

	b := NewBuilder(&stubAnalyzer{result: result}, st)
	card, err := b.Build(context.Background(), "acme", api.TierEnterprise)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if card == nil {
		t.Fatal("expected a card")
	}

	if card.Tier != api.TierEnterprise {
		t.Errorf("tier = %s, want enterprise", card.Tier)
	}
	if card.State.DominantCategory != "positive" {
		t.Errorf("dominant = %s, want positive", card.State.DominantCategory)
	}
	if card.Forecast.CollapseRisk != 0.76 {
		t.Errorf("collapse risk = %f, want the cascade probability", card.Forecast.CollapseRisk)
	}
	if card.Forecast.TimeToEventHours != 27.6 {
		t.Errorf("time to event = %f, want 27.6", card.Forecast.TimeToEventHours)
	}
	if len(card.Correlation.TopCorrelations) != 5 {
		t.Errorf("correlations = %d, want all 5", len(card.Correlation.TopCorrelations))
	}
	if len(card.Triggers) != 1 {
		t.Errorf("triggers = %d, want 1", len(card.Triggers))
	}
	if len(card.Actions) == 0 {
		t.Error("enterprise card must carry actions")
	}
	// Positive dominant plus a >50% cascade: amplify plus alert.
	directions := map[string]bool{}
	for _, a := range card.Actions {
		directions[a.Direction] = true
	}
	if !directions["amplify"] || !directions["alert"] {
		t.Errorf("actions = %+v, want amplify and alert", card.Actions)
	}
}

func TestBuild_FreeTierGating(t *testing.T) {
	st := store.NewMemoryStore()
	seedCorrelations(t, st, "acme", 5)

	result := positiveResult("acme")
	result.Cascade = &api.CascadePrediction{
		Probability:      0.6,
		TimeToEventHours: 30,
		WindowEnd:        time.Now().Add(30 * time.Hour),
	}

	b := NewBuilder(&stubAnalyzer{result: result}, st)
	card, err := b.Build(context.Background(), "acme", api.TierFree)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if card.Tier != api.TierFree {
		t.Errorf("tier = %s, want free", card.Tier)
	}
	if len(card.Correlation.TopCorrelations) != 3 {
		t.Errorf("free tier correlations = %d, want 3", len(card.Correlation.TopCorrelations))
	}
	if card.Actions != nil {
		t.Errorf("free tier must not carry actions, got %+v", card.Actions)
	}
	if !card.Forecast.WindowEnd.IsZero() {
		t.Error("free tier must not expose the cascade window")
	}
	if card.Forecast.TimeToEventHours != 0 {
		t.Error("free tier must not expose time-to-event")
	}
	// The probability-level risk signal is still present.
	if card.Forecast.CollapseRisk != 0.6 {
		t.Errorf("collapse risk = %f, want 0.6", card.Forecast.CollapseRisk)
	}
}

func TestBuild_CascadeRiskFromCorrelations(t *testing.T) {
	st := store.NewMemoryStore()
	a, b := api.PairKey("acme", "globex")
	st.UpsertCorrelations(context.Background(), []api.CorrelationResult{{
		SubjectA: a, SubjectB: b,
		EntanglementEntropy: 0.1,
		Strength:            api.StrengthStrong,
		MeasuredAt:          time.Now(),
	}})

	builder := NewBuilder(&stubAnalyzer{result: positiveResult("acme")}, st)
	card, err := builder.Build(context.Background(), "acme", api.TierEnterprise)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if card.Correlation.CascadeRisk != "high" {
		t.Errorf("cascade risk = %s, want high with a strong correlation", card.Correlation.CascadeRisk)
	}
	if got := card.Correlation.TopCorrelations[0].Subject; got != "globex" {
		t.Errorf("correlation names %s, want the other subject", got)
	}
}
