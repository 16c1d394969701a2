package cascade

import (
	"math"
	"testing"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
)

func fixedPredictor(t *testing.T) (*Predictor, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	p := NewPredictor()
	p.now = func() time.Time { return now }
	return p, now
}

func TestPredict_NoAnomalies(t *testing.T) {
	p := NewPredictor()

	prediction, err := p.Predict("acme", nil)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if prediction != nil {
		t.Errorf("expected nil prediction for empty anomaly set, got %+v", prediction)
	}
}

func TestPredict_SingleCollapse(t *testing.T) {
	p, now := fixedPredictor(t)

	prediction, err := p.Predict("acme", []api.Anomaly{
		{Type: api.AnomalyStrongCollapse, Strength: 0.9, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if prediction == nil {
		t.Fatal("expected a prediction")
	}

	if prediction.TriggerType != api.AnomalyStrongCollapse {
		t.Errorf("trigger = %s, want strong_collapse", prediction.TriggerType)
	}
	if math.Abs(prediction.Probability-0.81) > 1e-9 {
		t.Errorf("probability = %f, want 0.81", prediction.Probability)
	}
	// Collapse base window is 24h, scaled by (2 - strength).
	wantHours := 24.0 * (2 - 0.9)
	if math.Abs(prediction.TimeToEventHours-wantHours) > 1e-9 {
		t.Errorf("hours = %f, want %f", prediction.TimeToEventHours, wantHours)
	}
	wantEnd := now.Add(time.Duration(wantHours * float64(time.Hour)))
	if !prediction.WindowEnd.Equal(wantEnd) {
		t.Errorf("window end = %v, want %v", prediction.WindowEnd, wantEnd)
	}
}

func TestPredict_StrongestAnomalyWins(t *testing.T) {
	p, _ := fixedPredictor(t)

	prediction, err := p.Predict("acme", []api.Anomaly{
		{Type: api.AnomalyPhaseAlignment, Strength: 0.5, Confidence: 0.75},
		{Type: api.AnomalyStrongCollapse, Strength: 0.95, Confidence: 0.9},
		{Type: api.AnomalyDecoherenceEvent, Strength: 0.7, Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if prediction.TriggerType != api.AnomalyStrongCollapse {
		t.Errorf("trigger = %s, want the strongest anomaly's type", prediction.TriggerType)
	}
	avgConfidence := (0.75 + 0.9 + 0.8) / 3
	want := math.Min(1, 0.95*avgConfidence)
	if math.Abs(prediction.Probability-want) > 1e-9 {
		t.Errorf("probability = %f, want %f", prediction.Probability, want)
	}
}

func TestPredict_NonCollapseUsesLongerWindow(t *testing.T) {
	p, _ := fixedPredictor(t)

	prediction, err := p.Predict("acme", []api.Anomaly{
		{Type: api.AnomalyPhaseAlignment, Strength: 1.0, Confidence: 0.75},
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	// Non-collapse base window is 48h; at full strength the scale is (2-1)=1.
	if math.Abs(prediction.TimeToEventHours-48.0) > 1e-9 {
		t.Errorf("hours = %f, want 48", prediction.TimeToEventHours)
	}
}

func TestPredict_ProbabilityCapped(t *testing.T) {
	p, _ := fixedPredictor(t)

	prediction, err := p.Predict("acme", []api.Anomaly{
		{Type: api.AnomalyStrongCollapse, Strength: 1.5, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if prediction.Probability > 1 {
		t.Errorf("probability exceeds 1: %f", prediction.Probability)
	}
}

func TestPredictReach(t *testing.T) {
	tests := []struct {
		probability float64
		expected    int64
	}{
		{0, 100},
		{0.5, 739},
		{1, 5460},
	}

	for _, tt := range tests {
		if got := PredictReach(tt.probability); got != tt.expected {
			t.Errorf("PredictReach(%.1f) = %d, want %d", tt.probability, got, tt.expected)
		}
	}

	// Strictly increasing across the whole range.
	prev := PredictReach(0)
	for p := 0.05; p <= 1.0; p += 0.05 {
		next := PredictReach(p)
		if next <= prev {
			t.Errorf("reach not increasing at p=%.2f: %d <= %d", p, next, prev)
		}
		prev = next
	}
}
