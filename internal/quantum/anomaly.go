package quantum

import (
	"fmt"
	"math"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
)

// Detection thresholds and per-type fixed confidences. Confidences are
// documented constants, not computed.
const (
	CollapseThreshold      = 0.8
	PhaseVarianceThreshold = 0.1
	UncertaintyThreshold   = 0.2

	ConfidenceStrongCollapse   = 0.90
	ConfidencePhaseAlignment   = 0.75
	ConfidenceDecoherenceEvent = 0.80
	ConfidenceEntanglementSpike = 0.70
)

// Detector flags statistically notable states. It runs synchronously on the
// estimator output and is as deterministic as the state itself.
type Detector struct {
	now func() time.Time
}

// NewDetector creates an anomaly detector.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// Detect returns zero or more anomalies for the given state.
func (d *Detector) Detect(state *api.State) []api.Anomaly {
	var anomalies []api.Anomaly
	detectedAt := d.now()

	if maxProb := state.MaxProbability(); maxProb > CollapseThreshold {
		anomalies = append(anomalies, api.Anomaly{
			SubjectID:      state.SubjectID,
			Type:           api.AnomalyStrongCollapse,
			Strength:       maxProb,
			Confidence:     ConfidenceStrongCollapse,
			Description:    fmt.Sprintf("strong consensus forming on %q (p=%.3f)", state.DominantCategory(), maxProb),
			Recommendation: "monitor closely for viral cascade",
			DetectedAt:     detectedAt,
		})
	}

	if variance := PhaseVariance(state.Coefficients); variance < PhaseVarianceThreshold {
		anomalies = append(anomalies, api.Anomaly{
			SubjectID:      state.SubjectID,
			Type:           api.AnomalyPhaseAlignment,
			Strength:       clamp01(1.0 - variance),
			Confidence:     ConfidencePhaseAlignment,
			Description:    fmt.Sprintf("contributors showing unusual phase alignment (variance=%.4f)", variance),
			Recommendation: "investigate cause of model convergence",
			DetectedAt:     detectedAt,
		})
	}

	if state.Uncertainty < UncertaintyThreshold {
		anomalies = append(anomalies, api.Anomaly{
			SubjectID:      state.SubjectID,
			Type:           api.AnomalyDecoherenceEvent,
			Strength:       clamp01(1.0 - state.Uncertainty),
			Confidence:     ConfidenceDecoherenceEvent,
			Description:    fmt.Sprintf("distribution collapsing toward a single outcome (uncertainty=%.3f)", state.Uncertainty),
			Recommendation: "verify against fresh responses before acting",
			DetectedAt:     detectedAt,
		})
	}

	return anomalies
}

// PhaseVariance is the population variance of the coefficient phases. A real
// amplitude has phase 0 when non-negative and pi when negative.
func PhaseVariance(coefficients []float64) float64 {
	if len(coefficients) == 0 {
		return 0
	}
	phases := make([]float64, len(coefficients))
	mean := 0.0
	for i, c := range coefficients {
		if c < 0 {
			phases[i] = math.Pi
		}
		mean += phases[i]
	}
	mean /= float64(len(phases))

	variance := 0.0
	for _, p := range phases {
		diff := p - mean
		variance += diff * diff
	}
	return variance / float64(len(phases))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
