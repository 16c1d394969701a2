package cascade

import (
	"math"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
)

// Timing and reach constants. baseHours depends on the trigger type; reach
// grows exponentially with probability so it is strictly increasing.
const (
	baseHoursStrongCollapse = 24.0
	baseHoursDefault        = 48.0

	reachBase   = 100.0
	reachGrowth = 4.0
)

// Predictor estimates the probability, reach, and timing of a cascading
// reputational event from the anomalies found for a subject.
type Predictor struct {
	now func() time.Time
}

// NewPredictor creates a cascade predictor.
func NewPredictor() *Predictor {
	return &Predictor{now: time.Now}
}

// Predict returns a prediction derived from the anomaly set, or nil (no error)
// when there are no anomalies.
func (p *Predictor) Predict(subjectID string, anomalies []api.Anomaly) (*api.CascadePrediction, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}

	strongest := anomalies[0]
	confidenceSum := 0.0
	for _, a := range anomalies {
		if a.Strength > strongest.Strength {
			strongest = a
		}
		confidenceSum += a.Confidence
	}
	avgConfidence := confidenceSum / float64(len(anomalies))

	probability := math.Min(1, strongest.Strength*avgConfidence)
	hours := baseHours(strongest.Type) * (2 - strongest.Strength)
	now := p.now()

	return &api.CascadePrediction{
		SubjectID:        subjectID,
		TriggerType:      strongest.Type,
		Probability:      probability,
		PredictedReach:   PredictReach(probability),
		TimeToEventHours: hours,
		WindowEnd:        now.Add(time.Duration(hours * float64(time.Hour))),
		PredictedAt:      now,
	}, nil
}

// PredictReach maps cascade probability to an estimated audience count.
// Strictly increasing in probability.
func PredictReach(probability float64) int64 {
	return int64(math.Round(reachBase * math.Exp(reachGrowth*probability)))
}

func baseHours(triggerType string) float64 {
	if triggerType == api.AnomalyStrongCollapse {
		return baseHoursStrongCollapse
	}
	return baseHoursDefault
}
