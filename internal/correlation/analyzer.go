package correlation

import (
	"math"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/quantum"
)

// Strength classification thresholds on (1-distance)*(1-entropy).
const (
	strongThreshold   = 0.7
	moderateThreshold = 0.4
	weakThreshold     = 0.2

	// Categories above this probability in both states count as shared.
	sharedProbThreshold = 0.25
)

// RelatedSubject is a cohort member with its most recent state, if one exists.
type RelatedSubject struct {
	SubjectID string
	State     *api.State
}

// Analyzer computes pairwise similarity between subject states. It is invoked
// as a detached background task; results are upserted under a canonical pair
// key and failures stay invisible to the Analyze caller.
type Analyzer struct {
	now func() time.Time
}

// NewAnalyzer creates a correlation analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{now: time.Now}
}

// Correlate computes a result for every related subject that has a state.
func (a *Analyzer) Correlate(subjectID string, state *api.State, related []RelatedSubject) []api.CorrelationResult {
	var results []api.CorrelationResult
	for _, rel := range related {
		if rel.State == nil || rel.SubjectID == subjectID {
			continue
		}
		results = append(results, a.correlatePair(subjectID, state, rel.SubjectID, rel.State))
	}
	return results
}

func (a *Analyzer) correlatePair(idA string, stateA *api.State, idB string, stateB *api.State) api.CorrelationResult {
	overlap := dot(stateA.Coefficients, stateB.Coefficients)
	distance := math.Sqrt(math.Max(0, 1-overlap*overlap))
	entropy := EntanglementEntropy(stateA.Probabilities, stateB.Probabilities)

	score := (1 - distance) * (1 - entropy)
	strength := api.StrengthNone
	switch {
	case score > strongThreshold:
		strength = api.StrengthStrong
	case score > moderateThreshold:
		strength = api.StrengthModerate
	case score > weakThreshold:
		strength = api.StrengthWeak
	}

	var shared []string
	for _, cat := range stateA.Categories {
		if stateA.Probabilities[cat] > sharedProbThreshold && stateB.Probabilities[cat] > sharedProbThreshold {
			shared = append(shared, cat)
		}
	}

	canonA, canonB := api.PairKey(idA, idB)
	return api.CorrelationResult{
		SubjectA:            canonA,
		SubjectB:            canonB,
		EntanglementEntropy: entropy,
		QuantumDistance:     distance,
		Strength:            strength,
		SharedHighProbCats:  shared,
		PhaseCorrelation:    PhaseCorrelation(stateA.Coefficients, stateB.Coefficients),
		MeasuredAt:          a.now(),
	}
}

// EntanglementEntropy is a bounded, deterministic joint-entropy approximation:
// the normalized Shannon entropy of the averaged probability vector
// (pA+pB)/2. Symmetric in its arguments; not a density-matrix decomposition.
func EntanglementEntropy(pA, pB map[string]float64) float64 {
	mixed := make(map[string]float64, len(pA))
	for cat, p := range pA {
		mixed[cat] = p / 2
	}
	for cat, p := range pB {
		mixed[cat] += p / 2
	}
	return quantum.NormalizedEntropy(mixed)
}

// PhaseCorrelation is the sign-weighted dot product of coefficients, in
// [-1,1]. The sign convention comes from the first argument, so swapping the
// arguments can flip the sign when the inputs disagree; entropy, distance, and
// strength are strictly symmetric.
func PhaseCorrelation(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sign := 1.0
		if a[i] < 0 {
			sign = -1.0
		}
		sum += sign * math.Abs(a[i]) * math.Abs(b[i])
	}
	if sum > 1 {
		return 1
	}
	if sum < -1 {
		return -1
	}
	return sum
}

// SpikeAnomaly converts an unusually strong correlation into an
// entanglement_spike anomaly for the background persistence path. Returns nil
// when the correlation is not spike-worthy.
func SpikeAnomaly(subjectID string, result api.CorrelationResult) *api.Anomaly {
	if result.Strength != api.StrengthStrong {
		return nil
	}
	other := result.SubjectA
	if other == subjectID {
		other = result.SubjectB
	}
	return &api.Anomaly{
		SubjectID:      subjectID,
		Type:           api.AnomalyEntanglementSpike,
		Strength:       1 - result.QuantumDistance,
		Confidence:     quantum.ConfidenceEntanglementSpike,
		Description:    "unusually strong entanglement with " + other,
		Recommendation: "watch the entangled subject for correlated swings",
		DetectedAt:     result.MeasuredAt,
	}
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
