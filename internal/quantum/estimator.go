package quantum

import (
	"math"
	"sort"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
)

// Estimator turns per-subject model responses into a State: a normalized
// amplitude vector over the basis categories plus an uncertainty score.
//
// The computation is fully deterministic for a fixed input order: contributors
// are applied in order of first appearance, and each contributor contributes
// one rotation of the running amplitude vector. No randomness anywhere.
type Estimator struct {
	extract SignalExtractor
	now     func() time.Time
}

// NewEstimator creates an estimator with the given signal extractor. A nil
// extractor selects the default keyword extractor.
func NewEstimator(extract SignalExtractor) *Estimator {
	if extract == nil {
		extract = KeywordSignalExtractor
	}
	return &Estimator{extract: extract, now: time.Now}
}

// ComputeState derives the state for a subject from its model responses.
// Returns a NoDataError when responses is empty.
func (e *Estimator) ComputeState(subjectID string, responses []api.ModelResponse) (*api.State, error) {
	if len(responses) == 0 {
		return nil, api.NoDataError(subjectID)
	}

	// Group by contributor, preserving first-appearance order. Contributor
	// order matters: rotations do not commute.
	order := make([]string, 0, len(responses))
	grouped := make(map[string][]api.ModelResponse)
	for _, resp := range responses {
		if _, seen := grouped[resp.ContributorID]; !seen {
			order = append(order, resp.ContributorID)
		}
		grouped[resp.ContributorID] = append(grouped[resp.ContributorID], resp)
	}

	// Uniform prior: equal amplitude on every basis category.
	coefficients := make([]float64, api.NumCategories)
	for i := range coefficients {
		coefficients[i] = 1.0 / math.Sqrt(api.NumCategories)
	}

	for _, contributor := range order {
		weights := e.extract(grouped[contributor])
		coefficients = applyContributor(coefficients, weights)
		normalize(coefficients)
	}

	categories := api.Categories()
	probabilities := make(map[string]float64, api.NumCategories)
	for i, cat := range categories {
		probabilities[cat] = coefficients[i] * coefficients[i]
	}

	return &api.State{
		SubjectID:        subjectID,
		Coefficients:     coefficients,
		Categories:       categories,
		Probabilities:    probabilities,
		Uncertainty:      NormalizedEntropy(probabilities),
		ContributorCount: len(order),
		ComputedAt:       e.now(),
	}, nil
}

// applyContributor rotates the running amplitude vector by the contributor's
// signal. The rotation is parameterized by the first two weight components:
// theta = pi*w0 pulls toward the positive basis axis, phi = pi*w1 pulls toward
// the negated negative axis. Each pull is a rotation of the vector within the
// plane it spans with the target axis, by half the parameter angle, capped at
// the remaining angular distance. A full-strength positive signal (w0=1)
// therefore lands exactly on the positive axis and the probability mass
// collapses onto that category.
func applyContributor(v []float64, weights []float64) []float64 {
	theta := math.Pi * weights[0]
	phi := math.Pi * weights[1]

	v = rotateToward(v, basisAxis(0, 1), theta/2)
	v = rotateToward(v, basisAxis(1, -1), phi/2)
	return v
}

// rotateToward rotates unit vector v toward unit target by angle, staying in
// the span of the two. The angle is capped at the angle between them, so the
// rotation never overshoots the target axis. Degenerate inputs (already on the
// target, or exactly opposite it) are returned unchanged.
func rotateToward(v, target []float64, angle float64) []float64 {
	cos := dot(v, target)
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	psi := math.Acos(cos)
	if angle <= 0 || psi < 1e-12 || math.Pi-psi < 1e-12 {
		return v
	}
	if angle > psi {
		angle = psi
	}

	sinPsi := math.Sin(psi)
	a := math.Sin(psi-angle) / sinPsi
	b := math.Sin(angle) / sinPsi
	out := make([]float64, len(v))
	for i := range v {
		out[i] = a*v[i] + b*target[i]
	}
	return out
}

// basisAxis returns the signed unit vector along one basis category.
func basisAxis(index int, sign float64) []float64 {
	axis := make([]float64, api.NumCategories)
	axis[index] = sign
	return axis
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// normalize rescales v to unit L2 norm in place.
func normalize(v []float64) {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		for i := range v {
			v[i] = 1.0 / math.Sqrt(float64(len(v)))
		}
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

// NormalizedEntropy returns the Shannon entropy of the distribution divided by
// log2 of its size, in [0,1]. Zero-probability entries contribute nothing.
// Terms are summed in sorted key order: float addition is not associative, so
// map iteration order would otherwise leak into the result and break
// bit-for-bit reproducibility.
func NormalizedEntropy(probabilities map[string]float64) float64 {
	keys := make([]string, 0, len(probabilities))
	for k := range probabilities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entropy := 0.0
	for _, k := range keys {
		if p := probabilities[k]; p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	maxEntropy := math.Log2(float64(len(probabilities)))
	if maxEntropy == 0 {
		return 0
	}
	u := entropy / maxEntropy
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}
