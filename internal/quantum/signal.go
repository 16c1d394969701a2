package quantum

import (
	"strings"

	"github.com/brandrank/quantum-intel/internal/api"
)

// SignalExtractor derives a category-weight vector from one contributor's
// responses. Returned vectors must be non-negative, length NumCategories, and
// sum to 1. Implementations must be deterministic; the extractor is the
// designated seam for swapping in a real NLU estimator without touching the
// orchestrator.
type SignalExtractor func(responses []api.ModelResponse) []float64

// Keyword sets per basis category, carried over from the production keyword
// lists. Membership is substring-based on the lowercased response text.
var (
	positiveSignals = []string{"growth", "innovation", "leader", "success", "breakthrough"}
	negativeSignals = []string{"decline", "struggle", "challenge", "controversy", "risk"}
	neutralSignals  = []string{"stable", "consistent", "maintain", "steady"}
	emergingSignals = []string{"potential", "developing", "upcoming", "future", "transforming"}
)

// KeywordSignalExtractor is the default extractor: keyword-membership counts
// weighted by response confidence, normalized to sum 1. An all-zero vector
// falls back to the uniform distribution.
func KeywordSignalExtractor(responses []api.ModelResponse) []float64 {
	signalSets := [api.NumCategories][]string{positiveSignals, negativeSignals, neutralSignals, emergingSignals}

	vector := make([]float64, api.NumCategories)
	for _, resp := range responses {
		content := strings.ToLower(resp.Text)
		for i, signals := range signalSets {
			for _, signal := range signals {
				if strings.Contains(content, signal) {
					vector[i] += resp.Confidence
				}
			}
		}
	}

	total := 0.0
	for _, v := range vector {
		total += v
	}
	if total <= 0 {
		for i := range vector {
			vector[i] = 1.0 / api.NumCategories
		}
		return vector
	}
	for i := range vector {
		vector[i] /= total
	}
	return vector
}
