package api

import (
	"fmt"
	"math"
	"time"
)

// Basis categories for brand perception states. Order is fixed: coefficient i
// always refers to Categories[i].
const (
	CategoryPositive = "positive"
	CategoryNegative = "negative"
	CategoryNeutral  = "neutral"
	CategoryEmerging = "emerging"
)

// Categories returns the fixed ordered basis.
func Categories() []string {
	return []string{CategoryPositive, CategoryNegative, CategoryNeutral, CategoryEmerging}
}

// NumCategories is the dimension of the state vector.
const NumCategories = 4

// ModelResponse is one model-generated evaluation of a subject, fetched from
// the collaborator-owned response store.
type ModelResponse struct {
	ContributorID string    `json:"contributor_id"`
	Text          string    `json:"text"`
	Confidence    float64   `json:"confidence"`
	CapturedAt    time.Time `json:"captured_at"`
}

// State is a probability distribution over the basis categories, derived from
// model responses. Immutable once returned; hand-offs are by value.
type State struct {
	SubjectID        string             `json:"subject_id"`
	Coefficients     []float64          `json:"coefficients"`
	Categories       []string           `json:"categories"`
	Probabilities    map[string]float64 `json:"probabilities"`
	Uncertainty      float64            `json:"uncertainty"`
	ContributorCount int                `json:"contributor_count"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// DominantCategory returns the category with the highest probability.
func (s *State) DominantCategory() string {
	best := ""
	bestP := -1.0
	for _, cat := range s.Categories {
		if p := s.Probabilities[cat]; p > bestP {
			best, bestP = cat, p
		}
	}
	return best
}

// MaxProbability returns the largest category probability.
func (s *State) MaxProbability() float64 {
	max := 0.0
	for _, p := range s.Probabilities {
		if p > max {
			max = p
		}
	}
	return max
}

// Validate checks the documented numeric invariants: unit L2 norm on the
// coefficients and probabilities summing to one within 1e-9.
func (s *State) Validate() error {
	if len(s.Coefficients) != len(s.Categories) {
		return fmt.Errorf("coefficient/category length mismatch: %d vs %d", len(s.Coefficients), len(s.Categories))
	}
	norm := 0.0
	for _, c := range s.Coefficients {
		norm += c * c
	}
	if math.Abs(norm-1) > 1e-9 {
		return fmt.Errorf("coefficients not normalized: sum of squares = %.12f", norm)
	}
	sum := 0.0
	for _, p := range s.Probabilities {
		if p < 0 {
			return fmt.Errorf("negative probability %.12f", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("probabilities do not sum to 1: %.12f", sum)
	}
	if s.Uncertainty < 0 || s.Uncertainty > 1 {
		return fmt.Errorf("uncertainty out of [0,1]: %.6f", s.Uncertainty)
	}
	return nil
}

// Anomaly types.
const (
	AnomalyStrongCollapse    = "strong_collapse"
	AnomalyPhaseAlignment    = "phase_alignment"
	AnomalyEntanglementSpike = "entanglement_spike"
	AnomalyDecoherenceEvent  = "decoherence_event"
)

// Anomaly is a statistically notable feature of a computed State.
type Anomaly struct {
	SubjectID            string    `json:"subject_id"`
	Type                 string    `json:"type"`
	Strength             float64   `json:"strength"`
	Confidence           float64   `json:"confidence"`
	Description          string    `json:"description"`
	Recommendation       string    `json:"recommendation"`
	AffectedContributors []string  `json:"affected_contributors,omitempty"`
	DetectedAt           time.Time `json:"detected_at"`
}

// Correlation strength classes.
const (
	StrengthStrong   = "strong"
	StrengthModerate = "moderate"
	StrengthWeak     = "weak"
	StrengthNone     = "none"
)

// CorrelationResult describes the relationship between two subjects' states.
// SubjectA/SubjectB are stored in canonical (lexicographic) order so that the
// (A,B) and (B,A) pairs collapse to one record.
type CorrelationResult struct {
	SubjectA             string    `json:"subject_a"`
	SubjectB             string    `json:"subject_b"`
	EntanglementEntropy  float64   `json:"entanglement_entropy"`
	QuantumDistance      float64   `json:"quantum_distance"`
	Strength             string    `json:"strength"`
	SharedHighProbCats   []string  `json:"shared_high_probability_categories,omitempty"`
	PhaseCorrelation     float64   `json:"phase_correlation"`
	MeasuredAt           time.Time `json:"measured_at"`
}

// PairKey returns the canonical key for a subject pair.
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// CascadePrediction estimates a cascading reputational event.
type CascadePrediction struct {
	SubjectID        string    `json:"subject_id"`
	TriggerType      string    `json:"trigger_type"`
	Probability      float64   `json:"probability"`
	PredictedReach   int64     `json:"predicted_reach"`
	TimeToEventHours float64   `json:"time_to_event_hours"`
	WindowEnd        time.Time `json:"window_end"`
	PredictedAt      time.Time `json:"predicted_at"`
}

// CompositeResult is the primary output of an Analyze call.
type CompositeResult struct {
	SubjectID  string             `json:"subject_id"`
	State      *State             `json:"state"`
	Anomalies  []Anomaly          `json:"anomalies,omitempty"`
	Cascade    *CascadePrediction `json:"cascade,omitempty"`
	ComputedAt time.Time          `json:"computed_at"`
}

// Forecast card tiers.
const (
	TierFree       = "free"
	TierEnterprise = "enterprise"
)

// ValidTier reports whether tier is a recognized forecast card tier.
func ValidTier(tier string) bool {
	return tier == TierFree || tier == TierEnterprise
}

// ForecastCard is the tiered, consumer-facing summary. Regenerable from its
// inputs; field population is a pure function of the tier.
type ForecastCard struct {
	SubjectID   string        `json:"subject_id"`
	Tier        string        `json:"tier"`
	GeneratedAt time.Time     `json:"generated_at"`
	State       CardState     `json:"quantum_state"`
	Forecast    CardForecast  `json:"forecast"`
	Correlation CardCorrelation `json:"entanglement"`
	Triggers    []CardTrigger `json:"triggers,omitempty"`
	Actions     []CardAction  `json:"actions,omitempty"`
}

// CardState summarizes the state block of a forecast card.
type CardState struct {
	Probabilities    map[string]float64 `json:"probabilities"`
	DominantCategory string             `json:"dominant_state"`
	Uncertainty      float64            `json:"uncertainty"`
	Coherence        float64            `json:"coherence"`
}

// CardForecast summarizes cascade risk for a forecast card.
type CardForecast struct {
	CollapseRisk      float64   `json:"collapse_risk"`
	MostLikelyOutcome string    `json:"most_likely_outcome"`
	Confidence        float64   `json:"confidence"`
	WindowEnd         time.Time `json:"window_end,omitempty"`
	TimeToEventHours  float64   `json:"time_to_event_hours,omitempty"`
}

// CardCorrelation carries the tier-gated correlation list.
type CardCorrelation struct {
	TopCorrelations []CardCorrelationEntry `json:"top_correlations"`
	CascadeRisk     string                 `json:"cascade_risk"`
}

// CardCorrelationEntry is one related subject on a forecast card.
type CardCorrelationEntry struct {
	Subject             string  `json:"subject"`
	EntanglementEntropy float64 `json:"entanglement_entropy"`
	Strength            string  `json:"strength"`
}

// CardTrigger is an anomaly rendered for card consumers.
type CardTrigger struct {
	Type        string  `json:"type"`
	Strength    float64 `json:"strength"`
	Description string  `json:"description"`
}

// CardAction is a directional recommendation (enterprise tier only).
type CardAction struct {
	Direction string `json:"direction"`
	Rationale string `json:"rationale"`
	Horizon   string `json:"horizon"`
}

// HealthReport is returned by the orchestrator health check.
type HealthReport struct {
	Status        string  `json:"status"` // disabled | healthy | unhealthy
	StoredStates  int64   `json:"stored_states"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// AuditEntry records one pipeline operation, independent of its outcome.
type AuditEntry struct {
	SubjectID  string    `json:"subject_id"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMs float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
