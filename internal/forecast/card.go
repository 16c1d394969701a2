package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/store"
)

// Correlation list sizes per tier.
const (
	freeCorrelationLimit       = 3
	enterpriseCorrelationLimit = 10
)

// Analyzer is the slice of the orchestrator the builder needs.
type Analyzer interface {
	Analyze(ctx context.Context, subjectID string) (*api.CompositeResult, error)
}

// Builder composes analysis output into tiered forecast cards. Tier gating is
// a pure function of the tier and the already-computed analysis; no stage is
// recomputed per tier.
type Builder struct {
	analyzer Analyzer
	store    store.AnalysisStore
	now      func() time.Time
}

// NewBuilder creates a forecast card builder.
func NewBuilder(analyzer Analyzer, st store.AnalysisStore) *Builder {
	return &Builder{analyzer: analyzer, store: st, now: time.Now}
}

// Build generates a card for the subject at the given tier. A nil card with a
// nil error means the analysis is not yet available; callers present that as
// a normal outcome.
func (b *Builder) Build(ctx context.Context, subjectID, tier string) (*api.ForecastCard, error) {
	if !api.ValidTier(tier) {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	result, err := b.analyzer.Analyze(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	// Correlations come from the durable store: the background task from this
	// or an earlier Analyze call may have populated them. Missing rows just
	// mean an empty list.
	correlations, err := b.store.TopCorrelations(ctx, subjectID, enterpriseCorrelationLimit)
	if err != nil {
		correlations = nil
	}

	card := compose(subjectID, result, correlations, b.now())
	return gate(card, tier), nil
}

// compose builds the full (enterprise-shaped) card from analysis output.
func compose(subjectID string, result *api.CompositeResult, correlations []api.CorrelationResult, now time.Time) *api.ForecastCard {
	state := result.State

	forecast := api.CardForecast{
		CollapseRisk:      state.MaxProbability(),
		MostLikelyOutcome: state.DominantCategory(),
		Confidence:        1 - state.Uncertainty,
	}
	if c := result.Cascade; c != nil {
		forecast.CollapseRisk = c.Probability
		forecast.WindowEnd = c.WindowEnd
		forecast.TimeToEventHours = c.TimeToEventHours
	}

	var entries []api.CardCorrelationEntry
	cascadeRisk := "low"
	for _, corr := range correlations {
		other := corr.SubjectA
		if other == subjectID {
			other = corr.SubjectB
		}
		entries = append(entries, api.CardCorrelationEntry{
			Subject:             other,
			EntanglementEntropy: corr.EntanglementEntropy,
			Strength:            corr.Strength,
		})
		if corr.Strength == api.StrengthStrong {
			cascadeRisk = "high"
		} else if corr.Strength == api.StrengthModerate && cascadeRisk == "low" {
			cascadeRisk = "moderate"
		}
	}

	var triggers []api.CardTrigger
	for _, a := range result.Anomalies {
		triggers = append(triggers, api.CardTrigger{
			Type:        a.Type,
			Strength:    a.Strength,
			Description: a.Description,
		})
	}

	return &api.ForecastCard{
		SubjectID:   subjectID,
		Tier:        api.TierEnterprise,
		GeneratedAt: now,
		State: api.CardState{
			Probabilities:    state.Probabilities,
			DominantCategory: state.DominantCategory(),
			Uncertainty:      state.Uncertainty,
			Coherence:        1 - state.Uncertainty,
		},
		Forecast:    forecast,
		Correlation: api.CardCorrelation{TopCorrelations: entries, CascadeRisk: cascadeRisk},
		Triggers:    triggers,
		Actions:     buildActions(state, result.Cascade),
	}
}

// gate applies tier restrictions to a fully composed card. Pure: it never
// touches the underlying analysis.
func gate(card *api.ForecastCard, tier string) *api.ForecastCard {
	if tier == api.TierEnterprise {
		return card
	}

	card.Tier = api.TierFree
	if len(card.Correlation.TopCorrelations) > freeCorrelationLimit {
		card.Correlation.TopCorrelations = card.Correlation.TopCorrelations[:freeCorrelationLimit]
	}
	card.Actions = nil
	card.Forecast.WindowEnd = time.Time{}
	card.Forecast.TimeToEventHours = 0
	return card
}

// buildActions derives directional recommendations from the dominant state
// and the cascade outlook. Enterprise tier only; gate strips them for free.
func buildActions(state *api.State, cascade *api.CascadePrediction) []api.CardAction {
	var actions []api.CardAction

	switch state.DominantCategory() {
	case api.CategoryPositive:
		actions = append(actions, api.CardAction{
			Direction: "amplify",
			Rationale: fmt.Sprintf("positive perception dominant at %.0f%%", state.Probabilities[api.CategoryPositive]*100),
			Horizon:   "30d",
		})
	case api.CategoryNegative:
		actions = append(actions, api.CardAction{
			Direction: "hedge",
			Rationale: fmt.Sprintf("negative perception dominant at %.0f%%", state.Probabilities[api.CategoryNegative]*100),
			Horizon:   "7d",
		})
	case api.CategoryEmerging:
		actions = append(actions, api.CardAction{
			Direction: "accumulate",
			Rationale: "emerging-state weight suggests early positioning",
			Horizon:   "90d",
		})
	}

	if cascade != nil && cascade.Probability > 0.5 {
		actions = append(actions, api.CardAction{
			Direction: "alert",
			Rationale: fmt.Sprintf("cascade predicted at %.0f%% within %.0fh", cascade.Probability*100, cascade.TimeToEventHours),
			Horizon:   fmt.Sprintf("%.0fh", cascade.TimeToEventHours),
		})
	}
	return actions
}
