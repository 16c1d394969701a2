package store

import (
	"context"
	"sort"
	"sync"

	"github.com/brandrank/quantum-intel/internal/api"
)

// AnalysisStore owns the durable copies of pipeline output. It writes only to
// subsystem-owned tables; the shared subject/response tables belong to other
// collaborators and are never touched from here.
type AnalysisStore interface {
	// SaveAnalysis persists the state, its anomalies, and the optional cascade
	// prediction in one transaction: all rows commit together or none do.
	SaveAnalysis(ctx context.Context, result *api.CompositeResult) error

	// UpsertCorrelations inserts timestamped correlation rows under canonical
	// pair keys. Append-only: history is superseded, never mutated.
	UpsertCorrelations(ctx context.Context, results []api.CorrelationResult) error

	// SaveAnomaly records a single anomaly outside the main transaction, used
	// by the background correlation path for entanglement spikes.
	SaveAnomaly(ctx context.Context, anomaly api.Anomaly) error

	// TopCorrelations returns the most recent correlation per pair involving
	// the subject, strongest entanglement first.
	TopCorrelations(ctx context.Context, subjectID string, limit int) ([]api.CorrelationResult, error)

	// CountStates returns the number of persisted states, for health checks.
	CountStates(ctx context.Context) (int64, error)

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// MemoryStore is an in-memory AnalysisStore for tests and local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	states       []api.State
	anomalies    []api.Anomaly
	cascades     []api.CascadePrediction
	correlations map[string][]api.CorrelationResult // canonical "a|b" key
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{correlations: make(map[string][]api.CorrelationResult)}
}

func (m *MemoryStore) SaveAnalysis(ctx context.Context, result *api.CompositeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = append(m.states, *result.State)
	m.anomalies = append(m.anomalies, result.Anomalies...)
	if result.Cascade != nil {
		m.cascades = append(m.cascades, *result.Cascade)
	}
	return nil
}

func (m *MemoryStore) UpsertCorrelations(ctx context.Context, results []api.CorrelationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range results {
		key := r.SubjectA + "|" + r.SubjectB
		m.correlations[key] = append(m.correlations[key], r)
	}
	return nil
}

func (m *MemoryStore) SaveAnomaly(ctx context.Context, anomaly api.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, anomaly)
	return nil
}

func (m *MemoryStore) TopCorrelations(ctx context.Context, subjectID string, limit int) ([]api.CorrelationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest []api.CorrelationResult
	for _, history := range m.correlations {
		r := history[len(history)-1]
		if r.SubjectA == subjectID || r.SubjectB == subjectID {
			latest = append(latest, r)
		}
	}
	sort.Slice(latest, func(i, j int) bool {
		return latest[i].EntanglementEntropy > latest[j].EntanglementEntropy
	})
	if limit > 0 && len(latest) > limit {
		latest = latest[:limit]
	}
	return latest, nil
}

func (m *MemoryStore) CountStates(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.states)), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// Counts exposes row counts for shadow-mode assertions in tests.
func (m *MemoryStore) Counts() (states, anomalies, cascades, correlations int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, history := range m.correlations {
		correlations += len(history)
	}
	return len(m.states), len(m.anomalies), len(m.cascades), correlations
}
