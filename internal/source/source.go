package source

import (
	"context"
	"sync"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/correlation"
)

// ResponseSource is the read-only accessor for model responses. The backing
// tables belong to the ingestion collaborator; this subsystem only reads.
type ResponseSource interface {
	// Responses returns the subject's model responses captured within the
	// trailing window, newest first.
	Responses(ctx context.Context, subjectID string, window time.Duration) ([]api.ModelResponse, error)
}

// RelatedSource is the read-only accessor for cohort members and their most
// recent states.
type RelatedSource interface {
	Related(ctx context.Context, subjectID string) ([]correlation.RelatedSubject, error)
}

// MemorySource is an in-memory ResponseSource and RelatedSource for tests and
// local runs.
type MemorySource struct {
	mu        sync.RWMutex
	responses map[string][]api.ModelResponse
	related   map[string][]correlation.RelatedSubject

	// Delay, when set, is slept before every fetch to exercise deadline paths.
	Delay time.Duration
}

// NewMemorySource creates an empty memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		responses: make(map[string][]api.ModelResponse),
		related:   make(map[string][]correlation.RelatedSubject),
	}
}

// AddResponses registers responses for a subject.
func (m *MemorySource) AddResponses(subjectID string, responses ...api.ModelResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[subjectID] = append(m.responses[subjectID], responses...)
}

// SetRelated registers cohort members for a subject.
func (m *MemorySource) SetRelated(subjectID string, related []correlation.RelatedSubject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.related[subjectID] = related
}

func (m *MemorySource) Responses(ctx context.Context, subjectID string, window time.Duration) ([]api.ModelResponse, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var out []api.ModelResponse
	for _, r := range m.responses[subjectID] {
		if r.CapturedAt.After(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemorySource) Related(ctx context.Context, subjectID string) ([]correlation.RelatedSubject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.related[subjectID], nil
}
