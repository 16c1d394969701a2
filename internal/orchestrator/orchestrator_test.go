package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/audit"
	"github.com/brandrank/quantum-intel/internal/cache"
	"github.com/brandrank/quantum-intel/internal/config"
	"github.com/brandrank/quantum-intel/internal/correlation"
	"github.com/brandrank/quantum-intel/internal/metrics"
	"github.com/brandrank/quantum-intel/internal/source"
	"github.com/brandrank/quantum-intel/internal/store"
)

type fixture struct {
	orch    *Orchestrator
	src     *source.MemorySource
	store   *store.MemoryStore
	auditor *audit.MemoryRecorder
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Enabled = true
	cfg.ShadowMode = false
	cfg.CacheEnabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		src:     source.NewMemorySource(),
		store:   store.NewMemoryStore(),
		auditor: audit.NewMemoryRecorder(),
	}

	var resultCache cache.ResultCache
	if cfg.CacheEnabled {
		c, err := cache.NewLRUCache(cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			t.Fatalf("cache setup failed: %v", err)
		}
		resultCache = c
	}

	orch, err := New(cfg, Deps{
		Responses: f.src,
		Related:   f.src,
		Cache:     resultCache,
		Store:     f.store,
		Auditor:   f.auditor,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.orch = orch
	return f
}

func seedResponses(src *source.MemorySource, subjectID string, count int) {
	for i := 0; i < count; i++ {
		src.AddResponses(subjectID, api.ModelResponse{
			ContributorID: "model-a",
			Text:          "strong growth and innovation",
			Confidence:    0.9,
			CapturedAt:    time.Now(),
		})
	}
}

func lastAuditStatus(auditor *audit.MemoryRecorder) string {
	entries := auditor.Entries()
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].Status
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxCalculationTime = 0

	_, err := New(cfg, Deps{
		Responses: source.NewMemorySource(),
		Related:   source.NewMemorySource(),
		Store:     store.NewMemoryStore(),
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	if err == nil {
		t.Fatal("expected a configuration error")
	}
}

func TestNew_RejectsMissingDeps(t *testing.T) {
	cfg := config.Default()

	_, err := New(cfg, Deps{
		Related: source.NewMemorySource(),
		Store:   store.NewMemoryStore(),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	if err == nil {
		t.Fatal("expected an error for a missing response source")
	}
}

func TestAnalyze_Disabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Enabled = false })

	result, err := f.orch.Analyze(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result != nil {
		t.Errorf("disabled pipeline must return nil, got %+v", result)
	}
}

func TestAnalyze_NoData(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Analyze(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Analyze must not surface no-data as an error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	if got := lastAuditStatus(f.auditor); got != "no_data" {
		t.Errorf("audit status = %q, want no_data", got)
	}
}

func TestAnalyze_ActiveModePersists(t *testing.T) {
	f := newFixture(t, nil)
	seedResponses(f.src, "acme", 5)
	f.src.SetRelated("acme", []correlation.RelatedSubject{
		{SubjectID: "globex", State: &api.State{
			SubjectID:     "globex",
			Coefficients:  []float64{0.5, 0.5, 0.5, 0.5},
			Categories:    api.Categories(),
			Probabilities: map[string]float64{"positive": 0.25, "negative": 0.25, "neutral": 0.25, "emerging": 0.25},
		}},
	})

	result, err := f.orch.Analyze(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	if err := result.State.Validate(); err != nil {
		t.Errorf("returned state fails invariants: %v", err)
	}

	// Close drains the background correlation task before counting rows.
	if err := f.orch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	states, _, _, correlations := f.store.Counts()
	if states != 1 {
		t.Errorf("states persisted = %d, want 1", states)
	}
	if correlations != 1 {
		t.Errorf("correlations persisted = %d, want 1", correlations)
	}
	if got := lastAuditStatus(f.auditor); got != "ok" {
		t.Errorf("audit status = %q, want ok", got)
	}
}

func TestAnalyze_ShadowModeSkipsAllWrites(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.ShadowMode = true })
	seedResponses(f.src, "acme", 5)
	f.src.SetRelated("acme", []correlation.RelatedSubject{
		{SubjectID: "globex", State: &api.State{
			SubjectID:     "globex",
			Coefficients:  []float64{1, 0, 0, 0},
			Categories:    api.Categories(),
			Probabilities: map[string]float64{"positive": 1, "negative": 0, "neutral": 0, "emerging": 0},
		}},
	})

	result, err := f.orch.Analyze(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result == nil {
		t.Fatal("shadow mode must still compute and return the result")
	}

	if err := f.orch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	states, anomalies, cascades, correlations := f.store.Counts()
	if states != 0 || anomalies != 0 || cascades != 0 || correlations != 0 {
		t.Errorf("shadow mode wrote rows: states=%d anomalies=%d cascades=%d correlations=%d",
			states, anomalies, cascades, correlations)
	}
}

func TestAnalyze_CacheServesSecondCall(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.CacheEnabled = true
		c.ShadowMode = true
	})
	seedResponses(f.src, "acme", 5)

	first, err := f.orch.Analyze(context.Background(), "acme")
	if err != nil || first == nil {
		t.Fatalf("first Analyze failed: result=%v err=%v", first, err)
	}

	second, err := f.orch.Analyze(context.Background(), "acme")
	if err != nil || second == nil {
		t.Fatalf("second Analyze failed: result=%v err=%v", second, err)
	}

	if got := lastAuditStatus(f.auditor); got != "cache_hit" {
		t.Errorf("audit status = %q, want cache_hit", got)
	}
	for i := range first.State.Coefficients {
		if first.State.Coefficients[i] != second.State.Coefficients[i] {
			t.Errorf("cached result differs at coefficient %d", i)
		}
	}
}

func TestAnalyze_DeadlineAbandonsCalculation(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.MaxCalculationTime = 50 * time.Millisecond
	})
	seedResponses(f.src, "acme", 5)
	f.src.Delay = 300 * time.Millisecond

	start := time.Now()
	result, err := f.orch.Analyze(context.Background(), "acme")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout must not surface as an error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result on timeout, got %+v", result)
	}
	if elapsed > 250*time.Millisecond {
		t.Errorf("Analyze took %v, deadline was 50ms", elapsed)
	}
	if got := lastAuditStatus(f.auditor); got != "timeout" {
		t.Errorf("audit status = %q, want timeout", got)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.Enabled = false })
		report := f.orch.HealthCheck(context.Background())
		if report.Status != StatusDisabled {
			t.Errorf("status = %s, want disabled", report.Status)
		}
	})

	t.Run("healthy with stored states", func(t *testing.T) {
		f := newFixture(t, nil)
		seedResponses(f.src, "acme", 3)

		if _, err := f.orch.Analyze(context.Background(), "acme"); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		f.orch.Close()

		report := f.orch.HealthCheck(context.Background())
		if report.Status != StatusHealthy {
			t.Errorf("status = %s, want healthy", report.Status)
		}
		if report.StoredStates != 1 {
			t.Errorf("stored states = %d, want 1", report.StoredStates)
		}
		if report.UptimeSeconds < 0 {
			t.Errorf("negative uptime: %f", report.UptimeSeconds)
		}
	})
}
