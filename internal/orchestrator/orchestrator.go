package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/audit"
	"github.com/brandrank/quantum-intel/internal/cache"
	"github.com/brandrank/quantum-intel/internal/cascade"
	"github.com/brandrank/quantum-intel/internal/config"
	"github.com/brandrank/quantum-intel/internal/correlation"
	"github.com/brandrank/quantum-intel/internal/metrics"
	"github.com/brandrank/quantum-intel/internal/quantum"
	"github.com/brandrank/quantum-intel/internal/source"
	"github.com/brandrank/quantum-intel/internal/store"
	pkgotel "github.com/brandrank/quantum-intel/pkg/otel"
)

// Health statuses.
const (
	StatusDisabled  = "disabled"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Orchestrator is the pipeline entry point. It enforces the feature flags,
// applies caching and the calculation deadline, dispatches background
// correlation, gates persistence on shadow mode, and reports health.
//
// Every per-request failure degrades to a nil result plus a log line; Analyze
// returns an error to its caller only for programmer mistakes, never for
// expected failure modes.
type Orchestrator struct {
	cfg       config.Config
	estimator *quantum.Estimator
	detector  *quantum.Detector
	analyzer  *correlation.Analyzer
	predictor *cascade.Predictor

	responses source.ResponseSource
	related   source.RelatedSource
	results   cache.ResultCache
	store     store.AnalysisStore
	auditor   audit.Recorder
	metrics   *metrics.Metrics

	startedAt time.Time
	wg        sync.WaitGroup
}

// Deps carries the orchestrator's collaborators. Estimator, Detector,
// Analyzer, and Predictor default to their standard constructors when nil;
// the rest are required.
type Deps struct {
	Estimator *quantum.Estimator
	Detector  *quantum.Detector
	Analyzer  *correlation.Analyzer
	Predictor *cascade.Predictor

	Responses source.ResponseSource
	Related   source.RelatedSource
	Cache     cache.ResultCache
	Store     store.AnalysisStore
	Auditor   audit.Recorder
	Metrics   *metrics.Metrics
}

// New validates the configuration and wires the pipeline. A validation
// failure here is fatal for the subsystem; the caller should keep the rest of
// the application running with the subsystem reporting disabled.
func New(cfg config.Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Responses == nil {
		return nil, &api.ConfigurationError{Field: "Responses", Reason: "response source is required"}
	}
	if deps.Related == nil {
		return nil, &api.ConfigurationError{Field: "Related", Reason: "related-subject source is required"}
	}
	if deps.Store == nil {
		return nil, &api.ConfigurationError{Field: "Store", Reason: "analysis store is required"}
	}
	if deps.Metrics == nil {
		return nil, &api.ConfigurationError{Field: "Metrics", Reason: "metrics are required"}
	}

	if deps.Estimator == nil {
		deps.Estimator = quantum.NewEstimator(nil)
	}
	if deps.Detector == nil {
		deps.Detector = quantum.NewDetector()
	}
	if deps.Analyzer == nil {
		deps.Analyzer = correlation.NewAnalyzer()
	}
	if deps.Predictor == nil {
		deps.Predictor = cascade.NewPredictor()
	}
	if deps.Cache == nil || !cfg.CacheEnabled {
		deps.Cache = cache.Disabled{}
	}
	if deps.Auditor == nil {
		deps.Auditor = audit.NewMemoryRecorder()
	}

	return &Orchestrator{
		cfg:       cfg,
		estimator: deps.Estimator,
		detector:  deps.Detector,
		analyzer:  deps.Analyzer,
		predictor: deps.Predictor,
		responses: deps.Responses,
		related:   deps.Related,
		results:   deps.Cache,
		store:     deps.Store,
		auditor:   deps.Auditor,
		metrics:   deps.Metrics,
		startedAt: time.Now(),
	}, nil
}

// Analyze runs the full pipeline for one subject. A nil result with a nil
// error means "no result": the feature is disabled, no data was available,
// or the calculation was abandoned. Callers must treat that as a normal
// outcome.
func (o *Orchestrator) Analyze(ctx context.Context, subjectID string) (*api.CompositeResult, error) {
	if !o.cfg.Enabled {
		return nil, nil
	}

	ctx, span := pkgotel.StartSpan(ctx, "orchestrator", "Analyze", pkgotel.AttrSubjectID.String(subjectID))
	defer span.End()

	start := time.Now()
	o.metrics.AnalyzeTotal.Inc()

	if cached, ok := o.results.Get(ctx, subjectID); ok {
		o.metrics.CacheHits.Inc()
		pkgotel.AddEvent(span, "cache_hit")
		o.recordAudit(subjectID, "analyze", "cache_hit", start, nil)
		return cached, nil
	}

	result, err := o.computeBounded(ctx, subjectID)
	o.metrics.AnalyzeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, api.ErrNoData):
			o.metrics.NoData.Inc()
			log.Printf("quantum: no responses for subject %s", subjectID)
			o.recordAudit(subjectID, "analyze", "no_data", start, err)
		case errors.Is(err, api.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			o.metrics.Timeouts.Inc()
			log.Printf("quantum: WARN calculation timed out for subject %s after %v", subjectID, o.cfg.MaxCalculationTime)
			o.recordAudit(subjectID, "analyze", "timeout", start, err)
		default:
			log.Printf("quantum: analysis failed for subject %s: %v", subjectID, err)
			o.recordAudit(subjectID, "analyze", "error", start, err)
		}
		pkgotel.RecordError(span, err, "analysis degraded to no result")
		return nil, nil
	}

	for _, a := range result.Anomalies {
		o.metrics.AnomaliesByType.WithLabelValues(a.Type).Inc()
	}
	if result.Cascade != nil {
		o.metrics.CascadePredicted.Inc()
	}

	// Fire-and-forget: correlation runs detached with its own deadline and
	// error boundary. Its outcome never reaches this caller.
	o.dispatchCorrelation(subjectID, result.State)

	if o.cfg.ShadowMode {
		log.Printf("quantum: shadow mode, skipping persistence for subject %s", subjectID)
	} else if err := o.store.SaveAnalysis(ctx, result); err != nil {
		// Best-effort durability: the computed result is still returned.
		o.metrics.PersistErrors.Inc()
		log.Printf("quantum: ERROR persisting analysis for subject %s: %v", subjectID, err)
	}

	if err := o.results.Set(ctx, subjectID, result); err != nil {
		log.Printf("quantum: cache store failed for subject %s: %v", subjectID, err)
	}

	o.recordAudit(subjectID, "analyze", "ok", start, nil)
	return result, nil
}

// computeBounded runs data fetch, state estimation, anomaly detection, and
// cascade prediction under the calculation deadline. On expiry the in-flight
// result is discarded, never partially applied.
func (o *Orchestrator) computeBounded(parent context.Context, subjectID string) (*api.CompositeResult, error) {
	ctx, cancel := context.WithTimeout(parent, o.cfg.MaxCalculationTime)
	defer cancel()

	type outcome struct {
		result *api.CompositeResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		responses, err := o.responses.Responses(ctx, subjectID, o.cfg.ResponseWindow)
		if err != nil {
			done <- outcome{err: fmt.Errorf("response fetch: %w", err)}
			return
		}
		if len(responses) == 0 {
			done <- outcome{err: api.NoDataError(subjectID)}
			return
		}

		state, err := o.estimator.ComputeState(subjectID, responses)
		if err != nil {
			done <- outcome{err: err}
			return
		}

		anomalies := o.detector.Detect(state)

		result := &api.CompositeResult{
			SubjectID:  subjectID,
			State:      state,
			Anomalies:  anomalies,
			ComputedAt: state.ComputedAt,
		}

		if len(anomalies) > 0 {
			prediction, err := o.predictor.Predict(subjectID, anomalies)
			if err != nil {
				done <- outcome{err: fmt.Errorf("cascade prediction: %w", err)}
				return
			}
			result.Cascade = prediction
		}

		done <- outcome{result: result}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return nil, api.ErrTimeout
		}
		return out.result, out.err
	case <-ctx.Done():
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, api.ErrTimeout
	}
}

// dispatchCorrelation spawns the background correlation task. It carries its
// own timeout, detached from the request context, and a recover boundary so a
// panic in the analyzer cannot take down the caller.
func (o *Orchestrator) dispatchCorrelation(subjectID string, state *api.State) {
	o.metrics.CorrelationRuns.Inc()
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.metrics.CorrelationErrors.Inc()
				log.Printf("quantum: ERROR correlation task panicked for subject %s: %v", subjectID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CorrelationTimeout)
		defer cancel()

		related, err := o.related.Related(ctx, subjectID)
		if err != nil {
			o.metrics.CorrelationErrors.Inc()
			log.Printf("quantum: correlation fetch failed for subject %s: %v", subjectID, err)
			return
		}

		results := o.analyzer.Correlate(subjectID, state, related)
		if len(results) == 0 {
			return
		}

		if o.cfg.ShadowMode {
			return
		}

		if err := o.store.UpsertCorrelations(ctx, results); err != nil {
			o.metrics.CorrelationErrors.Inc()
			log.Printf("quantum: correlation upsert failed for subject %s: %v", subjectID, err)
			return
		}

		for _, r := range results {
			if spike := correlation.SpikeAnomaly(subjectID, r); spike != nil {
				o.metrics.AnomaliesByType.WithLabelValues(spike.Type).Inc()
				if err := o.store.SaveAnomaly(ctx, *spike); err != nil {
					log.Printf("quantum: spike anomaly write failed for subject %s: %v", subjectID, err)
				}
			}
		}
	}()
}

// recordAudit writes the audit entry for an operation. Audit failures are
// counted and logged, never surfaced.
func (o *Orchestrator) recordAudit(subjectID, operation, status string, start time.Time, opErr error) {
	entry := api.AuditEntry{
		SubjectID:  subjectID,
		Operation:  operation,
		Status:     status,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		At:         time.Now(),
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.auditor.Record(ctx, entry); err != nil {
		o.metrics.AuditErrors.Inc()
		log.Printf("quantum: audit write failed for subject %s: %v", subjectID, err)
	}
}

// HealthCheck reports pipeline health for operational monitoring.
func (o *Orchestrator) HealthCheck(ctx context.Context) api.HealthReport {
	report := api.HealthReport{
		Status:        StatusHealthy,
		CacheHitRate:  o.results.Stats().HitRate(),
		UptimeSeconds: time.Since(o.startedAt).Seconds(),
	}
	if !o.cfg.Enabled {
		report.Status = StatusDisabled
		return report
	}

	if err := o.store.Ping(ctx); err != nil {
		report.Status = StatusUnhealthy
		return report
	}
	if count, err := o.store.CountStates(ctx); err == nil {
		report.StoredStates = count
	} else {
		report.Status = StatusUnhealthy
	}
	return report
}

// Config returns the orchestrator's immutable configuration.
func (o *Orchestrator) Config() config.Config {
	return o.cfg
}

// Close waits for in-flight background tasks to finish.
func (o *Orchestrator) Close() error {
	o.wg.Wait()
	return nil
}
