package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandrank/quantum-intel/internal/api"
)

// PostgresStore persists pipeline output to the subsystem-owned tables.
//
// Schema:
//
//	CREATE TABLE quantum_states (
//	  id BIGSERIAL PRIMARY KEY,
//	  subject_id VARCHAR(255) NOT NULL,
//	  state JSONB NOT NULL,
//	  uncertainty REAL NOT NULL,
//	  computed_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_quantum_states_subject ON quantum_states(subject_id, computed_at DESC);
//
//	CREATE TABLE quantum_anomalies (
//	  id BIGSERIAL PRIMARY KEY,
//	  subject_id VARCHAR(255) NOT NULL,
//	  anomaly_type VARCHAR(50) NOT NULL,
//	  strength REAL NOT NULL,
//	  confidence REAL NOT NULL,
//	  detail JSONB NOT NULL,
//	  detected_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE quantum_entanglements (
//	  id BIGSERIAL PRIMARY KEY,
//	  subject_a VARCHAR(255) NOT NULL,
//	  subject_b VARCHAR(255) NOT NULL,
//	  entanglement_entropy REAL NOT NULL,
//	  quantum_distance REAL NOT NULL,
//	  strength VARCHAR(20) NOT NULL,
//	  phase_correlation REAL NOT NULL,
//	  measured_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_quantum_entanglements_pair ON quantum_entanglements(subject_a, subject_b, measured_at DESC);
//
//	CREATE TABLE quantum_cascade_predictions (
//	  id BIGSERIAL PRIMARY KEY,
//	  subject_id VARCHAR(255) NOT NULL,
//	  trigger_type VARCHAR(50) NOT NULL,
//	  probability REAL NOT NULL,
//	  predicted_reach BIGINT NOT NULL,
//	  time_to_event_hours REAL NOT NULL,
//	  window_end TIMESTAMPTZ NOT NULL,
//	  predicted_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed analysis store and verifies the
// connection.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) SaveAnalysis(ctx context.Context, result *api.CompositeResult) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return &api.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx) // no-op after commit

	stateJSON, err := json.Marshal(result.State)
	if err != nil {
		return &api.PersistenceError{Op: "marshal state", Err: err}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO quantum_states (subject_id, state, uncertainty, computed_at)
		VALUES ($1, $2, $3, $4)
	`, result.SubjectID, stateJSON, result.State.Uncertainty, result.State.ComputedAt)
	if err != nil {
		return &api.PersistenceError{Op: "insert state", Err: err}
	}

	for _, a := range result.Anomalies {
		detail, err := json.Marshal(a)
		if err != nil {
			return &api.PersistenceError{Op: "marshal anomaly", Err: err}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO quantum_anomalies (subject_id, anomaly_type, strength, confidence, detail, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, a.SubjectID, a.Type, a.Strength, a.Confidence, detail, a.DetectedAt)
		if err != nil {
			return &api.PersistenceError{Op: "insert anomaly", Err: err}
		}
	}

	if c := result.Cascade; c != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO quantum_cascade_predictions
			  (subject_id, trigger_type, probability, predicted_reach, time_to_event_hours, window_end, predicted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.SubjectID, c.TriggerType, c.Probability, c.PredictedReach, c.TimeToEventHours, c.WindowEnd, c.PredictedAt)
		if err != nil {
			return &api.PersistenceError{Op: "insert cascade", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &api.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

func (p *PostgresStore) UpsertCorrelations(ctx context.Context, results []api.CorrelationResult) error {
	for _, r := range results {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO quantum_entanglements
			  (subject_a, subject_b, entanglement_entropy, quantum_distance, strength, phase_correlation, measured_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.SubjectA, r.SubjectB, r.EntanglementEntropy, r.QuantumDistance, r.Strength, r.PhaseCorrelation, r.MeasuredAt)
		if err != nil {
			return &api.PersistenceError{Op: "insert correlation", Err: err}
		}
	}
	return nil
}

func (p *PostgresStore) SaveAnomaly(ctx context.Context, a api.Anomaly) error {
	detail, err := json.Marshal(a)
	if err != nil {
		return &api.PersistenceError{Op: "marshal anomaly", Err: err}
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO quantum_anomalies (subject_id, anomaly_type, strength, confidence, detail, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.SubjectID, a.Type, a.Strength, a.Confidence, detail, a.DetectedAt)
	if err != nil {
		return &api.PersistenceError{Op: "insert anomaly", Err: err}
	}
	return nil
}

func (p *PostgresStore) TopCorrelations(ctx context.Context, subjectID string, limit int) ([]api.CorrelationResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (subject_a, subject_b)
		  subject_a, subject_b, entanglement_entropy, quantum_distance, strength, phase_correlation, measured_at
		FROM quantum_entanglements
		WHERE subject_a = $1 OR subject_b = $1
		ORDER BY subject_a, subject_b, measured_at DESC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("correlation query failed: %w", err)
	}
	defer rows.Close()

	var results []api.CorrelationResult
	for rows.Next() {
		var r api.CorrelationResult
		if err := rows.Scan(&r.SubjectA, &r.SubjectB, &r.EntanglementEntropy, &r.QuantumDistance,
			&r.Strength, &r.PhaseCorrelation, &r.MeasuredAt); err != nil {
			return nil, fmt.Errorf("correlation scan failed: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("correlation rows failed: %w", err)
	}

	// DISTINCT ON ordering is fixed by the pair key, so sort by entropy here.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].EntanglementEntropy > results[j-1].EntanglementEntropy; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (p *PostgresStore) CountStates(ctx context.Context) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quantum_states`).Scan(&count); err != nil {
		return 0, fmt.Errorf("state count failed: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
