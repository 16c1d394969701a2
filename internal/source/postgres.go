package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/correlation"
)

// PostgresSource reads model responses and cohort relationships from the
// shared database. Strictly read-only: SELECTs against collaborator-owned
// tables (subject_responses, subjects) plus the subsystem's own
// quantum_states for related-subject states.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a read-only source over an existing pool. The
// pool is shared with the store; the source never writes through it.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// ConnectPostgresSource opens a dedicated pool for the source.
func ConnectPostgresSource(connStr string) (*PostgresSource, error) {
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
	return &PostgresSource{pool: pool}, nil
}

func (p *PostgresSource) Responses(ctx context.Context, subjectID string, window time.Duration) ([]api.ModelResponse, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT model, response_content, confidence_score, created_at
		FROM subject_responses
		WHERE subject_id = $1 AND created_at > NOW() - $2::interval
		ORDER BY created_at DESC
	`, subjectID, window.String())
	if err != nil {
		return nil, fmt.Errorf("response query failed: %w", err)
	}
	defer rows.Close()

	var responses []api.ModelResponse
	for rows.Next() {
		var r api.ModelResponse
		if err := rows.Scan(&r.ContributorID, &r.Text, &r.Confidence, &r.CapturedAt); err != nil {
			return nil, fmt.Errorf("response scan failed: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("response rows failed: %w", err)
	}
	return responses, nil
}

func (p *PostgresSource) Related(ctx context.Context, subjectID string) ([]correlation.RelatedSubject, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT s.id, qs.state
		FROM subjects s
		LEFT JOIN LATERAL (
			SELECT state FROM quantum_states
			WHERE subject_id = s.id
			ORDER BY computed_at DESC
			LIMIT 1
		) qs ON true
		WHERE s.category = (SELECT category FROM subjects WHERE id = $1)
		  AND s.id != $1
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("related query failed: %w", err)
	}
	defer rows.Close()

	var related []correlation.RelatedSubject
	for rows.Next() {
		var id string
		var stateJSON []byte
		if err := rows.Scan(&id, &stateJSON); err != nil {
			return nil, fmt.Errorf("related scan failed: %w", err)
		}
		rel := correlation.RelatedSubject{SubjectID: id}
		if len(stateJSON) > 0 {
			var state api.State
			if err := json.Unmarshal(stateJSON, &state); err == nil {
				rel.State = &state
			}
		}
		related = append(related, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("related rows failed: %w", err)
	}
	return related, nil
}

// Pool exposes the underlying pool so sibling components (the audit
// recorder) can share the connection without opening their own.
func (p *PostgresSource) Pool() *pgxpool.Pool {
	return p.pool
}

// Close releases the pool.
func (p *PostgresSource) Close() error {
	p.pool.Close()
	return nil
}
