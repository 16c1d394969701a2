package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandrank/quantum-intel/internal/api"
)

// Recorder writes audit entries for pipeline operations. Audit is best
// effort: the orchestrator logs recorder failures and never lets them affect
// the primary operation.
type Recorder interface {
	Record(ctx context.Context, entry api.AuditEntry) error
}

// MemoryRecorder keeps entries in memory for tests.
type MemoryRecorder struct {
	mu      sync.RWMutex
	entries []api.AuditEntry
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, entry api.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (m *MemoryRecorder) Entries() []api.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// PostgresRecorder appends entries to the quantum_audit_log table.
//
// Schema:
//
//	CREATE TABLE quantum_audit_log (
//	  id BIGSERIAL PRIMARY KEY,
//	  subject_id VARCHAR(255) NOT NULL,
//	  operation VARCHAR(50) NOT NULL,
//	  status VARCHAR(20) NOT NULL,
//	  duration_ms REAL NOT NULL,
//	  detail JSONB,
//	  logged_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder creates a recorder over an existing pool.
func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

func (p *PostgresRecorder) Record(ctx context.Context, entry api.AuditEntry) error {
	detail, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	// Audit writes get a short independent deadline so a slow database cannot
	// stall the request path they are recording.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err = p.pool.Exec(ctx, `
		INSERT INTO quantum_audit_log (subject_id, operation, status, duration_ms, detail, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.SubjectID, entry.Operation, entry.Status, entry.DurationMs, detail, entry.At)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}
