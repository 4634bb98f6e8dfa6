// Package history persists shutter command invocations to SQLite for
// later inspection: what moved, when, how long it took, and whether the
// relay bus cooperated.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mj41/ha-modbus-windows-shutter/internal/shutter"
)

// Record is one persisted command invocation.
type Record struct {
	ID        string        `json:"id"`
	Target    string        `json:"target,omitempty"`
	Action    string        `json:"action"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter controls which records List returns.
type Filter struct {
	Target  string // optional: filter by shutter or group name
	Outcome string // optional: filter by outcome (success, failure)
	Limit   int    // default 50, max 200
}

// Query page size limits.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository reads and writes the shutter_history table.
// It satisfies shutter.HistoryRecorder.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a history repository on an open database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordInvocation persists one completed command.
//
// The ID is generated here; the caller never supplies one. Durations are
// stored as whole milliseconds.
func (r *Repository) RecordInvocation(ctx context.Context, inv shutter.Invocation) error {
	id := "inv-" + uuid.NewString()[:8]
	createdAt := time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO shutter_history (id, target, action, outcome, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, inv.Target, inv.Action, inv.Outcome, inv.Error,
		inv.Duration.Milliseconds(),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}

	return nil
}

// List returns records matching the filter, most recent first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Record, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	query := `SELECT id, target, action, outcome, error, duration_ms, created_at
		FROM shutter_history WHERE 1=1`
	var args []any

	if filter.Target != "" {
		query += " AND target = ?"
		args = append(args, filter.Target)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}

	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var durationMs int64
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.Target, &rec.Action, &rec.Outcome,
			&rec.Error, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}

		rec.Duration = time.Duration(durationMs) * time.Millisecond
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing history timestamp %q: %w", createdAt, err)
		}
		rec.CreatedAt = t

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Prune deletes records older than the retention window.
//
// Returns:
//   - int64: Number of records deleted
//   - error: If deletion fails
func (r *Repository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM shutter_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return deleted, nil
}
