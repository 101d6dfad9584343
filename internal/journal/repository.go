package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses written by the client. Server statuses are stored verbatim.
const (
	StatusStarted = "started"
)

// DefaultListLimit bounds ListRuns when no limit is given.
const DefaultListLimit = 50

// Entry is one journaled run.
type Entry struct {
	RunID     int64
	PlanID    string
	StartedAt time.Time
	UpdatedAt time.Time
	ItemCount int
	Bytes     int64
	Status    string
	Message   string
}

// Repository reads and writes journal entries.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an open connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordRun inserts a run, or refreshes it when the run id is already known.
func (r *Repository) RecordRun(ctx context.Context, entry Entry) error {
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}
	if entry.Status == "" {
		entry.Status = StatusStarted
	}

	query := `
		INSERT INTO runs (run_id, plan_id, started_at, updated_at, item_count, bytes, status, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
		plan_id = excluded.plan_id,
		item_count = excluded.item_count,
		bytes = excluded.bytes,
		status = excluded.status,
		message = excluded.message,
		updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.RunID, entry.PlanID, entry.StartedAt.UTC(), time.Now().UTC(),
		entry.ItemCount, entry.Bytes, entry.Status, nullString(entry.Message))
	if err != nil {
		return fmt.Errorf("failed to record run %d: %w", entry.RunID, err)
	}
	return nil
}

// UpdateStatus stores the latest known status of a run.
func (r *Repository) UpdateStatus(ctx context.Context, runID int64, status string) error {
	query := `UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`
	res, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", runID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", runID, err)
	}
	if rows == 0 {
		return fmt.Errorf("run %d is not in the journal", runID)
	}
	return nil
}

// GetRun returns one run, or nil when it is not journaled.
func (r *Repository) GetRun(ctx context.Context, runID int64) (*Entry, error) {
	query := `
		SELECT run_id, plan_id, started_at, updated_at, item_count, bytes, status, message
		FROM runs WHERE run_id = ?
	`
	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run %d: %w", runID, err)
	}
	return entry, nil
}

// ListRuns returns the most recent runs first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT run_id, plan_id, started_at, updated_at, item_count, bytes, status, message
		FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e       Entry
		message sql.NullString
	)
	if err := row.Scan(&e.RunID, &e.PlanID, &e.StartedAt, &e.UpdatedAt, &e.ItemCount, &e.Bytes, &e.Status, &message); err != nil {
		return nil, err
	}
	e.Message = message.String
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
