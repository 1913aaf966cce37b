package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/upsync/internal/report"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one persisted workflow run.
type RunRecord struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      string
	State        string
	Branch       string
	BackupRef    string
	UpdateBranch string
	Report       string // canonical JSON body
	Digest       string
}

// WriteRun persists a terminal report. Uses ON CONFLICT(id) DO NOTHING
// for idempotency: a run ID is written at most once.
func (s *Store) WriteRun(ctx context.Context, r *report.Report) error {
	body, err := report.MarshalCanonical(r)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	digest, err := report.Digest(r)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, finished_at, outcome, state, branch, backup_ref, update_branch, report, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.RunID,
		r.StartedAt.UTC().Format(time.RFC3339),
		r.FinishedAt.UTC().Format(time.RFC3339),
		string(r.Outcome),
		r.State,
		r.Branch,
		r.BackupRef,
		r.UpdateBranch,
		string(body),
		digest,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
// A limit of zero returns everything.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, outcome, state, branch, backup_ref, update_branch, report, digest
		FROM runs
		ORDER BY started_at DESC, id DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, outcome, state, branch, backup_ref, update_branch, report, digest
		FROM runs WHERE id = ?
	`, id)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	} else if err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var started, finished string
	err := row.Scan(
		&rec.ID,
		&started,
		&finished,
		&rec.Outcome,
		&rec.State,
		&rec.Branch,
		&rec.BackupRef,
		&rec.UpdateBranch,
		&rec.Report,
		&rec.Digest,
	)
	if err != nil {
		return RunRecord{}, err
	}

	if rec.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
		return RunRecord{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339, finished); err != nil {
		return RunRecord{}, fmt.Errorf("parse finished_at %q: %w", finished, err)
	}
	return rec, nil
}
