package runlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the sync_runs table when it does not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sync_runs (
			id UUID PRIMARY KEY,
			trigger TEXT NOT NULL,
			dry_run BOOLEAN NOT NULL,
			applied BOOLEAN NOT NULL,
			team_changes INTEGER NOT NULL,
			repo_changes INTEGER NOT NULL,
			plan TEXT NOT NULL,
			error TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("creating sync_runs table: %w", err)
	}
	return nil
}

// Record inserts a run record.
func (r *PostgresRepository) Record(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO sync_runs (id, trigger, dry_run, applied, team_changes, repo_changes, plan, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		run.ID, run.Trigger, run.DryRun, run.Applied,
		run.TeamChanges, run.RepoChanges, run.Plan, run.Error,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetByID retrieves a single run by its UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, trigger, dry_run, applied, team_changes, repo_changes, plan, error, started_at, finished_at
		FROM sync_runs
		WHERE id = $1`

	var run Run
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Trigger, &run.DryRun, &run.Applied,
		&run.TeamChanges, &run.RepoChanges, &run.Plan, &run.Error,
		&run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &run, nil
}

// List retrieves the most recent runs, newest first.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, trigger, dry_run, applied, team_changes, repo_changes, plan, error, started_at, finished_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		err := rows.Scan(
			&run.ID, &run.Trigger, &run.DryRun, &run.Applied,
			&run.TeamChanges, &run.RepoChanges, &run.Plan, &run.Error,
			&run.StartedAt, &run.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}

	if runs == nil {
		runs = []Run{}
	}
	return runs, nil
}
