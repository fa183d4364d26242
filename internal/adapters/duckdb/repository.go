package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/ports"
)

// Repository persists match runs and settings in a local DuckDB file.
type Repository struct {
	db *sql.DB
}

var _ ports.Repository = (*Repository)(nil)

// NewRepository opens (or creates) the database at path and ensures the
// schema exists. An empty path selects an in-memory database.
func NewRepository(path string) (*Repository, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          VARCHAR PRIMARY KEY,
			model       VARCHAR,
			corpus_path VARCHAR,
			status      VARCHAR,
			created_at  TIMESTAMP,
			finished_at TIMESTAMP,
			results     VARCHAR
		);
		CREATE TABLE IF NOT EXISTS settings (
			key   VARCHAR PRIMARY KEY,
			value VARCHAR
		);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// SaveRun upserts the run envelope; step results travel as one JSON blob.
func (r *Repository) SaveRun(ctx context.Context, run *domain.MatchRun) error {
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, model, corpus_path, status, created_at, finished_at, results)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status      = excluded.status,
			finished_at = excluded.finished_at,
			results     = excluded.results`,
		string(run.ID),
		run.Model,
		run.CorpusPath,
		string(run.Status),
		run.CreatedAt,
		run.FinishedAt,
		string(resultsJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id domain.RunID) (*domain.MatchRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, model, corpus_path, status, created_at, finished_at, results
		FROM runs
		WHERE id = ?`, string(id))

	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*domain.MatchRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, model, corpus_path, status, created_at, finished_at, results
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []*domain.MatchRun{}
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(scan func(dest ...any) error) (*domain.MatchRun, error) {
	var run domain.MatchRun
	var idStr, statusStr, resultsJSON string
	var finishedAt *time.Time
	if err := scan(&idStr, &run.Model, &run.CorpusPath, &statusStr, &run.CreatedAt, &finishedAt, &resultsJSON); err != nil {
		return nil, err
	}
	run.ID = domain.RunID(idStr)
	run.Status = domain.RunStatus(statusStr)
	run.FinishedAt = finishedAt
	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &run.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &run, nil
}

func (r *Repository) SaveSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}
