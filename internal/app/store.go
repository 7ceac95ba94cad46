package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Store keeps run history and the last applied spec per domain in sqlite.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A CLI run is one writer; a single connection keeps the pragmas applied.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	domain      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL,
	spec_json   TEXT NOT NULL,
	backup_dir  TEXT NOT NULL,
	log_path    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_domain_started ON runs (domain, started_at);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id  TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq     INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	path    TEXT NOT NULL,
	state   TEXT NOT NULL,
	changed INTEGER NOT NULL,
	error   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS sites (
	domain      TEXT PRIMARY KEY,
	last_run_id TEXT NOT NULL REFERENCES runs (id),
	updated_at  TEXT NOT NULL
);`)
	return err
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// SaveRun records a run with its artifacts and makes it the domain's
// latest run.
func (s *Store) SaveRun(ctx context.Context, r *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, domain, started_at, finished_at, status, error, fingerprint, spec_json, backup_dir, log_path)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Domain, formatTime(r.StartedAt), formatTime(r.FinishedAt), string(r.Status), r.Error,
		r.Fingerprint, r.SpecJSON, r.BackupDir, r.LogPath)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, a := range r.Artifacts {
		changed := 0
		if a.Changed {
			changed = 1
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO artifacts (run_id, seq, kind, path, state, changed, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, a.Kind, a.Path, a.State, changed, a.Error)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO sites (domain, last_run_id, updated_at) VALUES (?, ?, ?)
ON CONFLICT (domain) DO UPDATE SET last_run_id = excluded.last_run_id, updated_at = excluded.updated_at`,
		r.Domain, r.ID, formatTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}

	return tx.Commit()
}

const runColumns = `id, domain, started_at, finished_at, status, error, fingerprint, spec_json, backup_dir, log_path`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var started, finished, status string
	if err := row.Scan(&r.ID, &r.Domain, &started, &finished, &status, &r.Error,
		&r.Fingerprint, &r.SpecJSON, &r.BackupDir, &r.LogPath); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	r.Status = Status(status)
	return &r, nil
}

// ListRuns returns the newest runs first. An empty domain lists every domain.
func (s *Store) ListRuns(ctx context.Context, domain string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range runs {
		if r.Artifacts, err = s.artifacts(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) artifacts(ctx context.Context, runID string) ([]ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, path, state, changed, error FROM artifacts WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		var a ArtifactRecord
		var changed int
		if err := rows.Scan(&a.Kind, &a.Path, &a.State, &changed, &a.Error); err != nil {
			return nil, err
		}
		a.Changed = changed != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// LastSucceeded returns the newest succeeded run for domain, or ErrNotFound.
func (s *Store) LastSucceeded(ctx context.Context, domain string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs
WHERE domain = ? AND status = ? ORDER BY started_at DESC LIMIT 1`, domain, string(StatusSucceeded))
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no succeeded run for %s: %w", domain, ErrNotFound)
	}
	return r, err
}

func (s *Store) Sites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.domain, s.last_run_id, r.status, s.updated_at
FROM sites s JOIN runs r ON r.id = s.last_run_id
ORDER BY s.domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		var site Site
		var status, updated string
		if err := rows.Scan(&site.Domain, &site.LastRunID, &status, &updated); err != nil {
			return nil, err
		}
		site.LastStatus = Status(status)
		site.UpdatedAt = parseTime(updated)
		out = append(out, site)
	}
	return out, rows.Err()
}
