package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	progress   TEXT NOT NULL DEFAULT '{}',
	snapshot   TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at);
CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);

CREATE TABLE IF NOT EXISTS sends (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	side        TEXT NOT NULL,
	email       TEXT NOT NULL,
	provider    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	error_type  TEXT NOT NULL DEFAULT '',
	retries     INTEGER NOT NULL DEFAULT 0,
	sent_at     DATETIME NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, runID string, snap *model.Snapshot) error {
	r, err := newRow(runID, snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, progress, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			progress = excluded.progress,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		r.id, r.stage, string(r.progress), string(r.snapshot), r.createdAt, r.updatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert run %s", runID)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (*model.Snapshot, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE id = ?`, runID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load run %s", runID)
	}
	return decodeSnapshot([]byte(blob))
}

func (s *SQLiteStore) LoadLatestActive(ctx context.Context) (*model.Snapshot, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM runs WHERE stage <> ? ORDER BY updated_at DESC LIMIT 1`,
		string(model.StageComplete),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load latest active run")
	}
	return decodeSnapshot([]byte(blob))
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage, progress, created_at, updated_at FROM runs ORDER BY updated_at DESC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []RunInfo
	for rows.Next() {
		var (
			r        row
			progress string
		)
		if err := rows.Scan(&r.id, &r.stage, &progress, &r.createdAt, &r.updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		info, err := runInfo(r.id, r.stage, []byte(progress), r.createdAt, r.updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) AppendSends(ctx context.Context, runID string, recs []model.SendRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append sends")
	}
	defer tx.Rollback() //nolint:errcheck

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM sends WHERE run_id = ?`, runID).Scan(&next); err != nil {
		return eris.Wrapf(err, "sqlite: next send seq for %s", runID)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sends (`+strings.Join(sendColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare send insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range sendRows(runID, next, recs, time.Now().UTC()) {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return eris.Wrapf(err, "sqlite: insert send for %s", runID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit sends")
}

func (s *SQLiteStore) ListSends(ctx context.Context, runID string) ([]model.SendRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, side, email, provider, outcome, detail, error_type, retries
		 FROM sends WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list sends for %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SendRecord
	for rows.Next() {
		var r model.SendRecord
		if err := rows.Scan(&r.Fingerprint, &r.Side, &r.Email, &r.Provider, &r.Outcome, &r.Detail, &r.ErrorType, &r.Retries); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan send")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sends")
}
