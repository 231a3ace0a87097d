package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"upsert_run":         sqlUpsertRun,
	"load_run":           `SELECT snapshot FROM runs WHERE id = $1`,
	"load_latest_active": `SELECT snapshot FROM runs WHERE stage <> $1 ORDER BY updated_at DESC LIMIT 1`,
}

const sqlUpsertRun = `INSERT INTO runs (id, stage, progress, snapshot, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	stage = EXCLUDED.stage,
	progress = EXCLUDED.progress,
	snapshot = EXCLUDED.snapshot,
	updated_at = EXCLUDED.updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(4), int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	progress   JSONB NOT NULL DEFAULT '{}'::jsonb,
	snapshot   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at DESC);
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
	sent_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, seq)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, runID string, snap *model.Snapshot) error {
	r, err := newRow(runID, snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sqlUpsertRun, r.id, r.stage, r.progress, r.snapshot, r.createdAt, r.updatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert run %s", runID)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, runID string) (*model.Snapshot, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM runs WHERE id = $1`, runID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load run %s", runID)
	}
	return decodeSnapshot(blob)
}

func (s *PostgresStore) LoadLatestActive(ctx context.Context) (*model.Snapshot, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM runs WHERE stage <> $1 ORDER BY updated_at DESC LIMIT 1`,
		string(model.StageComplete),
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load latest active run")
	}
	return decodeSnapshot(blob)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, stage, progress, created_at, updated_at FROM runs ORDER BY updated_at DESC LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.stage, &r.progress, &r.createdAt, &r.updatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		info, err := runInfo(r.id, r.stage, r.progress, r.createdAt, r.updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// AppendSends copies the records in one transaction so concurrent appends to
// the same run cannot interleave sequence numbers.
func (s *PostgresStore) AppendSends(ctx context.Context, runID string, recs []model.SendRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append sends")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT 1 FROM runs WHERE id = $1 FOR UPDATE`, runID); err != nil {
		return eris.Wrapf(err, "postgres: lock run %s", runID)
	}
	var next int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM sends WHERE run_id = $1`, runID).Scan(&next); err != nil {
		return eris.Wrapf(err, "postgres: next send seq for %s", runID)
	}
	if _, err := db.CopyFrom(ctx, tx, "sends", sendColumns, sendRows(runID, next, recs, time.Now().UTC())); err != nil {
		return eris.Wrapf(err, "postgres: append sends for %s", runID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit sends")
}

func (s *PostgresStore) ListSends(ctx context.Context, runID string) ([]model.SendRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint, side, email, provider, outcome, detail, error_type, retries
		 FROM sends WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list sends for %s", runID)
	}
	defer rows.Close()

	var out []model.SendRecord
	for rows.Next() {
		var r model.SendRecord
		if err := rows.Scan(&r.Fingerprint, &r.Side, &r.Email, &r.Provider, &r.Outcome, &r.Detail, &r.ErrorType, &r.Retries); err != nil {
			return nil, eris.Wrap(err, "postgres: scan send")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sends")
}
