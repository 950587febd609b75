package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":           `INSERT INTO runs (id, document, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status":    `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"insert_phase":         `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":       `UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
	"get_cached_inference": `SELECT data FROM inference_cache WHERE key = $1 AND expires_at > now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document   JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS inference_cache (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_name ON runs((document->>'name'));
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_inference_cache_expires_at ON inference_cache(expires_at);
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

func (s *PostgresStore) CreateRun(ctx context.Context, doc model.DocumentRef) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal document")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, document, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, docJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Document:  doc,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, document, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, document, status, result, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Document != "" {
		query += fmt.Sprintf(` AND document->>'name' = $%d`, argIdx)
		args = append(args, filter.Document)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var docJSON []byte
	var resultNull *[]byte

	if err := row.Scan(&r.ID, &docJSON, &r.Status, &resultNull, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(docJSON, &r.Document); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal document")
	}
	if resultNull != nil {
		r.Result = &model.Result{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = $1 ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list phases %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultNull *[]byte
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultNull, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		if resultNull != nil {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal(*resultNull, p.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

func (s *PostgresStore) GetCachedInference(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM inference_cache WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached inference")
	}
	return data, nil
}

func (s *PostgresStore) SetCachedInference(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inference_cache (key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET data = $2, cached_at = $3, expires_at = $4`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached inference")
}

func (s *PostgresStore) DeleteExpiredInference(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM inference_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired inference")
	}
	return int(tag.RowsAffected()), nil
}
