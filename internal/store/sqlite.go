package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/takeoff-cli/internal/model"
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS inference_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_inference_cache_expires_at ON inference_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, doc model.DocumentRef) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal document")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, document, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(docJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Document:  doc,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, document, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Document != "" {
		query += ` AND json_extract(document, '$.name') = ?`
		args = append(args, filter.Document)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) GetCachedInference(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM inference_cache WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached inference")
	}
	return data, nil
}

func (s *SQLiteStore) SetCachedInference(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inference_cache (key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached inference")
}

func (s *SQLiteStore) DeleteExpiredInference(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM inference_cache WHERE expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired inference")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var docJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &docJSON, &r.Status, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(docJSON), &r.Document); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal document")
	}
	if resultJSON.Valid {
		r.Result = &model.Result{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
