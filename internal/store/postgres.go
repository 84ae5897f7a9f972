package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/db"
	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
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
CREATE TABLE IF NOT EXISTS job_outcomes (
	id          TEXT PRIMARY KEY,
	identifier  TEXT NOT NULL,
	status      TEXT NOT NULL,
	tier        TEXT,
	total_score DOUBLE PRECISION,
	outcome     JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_outcomes_identifier ON job_outcomes(identifier);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_status ON job_outcomes(status);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_finished_at ON job_outcomes(finished_at DESC);

CREATE TABLE IF NOT EXISTS field_provenance (
	outcome_id TEXT NOT NULL REFERENCES job_outcomes(id) ON DELETE CASCADE,
	field      TEXT NOT NULL,
	provider   TEXT NOT NULL,
	role       TEXT NOT NULL,
	value      TEXT NOT NULL,
	candidates INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (outcome_id, field)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	identifier     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_kind     TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

var provenanceColumns = []string{"outcome_id", "field", "provider", "role", "value", "candidates"}

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

func (s *PostgresStore) SaveOutcome(ctx context.Context, o *model.JobOutcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	outcomeJSON, err := json.Marshal(o)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal outcome")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save outcome")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO job_outcomes (id, identifier, status, tier, total_score, outcome, started_at, finished_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   status = $3, tier = NULLIF($4, ''), total_score = $5, outcome = $6, finished_at = $8`,
		o.ID, o.Identifier, string(o.Status), tierOf(o), totalOf(o), outcomeJSON,
		o.StartedAt.UTC(), o.FinishedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert outcome %s", o.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM field_provenance WHERE outcome_id = $1`, o.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear provenance %s", o.ID)
	}

	prov := provenanceOf(o)
	rows := make([][]any, 0, len(prov))
	for _, fp := range prov {
		rows = append(rows, []any{o.ID, fp.Field, fp.Provider, string(fp.Role), fp.Value, fp.Candidates})
	}
	if _, err := db.CopyFrom(ctx, tx, "field_provenance", provenanceColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert provenance %s", o.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save outcome")
}

func (s *PostgresStore) GetOutcome(ctx context.Context, id string) (*model.JobOutcome, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT outcome FROM job_outcomes WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get outcome %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get outcome %s", id)
	}

	var o model.JobOutcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal outcome")
	}
	return &o, nil
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.JobOutcome, error) {
	query := `SELECT outcome FROM job_outcomes WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.Identifier != "" {
		query += fmt.Sprintf(` AND identifier = $%d`, argIdx)
		args = append(args, filter.Identifier)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Tier != "" {
		query += fmt.Sprintf(` AND tier = $%d`, argIdx)
		args = append(args, string(filter.Tier))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND finished_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY finished_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var out []model.JobOutcome
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		var o model.JobOutcome
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal outcome")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, identifier, error, error_kind, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $3, error_kind = $4, error_type = $5, failed_stage = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.Identifier, entry.Error, string(entry.ErrorKind), entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, identifier, error, error_kind, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	if !filter.DueBefore.IsZero() {
		query += fmt.Sprintf(` AND next_retry_at <= $%d AND retry_count < max_retries`, argIdx)
		args = append(args, filter.DueBefore.UTC())
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var kind string
		var failedStage *string
		if err := rows.Scan(&e.ID, &e.Identifier, &e.Error, &kind, &e.ErrorType,
			&failedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.ErrorKind = model.ErrorKind(kind)
		if failedStage != nil {
			e.FailedStage = *failedStage
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
