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

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS job_outcomes (
	id          TEXT PRIMARY KEY,
	identifier  TEXT NOT NULL,
	status      TEXT NOT NULL,
	tier        TEXT,
	total_score REAL,
	outcome     TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

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
	id             TEXT PRIMARY KEY,
	identifier     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_kind     TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_outcomes_identifier ON job_outcomes(identifier);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_status ON job_outcomes(status);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_finished_at ON job_outcomes(finished_at);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, o *model.JobOutcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	outcomeJSON, err := json.Marshal(o)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal outcome")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save outcome")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_outcomes (id, identifier, status, tier, total_score, outcome, started_at, finished_at)
		 VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status, tier = excluded.tier, total_score = excluded.total_score,
		   outcome = excluded.outcome, finished_at = excluded.finished_at`,
		o.ID, o.Identifier, string(o.Status), tierOf(o), totalOf(o), string(outcomeJSON),
		o.StartedAt.UTC(), o.FinishedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert outcome %s", o.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_provenance WHERE outcome_id = ?`, o.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear provenance %s", o.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO field_provenance (outcome_id, field, provider, role, value, candidates) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare provenance insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, fp := range provenanceOf(o) {
		if _, err := stmt.ExecContext(ctx, o.ID, fp.Field, fp.Provider, string(fp.Role), fp.Value, fp.Candidates); err != nil {
			return eris.Wrapf(err, "sqlite: insert provenance %s.%s", o.ID, fp.Field)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save outcome")
}

func (s *SQLiteStore) GetOutcome(ctx context.Context, id string) (*model.JobOutcome, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT outcome FROM job_outcomes WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get outcome %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get outcome %s", id)
	}
	return decodeOutcome(raw)
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.JobOutcome, error) {
	query := `SELECT outcome FROM job_outcomes WHERE 1=1`
	var args []any

	if filter.Identifier != "" {
		query += ` AND identifier = ?`
		args = append(args, filter.Identifier)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if !filter.Since.IsZero() {
		query += ` AND finished_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.JobOutcome
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		o, err := decodeOutcome(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, identifier, error, error_kind, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_kind = excluded.error_kind, error_type = excluded.error_type,
		   failed_stage = excluded.failed_stage, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.Identifier, entry.Error, string(entry.ErrorKind), entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, identifier, error, error_kind, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	if !filter.DueBefore.IsZero() {
		query += ` AND next_retry_at <= ? AND retry_count < max_retries`
		args = append(args, filter.DueBefore.UTC())
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: remove dlq")
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDLQEntry(row scannable) (*resilience.DLQEntry, error) {
	var e resilience.DLQEntry
	var kind string
	var failedStage sql.NullString
	if err := row.Scan(&e.ID, &e.Identifier, &e.Error, &kind, &e.ErrorType,
		&failedStage, &e.RetryCount, &e.MaxRetries,
		&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan dlq entry")
	}
	e.ErrorKind = model.ErrorKind(kind)
	e.FailedStage = failedStage.String
	return &e, nil
}

func decodeOutcome(raw string) (*model.JobOutcome, error) {
	var o model.JobOutcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal outcome")
	}
	return &o, nil
}
