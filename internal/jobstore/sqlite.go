package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codrhq/codr/internal/protocol"
)

// SQLiteStore implements Store using SQLite. Monotone status transitions
// are enforced with conditional UPDATEs; token burn relies on the primary
// key of consumed_tokens.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'queued',
			error TEXT NOT NULL DEFAULT '',
			result TEXT,
			created_at DATETIME NOT NULL,
			completed_at DATETIME,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS consumed_tokens (
			id TEXT PRIMARY KEY,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON jobs(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_consumed_tokens_expires_at ON consumed_tokens(expires_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, code, language, filename, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Code, job.Language, job.Filename, job.Status, job.CreatedAt, job.ExpiresAt)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	var resultJSON sql.NullString
	var language string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, language, filename, status, error, result, created_at, completed_at, expires_at
		 FROM jobs WHERE id = ? AND expires_at > ?`, id, time.Now().UTC()).Scan(
		&job.ID, &job.Code, &language, &job.Filename, &job.Status, &job.Error,
		&resultJSON, &job.CreatedAt, &job.CompletedAt, &job.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Language = protocol.Language(language)
	if resultJSON.Valid && resultJSON.String != "" {
		var res Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &res
	}
	return job, nil
}

func (s *SQLiteStore) SetSubmission(ctx context.Context, id, code string, language protocol.Language, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET code = ?, language = ?, filename = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		code, language, filename, id, StatusQueued, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ? AND expires_at > ?`,
		StatusProcessing, id, StatusQueued, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string, result Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, completed_at = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		StatusCompleted, string(resultJSON), time.Now().UTC(), id, StatusProcessing, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errMsg string, partial *Result) error {
	var resultJSON sql.NullString
	if partial != nil {
		data, err := json.Marshal(partial)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, result = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?) AND expires_at > ?`,
		StatusFailed, errMsg, resultJSON, time.Now().UTC(), id, StatusQueued, StatusProcessing, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *SQLiteStore) ConsumeTokenID(ctx context.Context, tokenID string, expiresAt time.Time) error {
	// Opportunistic cleanup keeps the table bounded without a sweeper.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM consumed_tokens WHERE expires_at <= ?`, time.Now().UTC())

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO consumed_tokens (id, expires_at) VALUES (?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		tokenID, expiresAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenUsed
	}
	return nil
}

// checkUpdated distinguishes a missing job from an illegal transition when
// a conditional update matched no rows.
func (s *SQLiteStore) checkUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE id = ? AND expires_at > ?`, id, time.Now().UTC()).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrIllegalTransition
}
