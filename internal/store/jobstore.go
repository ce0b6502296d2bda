package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"video-transcriber/internal/domain"
)

// JobStore is the durable registry of all jobs. Mutation goes through
// Update, which runs a transactional read-modify-write; SQLite's single
// writer serializes concurrent updates to the same id, so no transition is
// lost. Every committed write is durable before Update returns.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates the store and its schema.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			source_kind TEXT NOT NULL,
			source_ref TEXT NOT NULL,
			params TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			result TEXT,
			created_at INTEGER NOT NULL,
			checkpoint_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create jobs schema: %w", err)
	}
	return &JobStore{db: db}, nil
}

// Create inserts a new pending job with a fresh id and returns it.
func (s *JobStore) Create(ctx context.Context, source domain.Source, params domain.Params) (domain.Job, error) {
	job := domain.Job{
		ID:        uuid.NewString(),
		Source:    source,
		Params:    params,
		Status:    domain.JobStatusPending,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, source_kind, source_ref, params, status, progress, error, created_at, checkpoint_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, 0)
	`, job.ID, string(job.Source.Kind), job.Source.Ref, string(paramsJSON), string(job.Status), job.CreatedAt.Unix())
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: insert job: %v", domain.ErrStorageFailure, err)
	}

	return job, nil
}

// Get returns the job with the given id or domain.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_kind, source_ref, params, status, progress, error, result, created_at, checkpoint_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// Update applies mutate to the stored job inside a transaction. The mutated
// record is durably committed before Update returns.
func (s *JobStore) Update(ctx context.Context, id string, mutate func(*domain.Job) error) (domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: begin: %v", domain.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, source_kind, source_ref, params, status, progress, error, result, created_at, checkpoint_at
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err != nil {
		return domain.Job{}, err
	}

	if err := mutate(&job); err != nil {
		return domain.Job{}, err
	}
	job.ID = id // identity is immutable

	resultJSON := sql.NullString{}
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return domain.Job{}, fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal params: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET params = ?, status = ?, progress = ?, error = ?, result = ?, checkpoint_at = ?
		WHERE id = ?
	`, string(paramsJSON), string(job.Status), job.Progress, job.Error, resultJSON, unixOrZero(job.CheckpointAt), id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: update job: %v", domain.ErrStorageFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Job{}, fmt.Errorf("%w: commit: %v", domain.ErrStorageFailure, err)
	}
	return job, nil
}

// ListIncomplete returns all jobs that still have unfinished work, oldest
// first. Failed jobs count as incomplete because they may be resumed.
func (s *JobStore) ListIncomplete(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_kind, source_ref, params, status, progress, error, result, created_at, checkpoint_at
		FROM jobs
		WHERE status IN (?, ?, ?, ?, ?)
		ORDER BY created_at ASC
	`, string(domain.JobStatusPending), string(domain.JobStatusDownloading),
		string(domain.JobStatusTranscribing), string(domain.JobStatusResuming),
		string(domain.JobStatusFailed))
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", domain.ErrStorageFailure, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob maps one jobs row into a domain.Job.
func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job           domain.Job
		sourceKind    string
		status        string
		paramsJSON    string
		resultJSON    sql.NullString
		createdAtUnix int64
		checkAtUnix   int64
	)

	err := row.Scan(&job.ID, &sourceKind, &job.Source.Ref, &paramsJSON,
		&status, &job.Progress, &job.Error, &resultJSON, &createdAtUnix, &checkAtUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: scan job: %v", domain.ErrStorageFailure, err)
	}

	job.Source.Kind = domain.SourceKind(sourceKind)
	job.Status = domain.JobStatus(status)
	job.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	if checkAtUnix > 0 {
		job.CheckpointAt = time.Unix(checkAtUnix, 0).UTC()
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal params: %w", err)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result domain.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &result
	}

	return job, nil
}

// unixOrZero keeps the zero time as 0 in the database.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
