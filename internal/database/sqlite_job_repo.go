package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"modernc.org/sqlite"
)

const (
	sqliteConstraint           = 19
	sqliteConstraintPrimaryKey = 1555
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS pipeline_jobs (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	location_id  TEXT NOT NULL,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	steps        TEXT NOT NULL,
	current_step INTEGER NOT NULL DEFAULT 0,
	result       TEXT,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_status ON pipeline_jobs(tenant_id, status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_updated ON pipeline_jobs(tenant_id, updated_at DESC);
`

const jobColumns = "id, tenant_id, location_id, type, status, steps, current_step, result, created_at, updated_at"

// SQLiteJobRepository persists job records in an embedded SQLite file.
// Step updates read, validate and rewrite the row inside one transaction.
type SQLiteJobRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ jobstore.Store = (*SQLiteJobRepository)(nil)

// OpenSQLite opens (or creates) the SQLite job database at path
func OpenSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	// One writer keeps read-modify-write transactions serialized.
	conn.SetMaxOpenConns(1)

	slog.Info("Opened SQLite job store", "path", path)
	return conn, nil
}

// NewSQLiteJobRepository creates the repository and ensures its schema
func NewSQLiteJobRepository(db *sql.DB) (*SQLiteJobRepository, error) {
	if _, err := db.Exec(jobSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to init job schema: %w", err)
	}
	return &SQLiteJobRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create inserts a new job row
func (r *SQLiteJobRepository) Create(ctx context.Context, job *model.Job) error {
	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	result, err := encodeResult(job.Result)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO pipeline_jobs ("+jobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		job.ID, job.TenantID, job.LocationID, string(job.Type), string(job.Status),
		string(steps), job.CurrentStep, result,
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get retrieves a job by id
func (r *SQLiteJobRepository) Get(ctx context.Context, jobID string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM pipeline_jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateStep applies one step transition
func (r *SQLiteJobRepository) UpdateStep(ctx context.Context, jobID string, index int, status model.StepStatus, errMsg string) error {
	return r.mutate(ctx, jobID, func(job *model.Job) (bool, error) {
		if err := job.ApplyStep(index, status, errMsg, r.now()); err != nil {
			return false, fmt.Errorf("%w: %v", jobstore.ErrInvalidTransition, err)
		}
		return true, nil
	})
}

// Finalize sets the terminal status and result
func (r *SQLiteJobRepository) Finalize(ctx context.Context, jobID string, status model.JobStatus, result model.JobResult) error {
	return r.mutate(ctx, jobID, func(job *model.Job) (bool, error) {
		apply, err := jobstore.CheckFinalize(job.Status, status)
		if err != nil || !apply {
			return false, err
		}
		if result.Warnings == nil {
			result.Warnings = []string{}
		}
		job.Status = status
		job.Result = &result
		job.UpdatedAt = r.now()
		return true, nil
	})
}

// ListActive returns running jobs for a tenant, newest first
func (r *SQLiteJobRepository) ListActive(ctx context.Context, tenantID string) ([]*model.Job, error) {
	return r.list(ctx,
		"WHERE tenant_id = ? AND status = ?",
		tenantID, string(model.JobRunning),
	)
}

// ListRecent returns running jobs plus jobs updated since the cutoff
func (r *SQLiteJobRepository) ListRecent(ctx context.Context, tenantID string, since time.Time) ([]*model.Job, error) {
	return r.list(ctx,
		"WHERE tenant_id = ? AND (status = ? OR updated_at >= ?)",
		tenantID, string(model.JobRunning), since.UnixNano(),
	)
}

// MarkStale fails a running job whose last update is older than before
func (r *SQLiteJobRepository) MarkStale(ctx context.Context, jobID string, before time.Time, reason string) (bool, error) {
	result, err := encodeResult(&model.JobResult{Warnings: []string{}, Error: reason})
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE pipeline_jobs SET status = ?, result = ?, updated_at = ? WHERE id = ? AND status = ? AND updated_at < ?",
		string(model.JobFailed), result, r.now().UnixNano(),
		jobID, string(model.JobRunning), before.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark job stale: %w", err)
	}
	return n > 0, nil
}

// mutate loads a job, applies fn and writes the row back when fn reports a change
func (r *SQLiteJobRepository) mutate(ctx context.Context, jobID string, fn func(*model.Job) (bool, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM pipeline_jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobstore.ErrNotFound
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	changed, err := fn(job)
	if err != nil || !changed {
		return err
	}

	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	result, err := encodeResult(job.Result)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE pipeline_jobs SET status = ?, steps = ?, current_step = ?, result = ?, updated_at = ? WHERE id = ?",
		string(job.Status), string(steps), job.CurrentStep, result, job.UpdatedAt.UnixNano(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job update: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) list(ctx context.Context, where string, args ...any) ([]*model.Job, error) {
	query := "SELECT " + jobColumns + " FROM pipeline_jobs " + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", maxListedJobs)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                  model.Job
		pipelineType, status string
		steps                string
		result               sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&job.ID, &job.TenantID, &job.LocationID, &pipelineType, &status,
		&steps, &job.CurrentStep, &result, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Type = model.PipelineType(pipelineType)
	job.Status = model.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if err := json.Unmarshal([]byte(steps), &job.Steps); err != nil {
		return nil, fmt.Errorf("invalid steps column: %w", err)
	}
	if result.Valid && result.String != "" {
		var res model.JobResult
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, fmt.Errorf("invalid result column: %w", err)
		}
		job.Result = &res
	}
	return &job, nil
}

func encodeResult(result *model.JobResult) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraint || code == sqliteConstraintPrimaryKey
	}
	return false
}
