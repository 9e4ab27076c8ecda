package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

const jobColumns = `
	job_id, execution_id, partition, callback_token, status, progress,
	started_at, result, error, created_at, updated_at
`

// JobRepository handles job status database operations.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

func (r *JobRepository) Create(ctx context.Context, job *models.JobStatus) error {
	resultData, err := marshalJSON(job.Result)
	if err != nil {
		return err
	}

	errorData, err := marshalJSON(job.Error)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO job_statuses (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.JobID,
		job.ExecutionID,
		job.Partition,
		job.CallbackToken,
		job.Status,
		job.Progress,
		job.StartedAt,
		resultData,
		errorData,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.NewStoreError("CreateJob", job.ExecutionID, persistence.ErrDuplicateJob)
		}

		return persistence.NewStoreError("CreateJob", job.JobID, err)
	}

	return nil
}

func (r *JobRepository) JobByID(ctx context.Context, jobID string) (*models.JobStatus, error) {
	query := `SELECT ` + jobColumns + ` FROM job_statuses WHERE job_id = $1`

	return scanJob(r.db.QueryRowContext(ctx, query, jobID), jobID)
}

func (r *JobRepository) JobByExecutionID(ctx context.Context, executionID string) (*models.JobStatus, error) {
	query := `SELECT ` + jobColumns + ` FROM job_statuses WHERE execution_id = $1`

	return scanJob(r.db.QueryRowContext(ctx, query, executionID), executionID)
}

func (r *JobRepository) Update(ctx context.Context, job *models.JobStatus) error {
	return updateJob(ctx, r.db, job)
}

func updateJob(ctx context.Context, db execer, job *models.JobStatus) error {
	resultData, err := marshalJSON(job.Result)
	if err != nil {
		return err
	}

	errorData, err := marshalJSON(job.Error)
	if err != nil {
		return err
	}

	query := `
		UPDATE job_statuses SET
			status = $2, progress = $3, started_at = $4, result = $5,
			error = $6, updated_at = $7
		WHERE job_id = $1
	`

	result, err := db.ExecContext(ctx, query,
		job.JobID,
		job.Status,
		job.Progress,
		job.StartedAt,
		resultData,
		errorData,
		job.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("UpdateJob", job.JobID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("UpdateJob", job.JobID, persistence.ErrJobNotFound)
	}

	return nil
}

func scanJob(row rowScanner, key string) (*models.JobStatus, error) {
	job := &models.JobStatus{}

	var (
		startedAt           sql.NullTime
		resultRaw, errorRaw []byte
	)

	err := row.Scan(
		&job.JobID,
		&job.ExecutionID,
		&job.Partition,
		&job.CallbackToken,
		&job.Status,
		&job.Progress,
		&startedAt,
		&resultRaw,
		&errorRaw,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("JobByID", key, persistence.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to scan job status: %w", err)
	}

	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}

	if err := unmarshalJSON(resultRaw, &job.Result); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(errorRaw, &job.Error); err != nil {
		return nil, err
	}

	return job, nil
}
