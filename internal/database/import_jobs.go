package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"

	ItemStatusPending   = "pending"
	ItemStatusSucceeded = "succeeded"
	ItemStatusFailed    = "failed"
)

var (
	ErrJobNotFound   = errors.New("import job not found")
	ErrNoPendingJobs = errors.New("no pending import jobs")
)

// ImportJob is a batch of product inputs fetched in the background.
type ImportJob struct {
	ID             uuid.UUID  `json:"id"`
	Status         string     `json:"status"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	SucceededItems int        `json:"succeeded_items"`
	FailedItems    int        `json:"failed_items"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ImportJobItem is one input of an import job and, once processed, the
// response the pipeline produced for it.
type ImportJobItem struct {
	JobID        uuid.UUID       `json:"job_id"`
	Position     int             `json:"position"`
	Input        string          `json:"input"`
	Status       string          `json:"status"`
	ASIN         *string         `json:"asin,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	ErrorKind    *string         `json:"error_kind,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

type ImportStats struct {
	TotalJobs        int64   `json:"total_jobs"`
	PendingJobs      int64   `json:"pending_jobs"`
	RunningJobs      int64   `json:"running_jobs"`
	CompletedJobs    int64   `json:"completed_jobs"`
	FailedJobs       int64   `json:"failed_jobs"`
	TotalItems       int64   `json:"total_items"`
	SucceededItems   int64   `json:"succeeded_items"`
	FailedItems      int64   `json:"failed_items"`
	SuccessRate      float64 `json:"success_rate"`
	OutboxPending    int64   `json:"outbox_pending"`
	OutboxDeadLetter int64   `json:"outbox_dead_letter"`
}

type ImportJobRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewImportJobRepository(db *DB) *ImportJobRepository {
	return &ImportJobRepository{db: db, outbox: NewOutboxRepository(db)}
}

const jobColumns = `
	id, status, total_items, processed_items, succeeded_items, failed_items,
	error_message, created_at, started_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*ImportJob, error) {
	job := &ImportJob{}
	err := row.Scan(
		&job.ID, &job.Status, &job.TotalItems, &job.ProcessedItems,
		&job.SucceededItems, &job.FailedItems, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	)
	return job, err
}

// CreateJob stores a pending job with one item per input, in input order.
func (r *ImportJobRepository) CreateJob(ctx context.Context, inputs []string) (*ImportJob, error) {
	now := time.Now()
	job := &ImportJob{
		ID:         uuid.New(),
		Status:     JobStatusPending,
		TotalItems: len(inputs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO import_jobs (id, status, total_items, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			job.ID, job.Status, job.TotalItems, job.CreatedAt, job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"import_job_items"},
			[]string{"job_id", "position", "input", "status"},
			pgx.CopyFromSlice(len(inputs), func(i int) ([]any, error) {
				return []any{job.ID, i, inputs[i], ItemStatusPending}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert job items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

// ClaimNextJob marks the oldest pending job as running and returns it.
// Concurrent workers never claim the same job.
func (r *ImportJobRepository) ClaimNextJob(ctx context.Context) (*ImportJob, error) {
	query := `
		UPDATE import_jobs
		SET status = $1, started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM import_jobs
			WHERE status = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, JobStatusRunning, JobStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPendingJobs
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// PendingItems returns the unprocessed items of a job in input order.
func (r *ImportJobRepository) PendingItems(ctx context.Context, jobID uuid.UUID) ([]*ImportJobItem, error) {
	return r.queryItems(ctx, `
		SELECT job_id, position, input, status, asin, response,
		       error_kind, error_message, processed_at
		FROM import_job_items
		WHERE job_id = $1 AND status = $2
		ORDER BY position`, jobID, ItemStatusPending)
}

// CompleteItem stores the outcome of item and, in the same transaction,
// bumps the job counters and queues event for the relay.
func (r *ImportJobRepository) CompleteItem(ctx context.Context, item *ImportJobItem, event *OutboxEvent) error {
	now := time.Now()
	item.ProcessedAt = &now

	succeeded, failed := 0, 0
	if item.Status == ItemStatusSucceeded {
		succeeded = 1
	} else {
		failed = 1
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE import_job_items
			SET status = $1, asin = $2, response = $3, error_kind = $4,
			    error_message = $5, processed_at = $6
			WHERE job_id = $7 AND position = $8 AND status = $9`,
			item.Status, item.ASIN, item.Response, item.ErrorKind,
			item.ErrorMessage, item.ProcessedAt, item.JobID, item.Position, ItemStatusPending)
		if err != nil {
			return fmt.Errorf("failed to update job item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("job item %s/%d is not pending", item.JobID, item.Position)
		}

		_, err = tx.Exec(ctx, `
			UPDATE import_jobs
			SET processed_items = processed_items + 1,
			    succeeded_items = succeeded_items + $1,
			    failed_items = failed_items + $2,
			    updated_at = now()
			WHERE id = $3`, succeeded, failed, item.JobID)
		if err != nil {
			return fmt.Errorf("failed to update job progress: %w", err)
		}

		if event != nil {
			return r.outbox.InsertWithTx(ctx, tx, event)
		}
		return nil
	})
}

// FinishJob sets the terminal status of a job. jobErr is recorded for failed jobs.
func (r *ImportJobRepository) FinishJob(ctx context.Context, jobID uuid.UUID, status string, jobErr error) error {
	var msg *string
	if jobErr != nil {
		s := jobErr.Error()
		msg = &s
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE import_jobs
		SET status = $1, error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $3`, status, msg, jobID)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RequeueRunning returns jobs left running by a stopped worker to pending.
func (r *ImportJobRepository) RequeueRunning(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE import_jobs SET status = $1, updated_at = now()
		WHERE status = $2`, JobStatusPending, JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ImportJobRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*ImportJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs first.
func (r *ImportJobRepository) ListJobs(ctx context.Context, limit int) ([]*ImportJob, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM import_jobs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetJobItems returns every item of a job in input order.
func (r *ImportJobRepository) GetJobItems(ctx context.Context, jobID uuid.UUID) ([]*ImportJobItem, error) {
	if _, err := r.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return r.queryItems(ctx, `
		SELECT job_id, position, input, status, asin, response,
		       error_kind, error_message, processed_at
		FROM import_job_items
		WHERE job_id = $1
		ORDER BY position`, jobID)
}

func (r *ImportJobRepository) queryItems(ctx context.Context, query string, args ...any) ([]*ImportJobItem, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job items: %w", err)
	}
	defer rows.Close()

	var items []*ImportJobItem
	for rows.Next() {
		item := &ImportJobItem{}
		err := rows.Scan(
			&item.JobID, &item.Position, &item.Input, &item.Status, &item.ASIN,
			&item.Response, &item.ErrorKind, &item.ErrorMessage, &item.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *ImportJobRepository) GetStats(ctx context.Context) (*ImportStats, error) {
	stats := &ImportStats{}

	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(total_items), 0),
			COALESCE(SUM(succeeded_items), 0),
			COALESCE(SUM(failed_items), 0)
		FROM import_jobs`).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs,
		&stats.TotalItems, &stats.SucceededItems, &stats.FailedItems,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if processed := stats.SucceededItems + stats.FailedItems; processed > 0 {
		stats.SuccessRate = float64(stats.SucceededItems) / float64(processed) * 100
	}

	counts, err := r.outbox.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats.OutboxPending = counts[OutboxStatusPending] + counts[OutboxStatusFailed]
	stats.OutboxDeadLetter = counts[OutboxStatusDeadLetter]

	return stats, nil
}
