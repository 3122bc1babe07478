package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sicoprot/sicoprot-api/internal/models"
)

const reportColumns = `id, type, params, status, result_url, created_by, created_at, finished_at, error_message`

// ReportRepository manages persistence for background report jobs.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs a new repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a queued report job.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	query := `INSERT INTO report_jobs (id, type, params, status, created_by, created_at)
VALUES (:id, :type, :params, :status, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// FindByID returns a single report job.
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	query := fmt.Sprintf("SELECT %s FROM report_jobs WHERE id = $1 LIMIT 1", reportColumns)
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkProcessing moves a queued job into the processing state.
func (r *ReportRepository) MarkProcessing(ctx context.Context, id string) error {
	query := `UPDATE report_jobs SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusProcessing); err != nil {
		return fmt.Errorf("mark report processing: %w", err)
	}
	return nil
}

// MarkFinished records the result URL and completion time.
func (r *ReportRepository) MarkFinished(ctx context.Context, id, resultURL string, finishedAt time.Time) error {
	query := `UPDATE report_jobs SET status = $2, result_url = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusFinished, resultURL, finishedAt); err != nil {
		return fmt.Errorf("mark report finished: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure with its message.
func (r *ReportRepository) MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error {
	query := `UPDATE report_jobs SET status = $2, error_message = $3, finished_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusFailed, message, finishedAt); err != nil {
		return fmt.Errorf("mark report failed: %w", err)
	}
	return nil
}
