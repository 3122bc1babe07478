package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sicoprot/sicoprot-api/internal/models"
)

const observationColumns = `id, document_id, project_id, advisor_id, title, content_html,
x_start, y_start, x_end, y_end, page_start, page_end, color, status, archived,
correction_id, verification_comment, verified_at, created_at, updated_at`

// ObservationRepository manages persistence for observations. The
// observation row is the serialization point of the review cycle: every
// status transition is a conditional UPDATE so that concurrent writers
// cannot both succeed.
type ObservationRepository struct {
	db *sqlx.DB
}

// NewObservationRepository constructs a new repository.
func NewObservationRepository(db *sqlx.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// Create inserts a new observation.
func (r *ObservationRepository) Create(ctx context.Context, o *models.Observation) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	query := `INSERT INTO observations (id, document_id, project_id, advisor_id, title, content_html,
x_start, y_start, x_end, y_end, page_start, page_end, color, status, archived, created_at, updated_at)
VALUES (:id, :document_id, :project_id, :advisor_id, :title, :content_html,
:x_start, :y_start, :x_end, :y_end, :page_start, :page_end, :color, :status, :archived, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, o); err != nil {
		return fmt.Errorf("create observation: %w", err)
	}
	return nil
}

// FindByID returns a single observation.
func (r *ObservationRepository) FindByID(ctx context.Context, id string) (*models.Observation, error) {
	query := fmt.Sprintf("SELECT %s FROM observations WHERE id = $1 LIMIT 1", observationColumns)
	var o models.Observation
	if err := r.db.GetContext(ctx, &o, query, id); err != nil {
		return nil, err
	}
	return &o, nil
}

// Update persists the editable fields of an observation. Status, archive
// flag and the correction link are transition-controlled and never touched
// here.
func (r *ObservationRepository) Update(ctx context.Context, o *models.Observation) error {
	o.UpdatedAt = time.Now().UTC()
	query := `UPDATE observations SET title = :title, content_html = :content_html,
x_start = :x_start, y_start = :y_start, x_end = :x_end, y_end = :y_end,
page_start = :page_start, page_end = :page_end, color = :color, updated_at = :updated_at
WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, o); err != nil {
		return fmt.Errorf("update observation: %w", err)
	}
	return nil
}

// Archive soft-hides the observation. Archiving twice is a no-op.
func (r *ObservationRepository) Archive(ctx context.Context, id string) error {
	query := `UPDATE observations SET archived = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("archive observation: %w", err)
	}
	return nil
}

// TransitionStatus performs a guarded status change and reports whether the
// row actually moved. Zero rows affected means the observation was not in
// one of the expected source states.
func (r *ObservationRepository) TransitionStatus(ctx context.Context, id string, from []models.ObservationStatus, to models.ObservationStatus) (bool, error) {
	query := `UPDATE observations SET status = $2, updated_at = $3
WHERE id = $1 AND archived = FALSE AND status = ANY($4)`
	res, err := r.db.ExecContext(ctx, query, id, to, time.Now().UTC(), pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("transition observation status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition observation status: %w", err)
	}
	return rows == 1, nil
}

// Approve marks the observation as approved. Legal only from CORREGIDO or
// EN_REVISION; the conditional WHERE makes a second approval report false.
func (r *ObservationRepository) Approve(ctx context.Context, id string, comment *string, at time.Time) (bool, error) {
	query := `UPDATE observations SET status = $2, verification_comment = $3, verified_at = $4, updated_at = $4
WHERE id = $1 AND status = ANY($5)`
	res, err := r.db.ExecContext(ctx, query, id, models.StatusAprobado, comment, at,
		pq.Array(statusStrings([]models.ObservationStatus{models.StatusCorregido, models.StatusEnRevision})))
	if err != nil {
		return false, fmt.Errorf("approve observation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve observation: %w", err)
	}
	return rows == 1, nil
}

// Reject re-opens the review cycle: the observation returns to PENDIENTE
// with the comment retained, and the active correction is kept as history
// (superseded) with the link cleared. Both writes happen in one transaction
// keyed on the observation's current state.
func (r *ObservationRepository) Reject(ctx context.Context, id, comment string, at time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("reject observation: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	obsQuery := `UPDATE observations SET status = $2, verification_comment = $3, correction_id = NULL, updated_at = $4
WHERE id = $1 AND status = ANY($5)`
	res, err := tx.ExecContext(ctx, obsQuery, id, models.StatusPendiente, comment, at,
		pq.Array(statusStrings([]models.ObservationStatus{models.StatusCorregido, models.StatusEnRevision})))
	if err != nil {
		return false, fmt.Errorf("reject observation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject observation: %w", err)
	}
	if rows != 1 {
		return false, nil
	}

	corrQuery := `UPDATE corrections SET superseded_at = $2, updated_at = $2
WHERE observation_id = $1 AND superseded_at IS NULL`
	if _, err := tx.ExecContext(ctx, corrQuery, id, at); err != nil {
		return false, fmt.Errorf("supersede correction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("reject observation: commit: %w", err)
	}
	return true, nil
}

// List returns observations per provided filter.
func (r *ObservationRepository) List(ctx context.Context, filter models.ObservationFilter) ([]models.Observation, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.DocumentID != "" {
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)+1))
		args = append(args, filter.DocumentID)
	}
	if filter.ProjectID != "" {
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)+1))
		args = append(args, filter.ProjectID)
	}
	if filter.AdvisorID != "" {
		where = append(where, fmt.Sprintf("advisor_id = $%d", len(args)+1))
		args = append(args, filter.AdvisorID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
	}
	if !filter.IncludeArchived {
		where = append(where, "archived = FALSE")
	}
	whereClause := strings.Join(where, " AND ")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size
	query := fmt.Sprintf(`SELECT %s FROM observations WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		observationColumns, whereClause, size, offset)
	var observations []models.Observation
	if err := r.db.SelectContext(ctx, &observations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list observations: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM observations WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count observations: %w", err)
	}
	return observations, total, nil
}

// Summary aggregates status counts for a project's observations.
func (r *ObservationRepository) Summary(ctx context.Context, projectID string) (*models.ReviewSummary, error) {
	query := `SELECT COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = 'PENDIENTE' AND archived = FALSE THEN 1 ELSE 0 END),0) AS pendiente,
        COALESCE(SUM(CASE WHEN status = 'EN_REVISION' AND archived = FALSE THEN 1 ELSE 0 END),0) AS en_revision,
        COALESCE(SUM(CASE WHEN status = 'CORREGIDO' AND archived = FALSE THEN 1 ELSE 0 END),0) AS corregido,
        COALESCE(SUM(CASE WHEN status = 'APROBADO' THEN 1 ELSE 0 END),0) AS aprobado,
        COALESCE(SUM(CASE WHEN archived = TRUE THEN 1 ELSE 0 END),0) AS archived
FROM observations WHERE project_id = $1`
	summary := models.ReviewSummary{ProjectID: projectID}
	if err := r.db.QueryRowxContext(ctx, query, projectID).Scan(&summary.Total, &summary.Pendiente,
		&summary.EnRevision, &summary.Corregido, &summary.Aprobado, &summary.Archived); err != nil {
		return nil, fmt.Errorf("review summary: %w", err)
	}
	return &summary, nil
}

func statusStrings(statuses []models.ObservationStatus) []string {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return values
}
