package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sicoprot/sicoprot-api/internal/models"
)

const correctionColumns = `id, observation_id, document_id, student_id, title, description_html,
x_start, y_start, x_end, y_end, page_start, page_end, color, superseded_at, created_at, updated_at`

// CorrectionRepository manages persistence for corrections. Creation and
// deletion drive the parent observation's status inside one transaction so
// the one-active-correction invariant holds under concurrency.
type CorrectionRepository struct {
	db *sqlx.DB
}

// NewCorrectionRepository constructs a new repository.
func NewCorrectionRepository(db *sqlx.DB) *CorrectionRepository {
	return &CorrectionRepository{db: db}
}

// CreateWithTransition inserts the correction and moves its observation
// from PENDIENTE to CORREGIDO, linking the new row as the active
// correction. The guarded UPDATE is the race check: if the observation is
// archived, already linked or not PENDIENTE the transaction rolls back and
// false is returned.
func (r *CorrectionRepository) CreateWithTransition(ctx context.Context, c *models.Correction) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("create correction: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insert := `INSERT INTO corrections (id, observation_id, document_id, student_id, title, description_html,
x_start, y_start, x_end, y_end, page_start, page_end, color, created_at, updated_at)
VALUES (:id, :observation_id, :document_id, :student_id, :title, :description_html,
:x_start, :y_start, :x_end, :y_end, :page_start, :page_end, :color, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, c); err != nil {
		return false, fmt.Errorf("create correction: %w", err)
	}

	link := `UPDATE observations SET status = $2, correction_id = $3, updated_at = $4
WHERE id = $1 AND status = $5 AND archived = FALSE AND correction_id IS NULL`
	res, err := tx.ExecContext(ctx, link, c.ObservationID, models.StatusCorregido, c.ID, now, models.StatusPendiente)
	if err != nil {
		return false, fmt.Errorf("link correction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link correction: %w", err)
	}
	if rows != 1 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("create correction: commit: %w", err)
	}
	return true, nil
}

// FindByID returns a single correction.
func (r *CorrectionRepository) FindByID(ctx context.Context, id string) (*models.Correction, error) {
	query := fmt.Sprintf("SELECT %s FROM corrections WHERE id = $1 LIMIT 1", correctionColumns)
	var c models.Correction
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// Update persists the editable fields of a correction. Superseded rows are
// immutable: the WHERE clause refuses them and false is returned.
func (r *CorrectionRepository) Update(ctx context.Context, c *models.Correction) (bool, error) {
	c.UpdatedAt = time.Now().UTC()
	query := `UPDATE corrections SET description_html = :description_html,
x_start = :x_start, y_start = :y_start, x_end = :x_end, y_end = :y_end,
page_start = :page_start, page_end = :page_end, color = :color, updated_at = :updated_at
WHERE id = :id AND superseded_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		return false, fmt.Errorf("update correction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update correction: %w", err)
	}
	return rows == 1, nil
}

// DeleteWithRevert removes the active correction and returns its
// observation to PENDIENTE with the link cleared. The guarded UPDATE on the
// observation refuses the revert once the observation is approved or the
// correction is no longer the linked one.
func (r *CorrectionRepository) DeleteWithRevert(ctx context.Context, correctionID, observationID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete correction: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	revert := `UPDATE observations SET status = $3, correction_id = NULL, updated_at = $4
WHERE id = $1 AND correction_id = $2 AND status <> $5`
	res, err := tx.ExecContext(ctx, revert, observationID, correctionID, models.StatusPendiente,
		time.Now().UTC(), models.StatusAprobado)
	if err != nil {
		return false, fmt.Errorf("revert observation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revert observation: %w", err)
	}
	if rows != 1 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM corrections WHERE id = $1", correctionID); err != nil {
		return false, fmt.Errorf("delete correction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete correction: commit: %w", err)
	}
	return true, nil
}

// ListByObservation returns the full correction history for an observation,
// newest first, superseded rows included.
func (r *CorrectionRepository) ListByObservation(ctx context.Context, observationID string) ([]models.Correction, error) {
	query := fmt.Sprintf(`SELECT %s FROM corrections WHERE observation_id = $1 ORDER BY created_at DESC`, correctionColumns)
	var corrections []models.Correction
	if err := r.db.SelectContext(ctx, &corrections, query, observationID); err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	return corrections, nil
}
