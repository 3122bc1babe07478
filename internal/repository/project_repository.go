package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sicoprot/sicoprot-api/internal/models"
)

const projectColumns = `id, title, student_id, advisor_id, period_id, created_at, updated_at`

// ProjectRepository manages persistence for thesis projects.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository constructs a new repository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create inserts a new project.
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	query := `INSERT INTO projects (id, title, student_id, advisor_id, period_id, created_at, updated_at)
VALUES (:id, :title, :student_id, :advisor_id, :period_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// FindByID returns a single project.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	query := fmt.Sprintf("SELECT %s FROM projects WHERE id = $1 LIMIT 1", projectColumns)
	var p models.Project
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateAdvisor reassigns the project's advisor (administrative action).
func (r *ProjectRepository) UpdateAdvisor(ctx context.Context, id, advisorID string) error {
	query := `UPDATE projects SET advisor_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, advisorID, time.Now().UTC()); err != nil {
		return fmt.Errorf("update project advisor: %w", err)
	}
	return nil
}

// List returns projects per provided filter.
func (r *ProjectRepository) List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AdvisorID != "" {
		where = append(where, fmt.Sprintf("advisor_id = $%d", len(args)+1))
		args = append(args, filter.AdvisorID)
	}
	if filter.PeriodID != "" {
		where = append(where, fmt.Sprintf("period_id = $%d", len(args)+1))
		args = append(args, filter.PeriodID)
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
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		projectColumns, whereClause, size, offset)
	var projects []models.Project
	if err := r.db.SelectContext(ctx, &projects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM projects WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}
	return projects, total, nil
}
