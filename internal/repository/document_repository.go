package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sicoprot/sicoprot-api/internal/models"
)

const documentColumns = `id, project_id, version, filename, file_path, size_bytes, uploaded_by, created_at`

// DocumentRepository is the version registry for uploaded documents. Rows
// are immutable once created; there are no update or delete operations.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs a new repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document version. The version number is assigned in
// the statement itself as MAX(version)+1 for the project; together with the
// unique (project_id, version) index this keeps versions strictly
// increasing and never reused under concurrent uploads.
func (r *DocumentRepository) Create(ctx context.Context, d *models.Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	query := `INSERT INTO documents (id, project_id, version, filename, file_path, size_bytes, uploaded_by, created_at)
VALUES ($1, $2, (SELECT COALESCE(MAX(version), 0) + 1 FROM documents WHERE project_id = $2), $3, $4, $5, $6, $7)
RETURNING version`
	if err := r.db.QueryRowxContext(ctx, query, d.ID, d.ProjectID, d.Filename, d.FilePath,
		d.SizeBytes, d.UploadedBy, d.CreatedAt).Scan(&d.Version); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// FindByID returns a single document.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf("SELECT %s FROM documents WHERE id = $1 LIMIT 1", documentColumns)
	var d models.Document
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListByProject returns all versions for a project ordered by version.
func (r *DocumentRepository) ListByProject(ctx context.Context, projectID string) ([]models.Document, error) {
	query := fmt.Sprintf("SELECT %s FROM documents WHERE project_id = $1 ORDER BY version ASC", documentColumns)
	var documents []models.Document
	if err := r.db.SelectContext(ctx, &documents, query, projectID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return documents, nil
}
