package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

type documentRepository interface {
	Create(ctx context.Context, d *models.Document) error
	FindByID(ctx context.Context, id string) (*models.Document, error)
	ListByProject(ctx context.Context, projectID string) ([]models.Document, error)
}

type documentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Delete(filename string) error
}

// DocumentConfig bounds uploads.
type DocumentConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// DocumentService is the registry of document versions. Each upload becomes
// the project's next version; versions are immutable once registered so the
// anchors of existing observations stay valid.
type DocumentService struct {
	repo   documentRepository
	guard  *ReviewGuard
	store  documentStore
	config DocumentConfig
	logger *zap.Logger
}

// NewDocumentService constructs the service.
func NewDocumentService(repo documentRepository, guard *ReviewGuard, store documentStore, config DocumentConfig, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{repo: repo, guard: guard, store: store, config: config, logger: logger}
}

// RegisterUpload stores the uploaded file and records it as the project's
// next document version. Only the project's student may upload.
func (s *DocumentService) RegisterUpload(ctx context.Context, projectID, filename, contentType string, size int64, r io.Reader, actor models.Actor) (*models.Document, error) {
	project, err := s.guard.ResolveProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectStudent(project, actor); err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "filename is required")
	}
	if s.config.MaxFileSizeBytes > 0 && size > s.config.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds the %d byte limit", s.config.MaxFileSizeBytes))
	}
	if !s.mimeAllowed(contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported file type")
	}

	storedPath := filepath.Join("documents", projectID, uuid.NewString()+filepath.Ext(filename))
	if _, err := s.store.SaveStream(storedPath, r); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}

	document := &models.Document{
		ProjectID:  projectID,
		Filename:   filename,
		FilePath:   storedPath,
		SizeBytes:  size,
		UploadedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, document); err != nil {
		if removeErr := s.store.Delete(storedPath); removeErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("path", storedPath), zap.Error(removeErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register document")
	}

	s.logger.Info("document version registered",
		zap.String("document_id", document.ID),
		zap.String("project_id", projectID),
		zap.Int("version", document.Version))
	return document, nil
}

// Get returns a document visible to project members.
func (s *DocumentService) Get(ctx context.Context, id string, actor models.Actor) (*models.Document, error) {
	document, project, err := s.guard.ResolveDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, err
	}
	return document, nil
}

// ListByProject returns the version history of a project.
func (s *DocumentService) ListByProject(ctx context.Context, projectID string, actor models.Actor) ([]models.Document, error) {
	project, err := s.guard.ResolveProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, err
	}
	documents, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Document{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return documents, nil
}

func (s *DocumentService) mimeAllowed(contentType string) bool {
	if len(s.config.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedMIMEs {
		if allowed == contentType {
			return true
		}
	}
	return false
}
