package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

type correctionRepository interface {
	CreateWithTransition(ctx context.Context, c *models.Correction) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Correction, error)
	Update(ctx context.Context, c *models.Correction) (bool, error)
	DeleteWithRevert(ctx context.Context, correctionID, observationID string) (bool, error)
	ListByObservation(ctx context.Context, observationID string) ([]models.Correction, error)
}

type observationReader interface {
	FindByID(ctx context.Context, id string) (*models.Observation, error)
}

// CorrectionService drives the student side of the review cycle: submitting
// a correction moves the observation to CORREGIDO, withdrawing it moves the
// observation back to PENDIENTE. An observation carries at most one active
// correction at a time.
type CorrectionService struct {
	repo         correctionRepository
	observations observationReader
	guard        *ReviewGuard
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewCorrectionService constructs the service.
func NewCorrectionService(repo correctionRepository, observations observationReader, guard *ReviewGuard, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CorrectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorrectionService{repo: repo, observations: observations, guard: guard, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// CreateCorrectionRequest describes the submission payload. The corrected
// document may be the observed version or any later one; the title is
// inherited from the parent observation rather than supplied by the client.
type CreateCorrectionRequest struct {
	CorrectedDocumentID string  `json:"corrected_document_id" validate:"required"`
	DescriptionHTML     string  `json:"description_html" validate:"required"`
	XStart              float64 `json:"x_start"`
	YStart              float64 `json:"y_start"`
	XEnd                float64 `json:"x_end"`
	YEnd                float64 `json:"y_end"`
	PageStart           int     `json:"page_start" validate:"required,min=1"`
	PageEnd             int     `json:"page_end" validate:"required,min=1"`
	Color               string  `json:"color"`
}

// UpdateCorrectionRequest describes the partial update payload.
type UpdateCorrectionRequest struct {
	DescriptionHTML *string  `json:"description_html,omitempty"`
	XStart          *float64 `json:"x_start,omitempty"`
	YStart          *float64 `json:"y_start,omitempty"`
	XEnd            *float64 `json:"x_end,omitempty"`
	YEnd            *float64 `json:"y_end,omitempty"`
	PageStart       *int     `json:"page_start,omitempty"`
	PageEnd         *int     `json:"page_end,omitempty"`
	Color           *string  `json:"color,omitempty"`
}

// Create submits a correction for a pending observation. Only the project's
// student may submit; the observation must be PENDIENTE with no active
// correction, which the repository enforces atomically together with the
// CORREGIDO transition.
func (s *CorrectionService) Create(ctx context.Context, observationID string, req CreateCorrectionRequest, actor models.Actor) (*models.Correction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	observation, err := s.findObservation(ctx, observationID)
	if err != nil {
		return nil, err
	}
	project, err := s.guard.ResolveProject(ctx, observation.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectStudent(project, actor); err != nil {
		return nil, err
	}
	if observation.Archived {
		return nil, appErrors.Clone(appErrors.ErrConflict, "observation is archived")
	}
	rect := models.AnchorRect{XStart: req.XStart, YStart: req.YStart, XEnd: req.XEnd, YEnd: req.YEnd}
	if err := s.guard.ValidateGeometry(rect, req.PageStart, req.PageEnd); err != nil {
		return nil, err
	}
	corrected, err := s.guard.ValidateCorrectionVersion(ctx, req.CorrectedDocumentID, observation)
	if err != nil {
		return nil, err
	}

	correction := &models.Correction{
		ObservationID:   observation.ID,
		DocumentID:      corrected.ID,
		StudentID:       actor.ID,
		Title:           observation.Title,
		DescriptionHTML: req.DescriptionHTML,
		AnchorRect:      rect,
		PageStart:       req.PageStart,
		PageEnd:         req.PageEnd,
		Color:           req.Color,
	}
	applied, err := s.repo.CreateWithTransition(ctx, correction)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create correction")
	}
	if !applied {
		return nil, appErrors.Clone(appErrors.ErrConflict, "observation already has an active correction or is not pending")
	}
	if s.metrics != nil {
		s.metrics.RecordReviewTransition(string(models.StatusPendiente), string(models.StatusCorregido))
	}
	s.cache.InvalidateProject(ctx, observation.ProjectID)
	s.logger.Info("correction submitted",
		zap.String("correction_id", correction.ID),
		zap.String("observation_id", observation.ID),
		zap.String("student_id", actor.ID))
	return correction, nil
}

// Get returns one correction, visible to project members.
func (s *CorrectionService) Get(ctx context.Context, id string, actor models.Actor) (*models.Correction, error) {
	correction, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	observation, err := s.findObservation(ctx, correction.ObservationID)
	if err != nil {
		return nil, err
	}
	project, err := s.guard.ResolveProject(ctx, observation.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, err
	}
	return correction, nil
}

// Update merges the editable fields into an active correction. Author-only;
// refused once the observation is approved or the correction superseded.
func (s *CorrectionService) Update(ctx context.Context, id string, req UpdateCorrectionRequest, actor models.Actor) (*models.Correction, error) {
	correction, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthor(correction, actor); err != nil {
		return nil, err
	}
	if !correction.Active() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "correction has been superseded")
	}
	observation, err := s.findObservation(ctx, correction.ObservationID)
	if err != nil {
		return nil, err
	}
	if observation.Status == models.StatusAprobado {
		return nil, appErrors.Clone(appErrors.ErrConflict, "observation is approved and frozen")
	}

	if req.DescriptionHTML != nil {
		correction.DescriptionHTML = *req.DescriptionHTML
	}
	if req.XStart != nil {
		correction.XStart = *req.XStart
	}
	if req.YStart != nil {
		correction.YStart = *req.YStart
	}
	if req.XEnd != nil {
		correction.XEnd = *req.XEnd
	}
	if req.YEnd != nil {
		correction.YEnd = *req.YEnd
	}
	if req.PageStart != nil {
		correction.PageStart = *req.PageStart
	}
	if req.PageEnd != nil {
		correction.PageEnd = *req.PageEnd
	}
	if req.Color != nil {
		correction.Color = *req.Color
	}
	if err := s.guard.ValidateGeometry(correction.AnchorRect, correction.PageStart, correction.PageEnd); err != nil {
		return nil, err
	}
	applied, err := s.repo.Update(ctx, correction)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update correction")
	}
	if !applied {
		return nil, appErrors.Clone(appErrors.ErrConflict, "correction is no longer editable")
	}
	s.cache.InvalidateProject(ctx, observation.ProjectID)
	return correction, nil
}

// Delete withdraws an active correction and returns its observation to
// PENDIENTE. Refused once the observation is approved.
func (s *CorrectionService) Delete(ctx context.Context, id string, actor models.Actor) error {
	correction, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireAuthor(correction, actor); err != nil {
		return err
	}
	if !correction.Active() {
		return appErrors.Clone(appErrors.ErrConflict, "correction has been superseded")
	}
	observation, err := s.findObservation(ctx, correction.ObservationID)
	if err != nil {
		return err
	}
	applied, err := s.repo.DeleteWithRevert(ctx, correction.ID, correction.ObservationID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete correction")
	}
	if !applied {
		return appErrors.Clone(appErrors.ErrConflict, "correction can no longer be withdrawn")
	}
	if s.metrics != nil {
		s.metrics.RecordReviewTransition(string(observation.Status), string(models.StatusPendiente))
	}
	s.cache.InvalidateProject(ctx, observation.ProjectID)
	s.logger.Info("correction withdrawn",
		zap.String("correction_id", id),
		zap.String("observation_id", correction.ObservationID),
		zap.String("student_id", actor.ID))
	return nil
}

// ListByObservation returns the correction history of an observation,
// newest first, superseded rows included.
func (s *CorrectionService) ListByObservation(ctx context.Context, observationID string, actor models.Actor) ([]models.Correction, error) {
	observation, err := s.findObservation(ctx, observationID)
	if err != nil {
		return nil, err
	}
	project, err := s.guard.ResolveProject(ctx, observation.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, err
	}
	corrections, err := s.repo.ListByObservation(ctx, observationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list corrections")
	}
	return corrections, nil
}

func (s *CorrectionService) find(ctx context.Context, id string) (*models.Correction, error) {
	correction, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "correction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch correction")
	}
	return correction, nil
}

func (s *CorrectionService) findObservation(ctx context.Context, id string) (*models.Observation, error) {
	observation, err := s.observations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "observation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch observation")
	}
	return observation, nil
}

func (s *CorrectionService) requireAuthor(correction *models.Correction, actor models.Actor) error {
	if actor.Role != models.RoleStudent || correction.StudentID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the authoring student may modify the correction")
	}
	return nil
}
