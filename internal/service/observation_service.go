package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

type observationRepository interface {
	Create(ctx context.Context, o *models.Observation) error
	FindByID(ctx context.Context, id string) (*models.Observation, error)
	Update(ctx context.Context, o *models.Observation) error
	Archive(ctx context.Context, id string) error
	TransitionStatus(ctx context.Context, id string, from []models.ObservationStatus, to models.ObservationStatus) (bool, error)
	Approve(ctx context.Context, id string, comment *string, at time.Time) (bool, error)
	Reject(ctx context.Context, id, comment string, at time.Time) (bool, error)
	List(ctx context.Context, filter models.ObservationFilter) ([]models.Observation, int, error)
	Summary(ctx context.Context, projectID string) (*models.ReviewSummary, error)
}

type projectLister interface {
	List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int, error)
}

// ObservationService drives the observation side of the review cycle:
// creation, edits, archiving and the advisor's verification decisions.
type ObservationService struct {
	repo      observationRepository
	projects  projectLister
	guard     *ReviewGuard
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewObservationService constructs the service.
func NewObservationService(repo observationRepository, projects projectLister, guard *ReviewGuard, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ObservationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ObservationService{repo: repo, projects: projects, guard: guard, cache: cache, metrics: metrics, validator: validate, logger: logger}
	svc.validator.RegisterValidation("verify_decision", func(fl validator.FieldLevel) bool {
		switch models.VerificationDecision(fl.Field().String()) {
		case models.DecisionAprobado, models.DecisionRechazado:
			return true
		default:
			return false
		}
	})
	return svc
}

// CreateObservationRequest describes the create payload.
type CreateObservationRequest struct {
	Title       string  `json:"title" validate:"required"`
	ContentHTML string  `json:"content_html" validate:"required"`
	XStart      float64 `json:"x_start"`
	YStart      float64 `json:"y_start"`
	XEnd        float64 `json:"x_end"`
	YEnd        float64 `json:"y_end"`
	PageStart   int     `json:"page_start" validate:"required,min=1"`
	PageEnd     int     `json:"page_end" validate:"required,min=1"`
	Color       string  `json:"color"`
}

// UpdateObservationRequest describes the partial update payload. Status is
// transition-controlled and deliberately absent.
type UpdateObservationRequest struct {
	Title       *string  `json:"title,omitempty"`
	ContentHTML *string  `json:"content_html,omitempty"`
	XStart      *float64 `json:"x_start,omitempty"`
	YStart      *float64 `json:"y_start,omitempty"`
	XEnd        *float64 `json:"x_end,omitempty"`
	YEnd        *float64 `json:"y_end,omitempty"`
	PageStart   *int     `json:"page_start,omitempty"`
	PageEnd     *int     `json:"page_end,omitempty"`
	Color       *string  `json:"color,omitempty"`
}

// VerifyObservationRequest carries the advisor's verdict.
type VerifyObservationRequest struct {
	Decision string `json:"decision" validate:"required,verify_decision"`
	Comment  string `json:"comment"`
}

// Create registers a new observation against a document version. Only the
// project's assigned advisor may create one; the initial status is
// PENDIENTE.
func (s *ObservationService) Create(ctx context.Context, documentID string, req CreateObservationRequest, actor models.Actor) (*models.Observation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	doc, project, err := s.guard.ResolveDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectAdvisor(project, actor); err != nil {
		return nil, err
	}
	rect := models.AnchorRect{XStart: req.XStart, YStart: req.YStart, XEnd: req.XEnd, YEnd: req.YEnd}
	if err := s.guard.ValidateGeometry(rect, req.PageStart, req.PageEnd); err != nil {
		return nil, err
	}
	observation := &models.Observation{
		DocumentID:  doc.ID,
		ProjectID:   doc.ProjectID,
		AdvisorID:   actor.ID,
		Title:       req.Title,
		ContentHTML: req.ContentHTML,
		AnchorRect:  rect,
		PageStart:   req.PageStart,
		PageEnd:     req.PageEnd,
		Color:       req.Color,
		Status:      models.StatusPendiente,
	}
	if err := s.repo.Create(ctx, observation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create observation")
	}
	s.cache.InvalidateProject(ctx, observation.ProjectID)
	s.logger.Info("observation created",
		zap.String("observation_id", observation.ID),
		zap.String("project_id", observation.ProjectID),
		zap.String("advisor_id", actor.ID))
	return observation, nil
}

// Get returns a single observation visible to project members.
func (s *ObservationService) Get(ctx context.Context, id string, actor models.Actor) (*models.Observation, error) {
	observation, err := s.find(ctx, id)
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
	return observation, nil
}

// Update merges the whitelisted fields into an observation. Author-only;
// an approved observation is frozen and refuses every edit.
func (s *ObservationService) Update(ctx context.Context, id string, req UpdateObservationRequest, actor models.Actor) (*models.Observation, error) {
	observation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthor(observation, actor); err != nil {
		return nil, err
	}
	if observation.Status == models.StatusAprobado {
		return nil, appErrors.Clone(appErrors.ErrConflict, "observation is approved and frozen")
	}
	if req.Title != nil {
		observation.Title = *req.Title
	}
	if req.ContentHTML != nil {
		observation.ContentHTML = *req.ContentHTML
	}
	if req.XStart != nil {
		observation.XStart = *req.XStart
	}
	if req.YStart != nil {
		observation.YStart = *req.YStart
	}
	if req.XEnd != nil {
		observation.XEnd = *req.XEnd
	}
	if req.YEnd != nil {
		observation.YEnd = *req.YEnd
	}
	if req.PageStart != nil {
		observation.PageStart = *req.PageStart
	}
	if req.PageEnd != nil {
		observation.PageEnd = *req.PageEnd
	}
	if req.Color != nil {
		observation.Color = *req.Color
	}
	if err := s.guard.ValidateGeometry(observation.AnchorRect, observation.PageStart, observation.PageEnd); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, observation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update observation")
	}
	s.cache.InvalidateProject(ctx, observation.ProjectID)
	return observation, nil
}

// Archive soft-hides an observation. Idempotent: archiving an archived
// observation succeeds without side effect.
func (s *ObservationService) Archive(ctx context.Context, id string, actor models.Actor) (*models.Observation, error) {
	observation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthor(observation, actor); err != nil {
		return nil, err
	}
	if observation.Archived {
		return observation, nil
	}
	if err := s.repo.Archive(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive observation")
	}
	observation.Archived = true
	s.cache.InvalidateProject(ctx, observation.ProjectID)
	return observation, nil
}

// OpenReview marks a corrected observation as being under review
// (CORREGIDO → EN_REVISION). Author-only.
func (s *ObservationService) OpenReview(ctx context.Context, id string, actor models.Actor) (*models.Observation, error) {
	observation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthor(observation, actor); err != nil {
		return nil, err
	}
	moved, err := s.repo.TransitionStatus(ctx, id, []models.ObservationStatus{models.StatusCorregido}, models.StatusEnRevision)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open review")
	}
	if !moved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "observation has no correction awaiting review")
	}
	s.recordTransition(string(observation.Status), string(models.StatusEnRevision))
	s.cache.InvalidateProject(ctx, observation.ProjectID)
	return s.find(ctx, id)
}

// Verify applies the advisor's decision on a corrected observation.
// APROBADO is terminal and freezes the active correction; RECHAZADO
// re-opens the cycle, retaining the comment and superseding the active
// correction so the student can submit a fresh one. Both paths are guarded
// conditional updates: a concurrent decision or correction change makes
// this call fail with a conflict instead of silently overwriting.
func (s *ObservationService) Verify(ctx context.Context, id string, req VerifyObservationRequest, actor models.Actor) (*models.Observation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	observation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthor(observation, actor); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	decision := models.VerificationDecision(req.Decision)
	switch decision {
	case models.DecisionAprobado:
		var comment *string
		if req.Comment != "" {
			comment = &req.Comment
		}
		applied, err := s.repo.Approve(ctx, id, comment, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve observation")
		}
		if !applied {
			return nil, appErrors.Clone(appErrors.ErrConflict, "observation has nothing to verify")
		}
		s.recordTransition(string(observation.Status), string(models.StatusAprobado))
	case models.DecisionRechazado:
		if req.Comment == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires a comment")
		}
		applied, err := s.repo.Reject(ctx, id, req.Comment, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject observation")
		}
		if !applied {
			return nil, appErrors.Clone(appErrors.ErrConflict, "observation has nothing to verify")
		}
		s.recordTransition(string(observation.Status), string(models.StatusPendiente))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown verification decision")
	}

	s.cache.InvalidateProject(ctx, observation.ProjectID)
	s.logger.Info("observation verified",
		zap.String("observation_id", id),
		zap.String("decision", req.Decision),
		zap.String("advisor_id", actor.ID))
	return s.find(ctx, id)
}

// ListByDocument returns the observations raised against one document
// version, visible to project members only.
func (s *ObservationService) ListByDocument(ctx context.Context, documentID string, actor models.Actor, page, pageSize int) ([]models.Observation, *models.Pagination, error) {
	_, project, err := s.guard.ResolveDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, nil, err
	}
	return s.list(ctx, models.ObservationFilter{DocumentID: documentID, Page: page, PageSize: pageSize})
}

// ListByProject returns all observations of a project.
func (s *ObservationService) ListByProject(ctx context.Context, projectID string, actor models.Actor, page, pageSize int) ([]models.Observation, *models.Pagination, error) {
	project, err := s.guard.ResolveProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, nil, err
	}
	return s.list(ctx, models.ObservationFilter{ProjectID: projectID, Page: page, PageSize: pageSize})
}

// ListByStudent returns the open observations across every project owned by
// the acting student.
func (s *ObservationService) ListByStudent(ctx context.Context, actor models.Actor) ([]models.Observation, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students have a personal review queue")
	}
	projects, _, err := s.projects.List(ctx, models.ProjectFilter{StudentID: actor.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list projects")
	}
	var result []models.Observation
	for _, project := range projects {
		observations, _, err := s.repo.List(ctx, models.ObservationFilter{
			ProjectID: project.ID,
			Statuses:  []models.ObservationStatus{models.StatusPendiente, models.StatusCorregido, models.StatusEnRevision},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list observations")
		}
		result = append(result, observations...)
	}
	return result, nil
}

// ProjectSummary returns the cached status-count projection for a project.
func (s *ObservationService) ProjectSummary(ctx context.Context, projectID string, actor models.Actor) (*models.ReviewSummary, error) {
	project, err := s.guard.ResolveProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("reviews:summary:%s", projectID)
	var cached models.ReviewSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}
	summary, err := s.repo.Summary(ctx, projectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarise reviews")
	}
	_ = s.cache.Set(ctx, key, summary, 0)
	return summary, nil
}

func (s *ObservationService) list(ctx context.Context, filter models.ObservationFilter) ([]models.Observation, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	observations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list observations")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return observations, pagination, nil
}

func (s *ObservationService) find(ctx context.Context, id string) (*models.Observation, error) {
	observation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "observation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch observation")
	}
	return observation, nil
}

func (s *ObservationService) requireAuthor(observation *models.Observation, actor models.Actor) error {
	if actor.Role != models.RoleAdvisor || observation.AdvisorID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the authoring advisor may modify the observation")
	}
	return nil
}

func (s *ObservationService) recordTransition(from, to string) {
	if s.metrics != nil {
		s.metrics.RecordReviewTransition(from, to)
	}
}
