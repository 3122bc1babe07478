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

type projectRepository interface {
	Create(ctx context.Context, p *models.Project) error
	FindByID(ctx context.Context, id string) (*models.Project, error)
	UpdateAdvisor(ctx context.Context, id, advisorID string) error
	List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int, error)
}

type memberLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ProjectService manages thesis projects: creation is an administrative
// action binding a student and an advisor within the active academic
// period.
type ProjectService struct {
	repo           projectRepository
	users          memberLookup
	validator      *validator.Validate
	logger         *zap.Logger
	activePeriodID string
}

// NewProjectService constructs the service.
func NewProjectService(repo projectRepository, users memberLookup, validate *validator.Validate, logger *zap.Logger, activePeriodID string) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ProjectService{repo: repo, users: users, validator: validate, logger: logger, activePeriodID: activePeriodID}
}

// CreateProjectRequest represents payload for creating projects.
type CreateProjectRequest struct {
	Title     string `json:"title" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	AdvisorID string `json:"advisor_id" validate:"required"`
	PeriodID  string `json:"period_id" validate:"required"`
}

// ReassignAdvisorRequest swaps the project's advisor.
type ReassignAdvisorRequest struct {
	AdvisorID string `json:"advisor_id" validate:"required"`
}

// Create registers a project. Admin-only; the requested period must be the
// configured active one when that is set, and both members must exist, be
// active and hold the expected role.
func (s *ProjectService) Create(ctx context.Context, req CreateProjectRequest, actor models.Actor) (*models.Project, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may create projects")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create project payload")
	}
	if s.activePeriodID != "" && req.PeriodID != s.activePeriodID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "period is not the active academic period")
	}
	if err := s.requireMember(ctx, req.StudentID, models.RoleStudent); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, req.AdvisorID, models.RoleAdvisor); err != nil {
		return nil, err
	}

	project := &models.Project{
		Title:     req.Title,
		StudentID: req.StudentID,
		AdvisorID: req.AdvisorID,
		PeriodID:  req.PeriodID,
	}
	if err := s.repo.Create(ctx, project); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create project")
	}
	s.logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("student_id", project.StudentID),
		zap.String("advisor_id", project.AdvisorID))
	return project, nil
}

// Get returns a project visible to its members.
func (s *ProjectService) Get(ctx context.Context, id string, actor models.Actor) (*models.Project, error) {
	project, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !project.IsMember(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "actor does not belong to the project")
	}
	return project, nil
}

// List returns projects scoped to the actor: admins see everything,
// advisors and students only their own.
func (s *ProjectService) List(ctx context.Context, filter models.ProjectFilter, actor models.Actor) ([]models.Project, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleAdvisor:
		filter.AdvisorID = actor.ID
	case models.RoleStudent:
		filter.StudentID = actor.ID
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "unknown role")
	}
	projects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list projects")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return projects, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ReassignAdvisor swaps the project's advisor. Admin-only.
func (s *ProjectService) ReassignAdvisor(ctx context.Context, id string, req ReassignAdvisorRequest, actor models.Actor) (*models.Project, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may reassign advisors")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassign payload")
	}
	project, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, req.AdvisorID, models.RoleAdvisor); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAdvisor(ctx, id, req.AdvisorID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign advisor")
	}
	project.AdvisorID = req.AdvisorID
	s.logger.Info("project advisor reassigned",
		zap.String("project_id", id),
		zap.String("advisor_id", req.AdvisorID))
	return project, nil
}

func (s *ProjectService) find(ctx context.Context, id string) (*models.Project, error) {
	project, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch project")
	}
	return project, nil
}

func (s *ProjectService) requireMember(ctx context.Context, userID string, role models.UserRole) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "referenced user does not exist")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Role != role {
		return appErrors.Clone(appErrors.ErrValidation, "referenced user has the wrong role")
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, "referenced user is inactive")
	}
	return nil
}
