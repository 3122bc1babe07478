package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

type projectReader interface {
	FindByID(ctx context.Context, id string) (*models.Project, error)
}

type documentReader interface {
	FindByID(ctx context.Context, id string) (*models.Document, error)
}

// ReviewGuard implements the cross-cutting consistency checks shared by the
// observation and correction lifecycles: role gating, project membership,
// anchor geometry and version ordering. All checks run before any write.
type ReviewGuard struct {
	projects  projectReader
	documents documentReader
}

// NewReviewGuard constructs the guard.
func NewReviewGuard(projects projectReader, documents documentReader) *ReviewGuard {
	return &ReviewGuard{projects: projects, documents: documents}
}

// ResolveDocument loads a document and its owning project.
func (g *ReviewGuard) ResolveDocument(ctx context.Context, documentID string) (*models.Document, *models.Project, error) {
	doc, err := g.documents.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document")
	}
	project, err := g.ResolveProject(ctx, doc.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return doc, project, nil
}

// ResolveProject loads a project by id.
func (g *ReviewGuard) ResolveProject(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := g.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch project")
	}
	return project, nil
}

// RequireProjectAdvisor enforces that the actor is the project's assigned
// advisor.
func (g *ReviewGuard) RequireProjectAdvisor(project *models.Project, actor models.Actor) error {
	if actor.Role != models.RoleAdvisor || project.AdvisorID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "actor is not the project's advisor")
	}
	return nil
}

// RequireProjectStudent enforces that the actor is the project's owning
// student.
func (g *ReviewGuard) RequireProjectStudent(project *models.Project, actor models.Actor) error {
	if actor.Role != models.RoleStudent || project.StudentID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "actor is not the project's student")
	}
	return nil
}

// RequireProjectMember enforces that the actor belongs to the project
// (student, advisor, or an administrator). Third parties never get read or
// write access.
func (g *ReviewGuard) RequireProjectMember(project *models.Project, actor models.Actor) error {
	if !project.IsMember(actor) {
		return appErrors.Clone(appErrors.ErrForbidden, "actor does not belong to the project")
	}
	return nil
}

// ValidateGeometry checks anchor coordinates and page ordering.
func (g *ReviewGuard) ValidateGeometry(rect models.AnchorRect, pageStart, pageEnd int) error {
	if !rect.InBounds() {
		return appErrors.Clone(appErrors.ErrValidation, "anchor coordinates must be within [0,100]")
	}
	if pageStart < 1 || pageEnd < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "page numbers must be positive")
	}
	if pageStart > pageEnd {
		return appErrors.Clone(appErrors.ErrValidation, "page_start must not exceed page_end")
	}
	return nil
}

// ValidateCorrectionVersion resolves the document a correction was made
// against and checks the version-ordering invariant: it must belong to the
// observation's project and be the same version or later than the one the
// observation was raised on.
func (g *ReviewGuard) ValidateCorrectionVersion(ctx context.Context, correctedDocumentID string, observation *models.Observation) (*models.Document, error) {
	corrected, err := g.documents.FindByID(ctx, correctedDocumentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "corrected document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch corrected document")
	}
	if corrected.ProjectID != observation.ProjectID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "corrected document belongs to a different project")
	}
	origin, err := g.documents.FindByID(ctx, observation.DocumentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "observed document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch observed document")
	}
	if corrected.Version < origin.Version {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("corrected version %d precedes observed version %d", corrected.Version, origin.Version))
	}
	return corrected, nil
}
