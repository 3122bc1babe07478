package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

type mockProjectRepo struct {
	projects map[string]*models.Project
}

func (m *mockProjectRepo) FindByID(_ context.Context, id string) (*models.Project, error) {
	p, ok := m.projects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *p
	return &clone, nil
}

func (m *mockProjectRepo) List(_ context.Context, filter models.ProjectFilter) ([]models.Project, int, error) {
	var out []models.Project
	for _, p := range m.projects {
		if filter.StudentID != "" && p.StudentID != filter.StudentID {
			continue
		}
		if filter.AdvisorID != "" && p.AdvisorID != filter.AdvisorID {
			continue
		}
		out = append(out, *p)
	}
	return out, len(out), nil
}

type mockDocumentRepo struct {
	documents map[string]*models.Document
}

func (m *mockDocumentRepo) FindByID(_ context.Context, id string) (*models.Document, error) {
	d, ok := m.documents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *d
	return &clone, nil
}

type mockObservationRepo struct {
	observations map[string]*models.Observation
	superseded   []string
}

func newMockObservationRepo() *mockObservationRepo {
	return &mockObservationRepo{observations: map[string]*models.Observation{}}
}

func (m *mockObservationRepo) Create(_ context.Context, o *models.Observation) error {
	o.ID = fmt.Sprintf("o%d", len(m.observations)+1)
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	clone := *o
	m.observations[o.ID] = &clone
	return nil
}

func (m *mockObservationRepo) FindByID(_ context.Context, id string) (*models.Observation, error) {
	o, ok := m.observations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *o
	return &clone, nil
}

func (m *mockObservationRepo) Update(_ context.Context, o *models.Observation) error {
	clone := *o
	m.observations[o.ID] = &clone
	return nil
}

func (m *mockObservationRepo) Archive(_ context.Context, id string) error {
	if o, ok := m.observations[id]; ok {
		o.Archived = true
	}
	return nil
}

func (m *mockObservationRepo) TransitionStatus(_ context.Context, id string, from []models.ObservationStatus, to models.ObservationStatus) (bool, error) {
	o, ok := m.observations[id]
	if !ok || o.Archived || !statusIn(o.Status, from) {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (m *mockObservationRepo) Approve(_ context.Context, id string, comment *string, at time.Time) (bool, error) {
	o, ok := m.observations[id]
	if !ok || o.Archived || !statusIn(o.Status, []models.ObservationStatus{models.StatusCorregido, models.StatusEnRevision}) {
		return false, nil
	}
	o.Status = models.StatusAprobado
	o.VerificationComment = comment
	o.VerifiedAt = &at
	return true, nil
}

func (m *mockObservationRepo) Reject(_ context.Context, id, comment string, at time.Time) (bool, error) {
	o, ok := m.observations[id]
	if !ok || o.Archived || !statusIn(o.Status, []models.ObservationStatus{models.StatusCorregido, models.StatusEnRevision}) {
		return false, nil
	}
	o.Status = models.StatusPendiente
	o.VerificationComment = &comment
	if o.CorrectionID != nil {
		m.superseded = append(m.superseded, *o.CorrectionID)
	}
	o.CorrectionID = nil
	return true, nil
}

func (m *mockObservationRepo) List(_ context.Context, filter models.ObservationFilter) ([]models.Observation, int, error) {
	var out []models.Observation
	for _, o := range m.observations {
		if filter.DocumentID != "" && o.DocumentID != filter.DocumentID {
			continue
		}
		if filter.ProjectID != "" && o.ProjectID != filter.ProjectID {
			continue
		}
		if o.Archived && !filter.IncludeArchived {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(o.Status, filter.Statuses) {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (m *mockObservationRepo) Summary(_ context.Context, projectID string) (*models.ReviewSummary, error) {
	summary := &models.ReviewSummary{ProjectID: projectID}
	for _, o := range m.observations {
		if o.ProjectID != projectID {
			continue
		}
		summary.Total++
		if o.Archived {
			summary.Archived++
			continue
		}
		switch o.Status {
		case models.StatusPendiente:
			summary.Pendiente++
		case models.StatusEnRevision:
			summary.EnRevision++
		case models.StatusCorregido:
			summary.Corregido++
		case models.StatusAprobado:
			summary.Aprobado++
		}
	}
	return summary, nil
}

func statusIn(status models.ObservationStatus, set []models.ObservationStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

type observationFixture struct {
	svc      *ObservationService
	repo     *mockObservationRepo
	projects *mockProjectRepo
	docs     *mockDocumentRepo
}

func newObservationFixture() *observationFixture {
	projects := &mockProjectRepo{projects: map[string]*models.Project{
		"p1": {ID: "p1", Title: "Thesis", StudentID: "s1", AdvisorID: "a1", PeriodID: "2026-1"},
	}}
	docs := &mockDocumentRepo{documents: map[string]*models.Document{
		"d1": {ID: "d1", ProjectID: "p1", Version: 1},
		"d2": {ID: "d2", ProjectID: "p1", Version: 2},
	}}
	repo := newMockObservationRepo()
	guard := NewReviewGuard(projects, docs)
	cache := NewCacheService(nil, nil, 0, zap.NewNop(), false)
	svc := NewObservationService(repo, projects, guard, cache, nil, nil, zap.NewNop())
	return &observationFixture{svc: svc, repo: repo, projects: projects, docs: docs}
}

func (f *observationFixture) seed(status models.ObservationStatus, correctionID *string) *models.Observation {
	id := fmt.Sprintf("o%d", len(f.repo.observations)+1)
	o := &models.Observation{
		ID:           id,
		DocumentID:   "d1",
		ProjectID:    "p1",
		AdvisorID:    "a1",
		Title:        "Chapter 2 citations",
		ContentHTML:  "<p>Missing references</p>",
		AnchorRect:   models.AnchorRect{XStart: 10, YStart: 10, XEnd: 40, YEnd: 20},
		PageStart:    3,
		PageEnd:      3,
		Status:       status,
		CorrectionID: correctionID,
	}
	f.repo.observations[id] = o
	return o
}

var (
	advisorActor  = models.Actor{ID: "a1", Role: models.RoleAdvisor}
	studentActor  = models.Actor{ID: "s1", Role: models.RoleStudent}
	adminActor    = models.Actor{ID: "adm", Role: models.RoleAdmin}
	outsideActor  = models.Actor{ID: "a2", Role: models.RoleAdvisor}
	strangerActor = models.Actor{ID: "s2", Role: models.RoleStudent}
)

func TestObservationServiceCreate(t *testing.T) {
	f := newObservationFixture()

	observation, err := f.svc.Create(context.Background(), "d1", CreateObservationRequest{
		Title:       "Chapter 2 citations",
		ContentHTML: "<p>Missing references</p>",
		XStart:      10, YStart: 10, XEnd: 40, YEnd: 20,
		PageStart: 3, PageEnd: 3,
	}, advisorActor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendiente, observation.Status)
	assert.Equal(t, "p1", observation.ProjectID)
	assert.Equal(t, "a1", observation.AdvisorID)
	assert.NotEmpty(t, observation.ID)
}

func TestObservationServiceCreateRejectsNonAdvisor(t *testing.T) {
	f := newObservationFixture()
	req := CreateObservationRequest{Title: "t", ContentHTML: "<p>x</p>", PageStart: 1, PageEnd: 1}

	_, err := f.svc.Create(context.Background(), "d1", req, studentActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)

	// an advisor of a different project is just as excluded
	_, err = f.svc.Create(context.Background(), "d1", req, outsideActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestObservationServiceCreateRejectsBadGeometry(t *testing.T) {
	f := newObservationFixture()

	_, err := f.svc.Create(context.Background(), "d1", CreateObservationRequest{
		Title: "t", ContentHTML: "<p>x</p>",
		XStart: 10, YStart: 10, XEnd: 120, YEnd: 20,
		PageStart: 1, PageEnd: 1,
	}, advisorActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = f.svc.Create(context.Background(), "d1", CreateObservationRequest{
		Title: "t", ContentHTML: "<p>x</p>",
		XStart: 10, YStart: 10, XEnd: 40, YEnd: 20,
		PageStart: 4, PageEnd: 2,
	}, advisorActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestObservationServiceUpdateMergesFields(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusPendiente, nil)

	title := "Chapter 2 citations, revised"
	xEnd := 55.0
	updated, err := f.svc.Update(context.Background(), seeded.ID, UpdateObservationRequest{
		Title: &title,
		XEnd:  &xEnd,
	}, advisorActor)
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, 55.0, updated.XEnd)
	assert.Equal(t, "<p>Missing references</p>", updated.ContentHTML)
}

func TestObservationServiceUpdateFrozenWhenApproved(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusAprobado, nil)

	title := "too late"
	_, err := f.svc.Update(context.Background(), seeded.ID, UpdateObservationRequest{Title: &title}, advisorActor)
	assertAppError(t, err, appErrors.ErrConflict.Code)
}

func TestObservationServiceUpdateAuthorOnly(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusPendiente, nil)

	title := "hijack"
	_, err := f.svc.Update(context.Background(), seeded.ID, UpdateObservationRequest{Title: &title}, outsideActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestObservationServiceArchiveIdempotent(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusPendiente, nil)

	first, err := f.svc.Archive(context.Background(), seeded.ID, advisorActor)
	require.NoError(t, err)
	assert.True(t, first.Archived)

	second, err := f.svc.Archive(context.Background(), seeded.ID, advisorActor)
	require.NoError(t, err)
	assert.True(t, second.Archived)
}

func TestObservationServiceOpenReview(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusCorregido, nil)

	observation, err := f.svc.OpenReview(context.Background(), seeded.ID, advisorActor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnRevision, observation.Status)
}

func TestObservationServiceOpenReviewRequiresCorrection(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusPendiente, nil)

	_, err := f.svc.OpenReview(context.Background(), seeded.ID, advisorActor)
	assertAppError(t, err, appErrors.ErrConflict.Code)
}

func TestObservationServiceVerifyApproveFreezes(t *testing.T) {
	f := newObservationFixture()
	correctionID := "c1"
	seeded := f.seed(models.StatusEnRevision, &correctionID)

	observation, err := f.svc.Verify(context.Background(), seeded.ID, VerifyObservationRequest{
		Decision: string(models.DecisionAprobado),
	}, advisorActor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAprobado, observation.Status)
	require.NotNil(t, observation.VerifiedAt)

	// approval is terminal, a second verdict conflicts
	_, err = f.svc.Verify(context.Background(), seeded.ID, VerifyObservationRequest{
		Decision: string(models.DecisionRechazado),
		Comment:  "changed my mind",
	}, advisorActor)
	assertAppError(t, err, appErrors.ErrConflict.Code)
}

func TestObservationServiceVerifyRejectReopensCycle(t *testing.T) {
	f := newObservationFixture()
	correctionID := "c1"
	seeded := f.seed(models.StatusEnRevision, &correctionID)

	observation, err := f.svc.Verify(context.Background(), seeded.ID, VerifyObservationRequest{
		Decision: string(models.DecisionRechazado),
		Comment:  "the new section still lacks sources",
	}, advisorActor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendiente, observation.Status)
	require.NotNil(t, observation.VerificationComment)
	assert.Equal(t, "the new section still lacks sources", *observation.VerificationComment)
	assert.Nil(t, observation.CorrectionID)
	assert.Contains(t, f.repo.superseded, "c1")
}

func TestObservationServiceVerifyRejectRequiresComment(t *testing.T) {
	f := newObservationFixture()
	correctionID := "c1"
	seeded := f.seed(models.StatusEnRevision, &correctionID)

	_, err := f.svc.Verify(context.Background(), seeded.ID, VerifyObservationRequest{
		Decision: string(models.DecisionRechazado),
	}, advisorActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestObservationServiceVerifyRejectsUnknownDecision(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusEnRevision, nil)

	_, err := f.svc.Verify(context.Background(), seeded.ID, VerifyObservationRequest{Decision: "MAYBE"}, advisorActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestObservationServiceVerifyPendingConflicts(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusPendiente, nil)

	_, err := f.svc.Verify(context.Background(), seeded.ID, VerifyObservationRequest{
		Decision: string(models.DecisionAprobado),
	}, advisorActor)
	assertAppError(t, err, appErrors.ErrConflict.Code)
}

func TestObservationServiceGetMemberOnly(t *testing.T) {
	f := newObservationFixture()
	seeded := f.seed(models.StatusPendiente, nil)

	for _, actor := range []models.Actor{advisorActor, studentActor, adminActor} {
		_, err := f.svc.Get(context.Background(), seeded.ID, actor)
		require.NoError(t, err)
	}

	_, err := f.svc.Get(context.Background(), seeded.ID, strangerActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestObservationServiceListByStudent(t *testing.T) {
	f := newObservationFixture()
	f.seed(models.StatusPendiente, nil)
	f.seed(models.StatusCorregido, nil)
	approved := f.seed(models.StatusAprobado, nil)
	archived := f.seed(models.StatusPendiente, nil)
	archived.Archived = true

	observations, err := f.svc.ListByStudent(context.Background(), studentActor)
	require.NoError(t, err)
	require.Len(t, observations, 2)
	for _, o := range observations {
		assert.NotEqual(t, approved.ID, o.ID)
		assert.NotEqual(t, archived.ID, o.ID)
	}

	_, err = f.svc.ListByStudent(context.Background(), advisorActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestObservationServiceProjectSummary(t *testing.T) {
	f := newObservationFixture()
	f.seed(models.StatusPendiente, nil)
	f.seed(models.StatusCorregido, nil)
	f.seed(models.StatusAprobado, nil)

	summary, err := f.svc.ProjectSummary(context.Background(), "p1", studentActor)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Pendiente)
	assert.Equal(t, 1, summary.Corregido)
	assert.Equal(t, 1, summary.Aprobado)

	_, err = f.svc.ProjectSummary(context.Background(), "p1", strangerActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}
