package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

type mockProjectStore struct {
	*mockProjectRepo
}

func (m *mockProjectStore) Create(_ context.Context, p *models.Project) error {
	p.ID = fmt.Sprintf("p%d", len(m.projects)+1)
	clone := *p
	m.projects[p.ID] = &clone
	return nil
}

func (m *mockProjectStore) UpdateAdvisor(_ context.Context, id, advisorID string) error {
	p, ok := m.projects[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.AdvisorID = advisorID
	return nil
}

type mockUserLookup struct {
	users map[string]*models.User
}

func (m *mockUserLookup) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func newProjectService(activePeriod string) (*ProjectService, *mockProjectStore) {
	repo := &mockProjectStore{mockProjectRepo: &mockProjectRepo{projects: map[string]*models.Project{}}}
	users := &mockUserLookup{users: map[string]*models.User{
		"s1":       {ID: "s1", Role: models.RoleStudent, Active: true},
		"a1":       {ID: "a1", Role: models.RoleAdvisor, Active: true},
		"a2":       {ID: "a2", Role: models.RoleAdvisor, Active: true},
		"inactive": {ID: "inactive", Role: models.RoleAdvisor, Active: false},
	}}
	return NewProjectService(repo, users, nil, zap.NewNop(), activePeriod), repo
}

func TestProjectServiceCreate(t *testing.T) {
	svc, _ := newProjectService("2026-1")

	project, err := svc.Create(context.Background(), CreateProjectRequest{
		Title:     "Compiler thesis",
		StudentID: "s1",
		AdvisorID: "a1",
		PeriodID:  "2026-1",
	}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, "2026-1", project.PeriodID)
	assert.NotEmpty(t, project.ID)
}

func TestProjectServiceCreateAdminOnly(t *testing.T) {
	svc, _ := newProjectService("2026-1")

	_, err := svc.Create(context.Background(), CreateProjectRequest{
		Title: "t", StudentID: "s1", AdvisorID: "a1", PeriodID: "2026-1",
	}, advisorActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestProjectServiceCreateValidatesPeriod(t *testing.T) {
	svc, _ := newProjectService("2026-1")

	// a period is always required
	_, err := svc.Create(context.Background(), CreateProjectRequest{
		Title: "t", StudentID: "s1", AdvisorID: "a1",
	}, adminActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	// the requested period must match the configured active one
	_, err = svc.Create(context.Background(), CreateProjectRequest{
		Title: "t", StudentID: "s1", AdvisorID: "a1", PeriodID: "2025-2",
	}, adminActor)
	assertAppError(t, err, appErrors.ErrConflict.Code)

	// without a configured active period any period id is accepted
	open, _ := newProjectService("")
	project, err := open.Create(context.Background(), CreateProjectRequest{
		Title: "t", StudentID: "s1", AdvisorID: "a1", PeriodID: "2025-2",
	}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, "2025-2", project.PeriodID)
}

func TestProjectServiceCreateValidatesMembers(t *testing.T) {
	svc, _ := newProjectService("2026-1")

	// roles swapped
	_, err := svc.Create(context.Background(), CreateProjectRequest{
		Title: "t", StudentID: "a1", AdvisorID: "s1", PeriodID: "2026-1",
	}, adminActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	// inactive advisor
	_, err = svc.Create(context.Background(), CreateProjectRequest{
		Title: "t", StudentID: "s1", AdvisorID: "inactive", PeriodID: "2026-1",
	}, adminActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	// unknown user
	_, err = svc.Create(context.Background(), CreateProjectRequest{
		Title: "t", StudentID: "ghost", AdvisorID: "a1", PeriodID: "2026-1",
	}, adminActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestProjectServiceListScopedByRole(t *testing.T) {
	svc, repo := newProjectService("2026-1")
	repo.projects["p1"] = &models.Project{ID: "p1", StudentID: "s1", AdvisorID: "a1"}
	repo.projects["p2"] = &models.Project{ID: "p2", StudentID: "s2", AdvisorID: "a2"}

	all, _, err := svc.List(context.Background(), models.ProjectFilter{}, adminActor)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, _, err := svc.List(context.Background(), models.ProjectFilter{}, studentActor)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "p1", mine[0].ID)

	advised, _, err := svc.List(context.Background(), models.ProjectFilter{}, outsideActor)
	require.NoError(t, err)
	require.Len(t, advised, 1)
	assert.Equal(t, "p2", advised[0].ID)
}

func TestProjectServiceReassignAdvisor(t *testing.T) {
	svc, repo := newProjectService("2026-1")
	repo.projects["p1"] = &models.Project{ID: "p1", StudentID: "s1", AdvisorID: "a1"}

	project, err := svc.ReassignAdvisor(context.Background(), "p1", ReassignAdvisorRequest{AdvisorID: "a2"}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, "a2", project.AdvisorID)
	assert.Equal(t, "a2", repo.projects["p1"].AdvisorID)

	_, err = svc.ReassignAdvisor(context.Background(), "p1", ReassignAdvisorRequest{AdvisorID: "a1"}, advisorActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}
