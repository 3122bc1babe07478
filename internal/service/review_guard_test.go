package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

func TestReviewGuardValidateGeometry(t *testing.T) {
	guard := NewReviewGuard(nil, nil)

	cases := []struct {
		name      string
		rect      models.AnchorRect
		pageStart int
		pageEnd   int
		wantErr   bool
	}{
		{"valid", models.AnchorRect{XStart: 0, YStart: 0, XEnd: 100, YEnd: 100}, 1, 5, false},
		{"single point", models.AnchorRect{XStart: 50, YStart: 50, XEnd: 50, YEnd: 50}, 2, 2, false},
		{"x above bound", models.AnchorRect{XStart: 10, YStart: 10, XEnd: 100.1, YEnd: 20}, 1, 1, true},
		{"negative y", models.AnchorRect{XStart: 10, YStart: -1, XEnd: 40, YEnd: 20}, 1, 1, true},
		{"zero page", models.AnchorRect{XStart: 10, YStart: 10, XEnd: 40, YEnd: 20}, 0, 1, true},
		{"start after end", models.AnchorRect{XStart: 10, YStart: 10, XEnd: 40, YEnd: 20}, 5, 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := guard.ValidateGeometry(tc.rect, tc.pageStart, tc.pageEnd)
			if tc.wantErr {
				assertAppError(t, err, appErrors.ErrValidation.Code)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReviewGuardValidateCorrectionVersion(t *testing.T) {
	docs := &mockDocumentRepo{documents: map[string]*models.Document{
		"v1":    {ID: "v1", ProjectID: "p1", Version: 1},
		"v2":    {ID: "v2", ProjectID: "p1", Version: 2},
		"v3":    {ID: "v3", ProjectID: "p1", Version: 3},
		"other": {ID: "other", ProjectID: "p2", Version: 9},
	}}
	guard := NewReviewGuard(nil, docs)
	observation := &models.Observation{ID: "o1", ProjectID: "p1", DocumentID: "v2"}

	corrected, err := guard.ValidateCorrectionVersion(context.Background(), "v2", observation)
	require.NoError(t, err)
	assert.Equal(t, 2, corrected.Version)

	corrected, err = guard.ValidateCorrectionVersion(context.Background(), "v3", observation)
	require.NoError(t, err)
	assert.Equal(t, 3, corrected.Version)

	_, err = guard.ValidateCorrectionVersion(context.Background(), "v1", observation)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = guard.ValidateCorrectionVersion(context.Background(), "other", observation)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = guard.ValidateCorrectionVersion(context.Background(), "missing", observation)
	assertAppError(t, err, appErrors.ErrNotFound.Code)
}

func TestReviewGuardRequireProjectMember(t *testing.T) {
	guard := NewReviewGuard(nil, nil)
	project := &models.Project{ID: "p1", StudentID: "s1", AdvisorID: "a1"}

	assert.NoError(t, guard.RequireProjectMember(project, models.Actor{ID: "s1", Role: models.RoleStudent}))
	assert.NoError(t, guard.RequireProjectMember(project, models.Actor{ID: "a1", Role: models.RoleAdvisor}))
	assert.NoError(t, guard.RequireProjectMember(project, models.Actor{ID: "any", Role: models.RoleAdmin}))

	err := guard.RequireProjectMember(project, models.Actor{ID: "s2", Role: models.RoleStudent})
	assertAppError(t, err, appErrors.ErrForbidden.Code)
	err = guard.RequireProjectMember(project, models.Actor{ID: "a2", Role: models.RoleAdvisor})
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestReviewGuardResolveDocument(t *testing.T) {
	projects := &mockProjectRepo{projects: map[string]*models.Project{
		"p1": {ID: "p1", StudentID: "s1", AdvisorID: "a1"},
	}}
	docs := &mockDocumentRepo{documents: map[string]*models.Document{
		"d1": {ID: "d1", ProjectID: "p1", Version: 1},
	}}
	guard := NewReviewGuard(projects, docs)

	doc, project, err := guard.ResolveDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", doc.ID)
	assert.Equal(t, "p1", project.ID)

	_, _, err = guard.ResolveDocument(context.Background(), "missing")
	assertAppError(t, err, appErrors.ErrNotFound.Code)
}
