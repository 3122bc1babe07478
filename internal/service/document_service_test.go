package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
)

type mockDocumentVersionRepo struct {
	*mockDocumentRepo
}

func (m *mockDocumentVersionRepo) Create(_ context.Context, d *models.Document) error {
	version := 1
	for _, existing := range m.documents {
		if existing.ProjectID == d.ProjectID && existing.Version >= version {
			version = existing.Version + 1
		}
	}
	d.ID = fmt.Sprintf("d%d", len(m.documents)+1)
	d.Version = version
	clone := *d
	m.documents[d.ID] = &clone
	return nil
}

func (m *mockDocumentVersionRepo) ListByProject(_ context.Context, projectID string) ([]models.Document, error) {
	var out []models.Document
	for _, d := range m.documents {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type mockDocumentStore struct {
	saved    []string
	deleted  []string
	failSave bool
}

func (m *mockDocumentStore) SaveStream(filename string, r io.Reader) (string, error) {
	if m.failSave {
		return "", fmt.Errorf("disk full")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	m.saved = append(m.saved, filename)
	return filename, nil
}

func (m *mockDocumentStore) Delete(filename string) error {
	m.deleted = append(m.deleted, filename)
	return nil
}

func newDocumentService(config DocumentConfig) (*DocumentService, *mockDocumentVersionRepo, *mockDocumentStore) {
	projects := &mockProjectRepo{projects: map[string]*models.Project{
		"p1": {ID: "p1", StudentID: "s1", AdvisorID: "a1"},
	}}
	repo := &mockDocumentVersionRepo{mockDocumentRepo: &mockDocumentRepo{documents: map[string]*models.Document{}}}
	store := &mockDocumentStore{}
	guard := NewReviewGuard(projects, repo)
	return NewDocumentService(repo, guard, store, config, zap.NewNop()), repo, store
}

func TestDocumentServiceRegisterUploadAssignsVersions(t *testing.T) {
	svc, _, store := newDocumentService(DocumentConfig{})

	first, err := svc.RegisterUpload(context.Background(), "p1", "thesis.pdf", "application/pdf",
		1024, strings.NewReader("v1"), studentActor)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := svc.RegisterUpload(context.Background(), "p1", "thesis.pdf", "application/pdf",
		2048, strings.NewReader("v2"), studentActor)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Len(t, store.saved, 2)
}

func TestDocumentServiceRegisterUploadStudentOnly(t *testing.T) {
	svc, _, _ := newDocumentService(DocumentConfig{})

	_, err := svc.RegisterUpload(context.Background(), "p1", "thesis.pdf", "application/pdf",
		1024, strings.NewReader("v1"), advisorActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)

	_, err = svc.RegisterUpload(context.Background(), "p1", "thesis.pdf", "application/pdf",
		1024, strings.NewReader("v1"), strangerActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}

func TestDocumentServiceRegisterUploadBounds(t *testing.T) {
	svc, _, _ := newDocumentService(DocumentConfig{
		MaxFileSizeBytes: 100,
		AllowedMIMEs:     []string{"application/pdf"},
	})

	_, err := svc.RegisterUpload(context.Background(), "p1", "thesis.pdf", "application/pdf",
		500, strings.NewReader("big"), studentActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = svc.RegisterUpload(context.Background(), "p1", "thesis.exe", "application/octet-stream",
		50, strings.NewReader("x"), studentActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = svc.RegisterUpload(context.Background(), "p1", "", "application/pdf",
		50, strings.NewReader("x"), studentActor)
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestDocumentServiceRegisterUploadStoreFailure(t *testing.T) {
	svc, repo, store := newDocumentService(DocumentConfig{})
	store.failSave = true

	_, err := svc.RegisterUpload(context.Background(), "p1", "thesis.pdf", "application/pdf",
		1024, strings.NewReader("v1"), studentActor)
	assertAppError(t, err, appErrors.ErrInternal.Code)
	assert.Empty(t, repo.documents)
}

func TestDocumentServiceListByProjectMemberOnly(t *testing.T) {
	svc, repo, _ := newDocumentService(DocumentConfig{})
	repo.documents["d1"] = &models.Document{ID: "d1", ProjectID: "p1", Version: 1}

	documents, err := svc.ListByProject(context.Background(), "p1", advisorActor)
	require.NoError(t, err)
	assert.Len(t, documents, 1)

	_, err = svc.ListByProject(context.Background(), "p1", strangerActor)
	assertAppError(t, err, appErrors.ErrForbidden.Code)
}
