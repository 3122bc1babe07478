package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicoprot/sicoprot-api/internal/models"
)

func newDocumentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestDocumentRepositoryCreateAssignsNextVersion(t *testing.T) {
	db, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(sqlmock.AnyArg(), "p1", "thesis.pdf", "documents/p1/abc.pdf", int64(1024), "s1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	d := &models.Document{
		ProjectID:  "p1",
		Filename:   "thesis.pdf",
		FilePath:   "documents/p1/abc.pdf",
		SizeBytes:  1024,
		UploadedBy: "s1",
	}
	require.NoError(t, repo.Create(context.Background(), d))
	assert.Equal(t, 3, d.Version)
	assert.NotEmpty(t, d.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryListByProject(t *testing.T) {
	db, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	columns := []string{"id", "project_id", "version", "filename", "file_path", "size_bytes", "uploaded_by", "created_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("d1", "p1", 1, "v1.pdf", "documents/p1/v1.pdf", int64(100), "s1", time.Now()).
		AddRow("d2", "p1", 2, "v2.pdf", "documents/p1/v2.pdf", int64(200), "s1", time.Now())

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE project_id").
		WithArgs("p1").
		WillReturnRows(rows)

	documents, err := repo.ListByProject(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, documents, 2)
	assert.Equal(t, 1, documents[0].Version)
	assert.Equal(t, 2, documents[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
