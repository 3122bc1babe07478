package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicoprot/sicoprot-api/internal/models"
)

func newObservationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestObservationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	mock.ExpectExec("INSERT INTO observations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	o := &models.Observation{
		DocumentID:  "d1",
		ProjectID:   "p1",
		AdvisorID:   "a1",
		Title:       "Chapter 2 citations",
		ContentHTML: "<p>Missing references</p>",
		PageStart:   3,
		PageEnd:     3,
		Status:      models.StatusPendiente,
	}
	require.NoError(t, repo.Create(context.Background(), o))
	assert.NotEmpty(t, o.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepositoryTransitionStatus(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE observations SET status = $2, updated_at = $3")).
		WithArgs("o1", models.StatusEnRevision, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	moved, err := repo.TransitionStatus(context.Background(), "o1",
		[]models.ObservationStatus{models.StatusCorregido}, models.StatusEnRevision)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepositoryTransitionStatusNotEligible(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE observations SET status = $2, updated_at = $3")).
		WithArgs("o1", models.StatusEnRevision, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err := repo.TransitionStatus(context.Background(), "o1",
		[]models.ObservationStatus{models.StatusCorregido}, models.StatusEnRevision)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepositoryApproveSecondTimeReportsFalse(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE observations SET status = $2, verification_comment = $3, verified_at = $4, updated_at = $4")).
		WithArgs("o1", models.StatusAprobado, nil, now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.Approve(context.Background(), "o1", nil, now)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepositoryRejectSupersedesCorrection(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE observations SET status = $2, verification_comment = $3, correction_id = NULL, updated_at = $4")).
		WithArgs("o1", models.StatusPendiente, "needs another pass", now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE corrections SET superseded_at = $2, updated_at = $2")).
		WithArgs("o1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := repo.Reject(context.Background(), "o1", "needs another pass", now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepositoryRejectNotEligibleRollsBack(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE observations SET status = $2, verification_comment = $3, correction_id = NULL, updated_at = $4")).
		WithArgs("o1", models.StatusPendiente, "nope", now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err := repo.Reject(context.Background(), "o1", "nope", now)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepositoryList(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	columns := []string{"id", "document_id", "project_id", "advisor_id", "title", "content_html",
		"x_start", "y_start", "x_end", "y_end", "page_start", "page_end", "color", "status", "archived",
		"correction_id", "verification_comment", "verified_at", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("o1", "d1", "p1", "a1", "Title", "<p>c</p>",
			10.0, 10.0, 20.0, 20.0, 1, 1, "#ff0000", "PENDIENTE", false,
			nil, nil, nil, time.Now(), time.Now())

	mock.ExpectQuery("SELECT (.+) FROM observations WHERE 1=1 AND project_id").
		WithArgs("p1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM observations WHERE 1=1 AND project_id = $1 AND archived = FALSE")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.ObservationFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.StatusPendiente, list[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepositorySummary(t *testing.T) {
	db, mock, cleanup := newObservationRepoMock(t)
	defer cleanup()
	repo := NewObservationRepository(db)

	rows := sqlmock.NewRows([]string{"total", "pendiente", "en_revision", "corregido", "aprobado", "archived"}).
		AddRow(5, 2, 1, 1, 1, 0)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total").
		WithArgs("p1").
		WillReturnRows(rows)

	summary, err := repo.Summary(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", summary.ProjectID)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Pendiente)
	assert.Equal(t, 1, summary.Aprobado)
	assert.NoError(t, mock.ExpectationsWereMet())
}
