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
	"github.com/sicoprot/sicoprot-api/pkg/jobs"
)

type mockReportRepo struct {
	jobs map[string]*models.ReportJob
}

func (m *mockReportRepo) Create(_ context.Context, job *models.ReportJob) error {
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *mockReportRepo) FindByID(_ context.Context, id string) (*models.ReportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (m *mockReportRepo) MarkProcessing(_ context.Context, id string) error {
	m.jobs[id].Status = models.ReportStatusProcessing
	return nil
}

func (m *mockReportRepo) MarkFinished(_ context.Context, id, resultURL string, finishedAt time.Time) error {
	job := m.jobs[id]
	job.Status = models.ReportStatusFinished
	job.ResultURL = &resultURL
	job.FinishedAt = &finishedAt
	return nil
}

func (m *mockReportRepo) MarkFailed(_ context.Context, id, message string, finishedAt time.Time) error {
	job := m.jobs[id]
	job.Status = models.ReportStatusFailed
	job.ErrorMessage = &message
	job.FinishedAt = &finishedAt
	return nil
}

// pagedObservationSource serves observations in pages the way the SQL
// repository does, capping the page size at 200 rows.
type pagedObservationSource struct {
	observations []models.Observation
}

func (m *pagedObservationSource) List(_ context.Context, filter models.ObservationFilter) ([]models.Observation, int, error) {
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(m.observations) {
		return nil, len(m.observations), nil
	}
	end := start + size
	if end > len(m.observations) {
		end = len(m.observations)
	}
	return m.observations[start:end], len(m.observations), nil
}

type staticCorrectionSource struct {
	byObservation map[string][]models.Correction
}

func (m *staticCorrectionSource) ListByObservation(_ context.Context, observationID string) ([]models.Correction, error) {
	return m.byObservation[observationID], nil
}

func newReportFixture(observations *pagedObservationSource, corrections *staticCorrectionSource) *ReportService {
	repo := &mockReportRepo{jobs: map[string]*models.ReportJob{}}
	return NewReportService(repo, observations, corrections, nil, nil, nil, nil, zap.NewNop(), jobs.QueueConfig{})
}

func TestReportServiceDatasetSpansAllPages(t *testing.T) {
	source := &pagedObservationSource{}
	for i := 0; i < 250; i++ {
		source.observations = append(source.observations, models.Observation{
			ID:        fmt.Sprintf("o%d", i+1),
			Title:     "Chapter 2 citations",
			Status:    models.StatusPendiente,
			PageStart: 1,
			PageEnd:   1,
		})
	}
	svc := newReportFixture(source, &staticCorrectionSource{})

	data, err := svc.buildDataset(context.Background(), &models.ReportJob{
		Type:   models.ReportTypeReviewStatus,
		Params: models.ReportJobParams{ProjectID: "p1", Format: models.ReportFormatCSV},
	})
	require.NoError(t, err)
	require.Len(t, data.Rows, 250)
	assert.Equal(t, "o1", data.Rows[0]["Observation"])
	assert.Equal(t, "o250", data.Rows[249]["Observation"])
}

func TestReportServiceCorrectionsDataset(t *testing.T) {
	superseded := time.Now().UTC()
	source := &pagedObservationSource{observations: []models.Observation{
		{ID: "o1", Title: "Chapter 2 citations", Status: models.StatusCorregido, PageStart: 1, PageEnd: 2},
	}}
	corrections := &staticCorrectionSource{byObservation: map[string][]models.Correction{
		"o1": {
			{ID: "c2", ObservationID: "o1", Title: "Chapter 2 citations", PageStart: 1, PageEnd: 2, CreatedAt: time.Now().UTC()},
			{ID: "c1", ObservationID: "o1", Title: "Chapter 2 citations", PageStart: 1, PageEnd: 2, CreatedAt: time.Now().UTC(), SupersededAt: &superseded},
		},
	}}
	svc := newReportFixture(source, corrections)

	data, err := svc.buildDataset(context.Background(), &models.ReportJob{
		Type:   models.ReportTypeCorrections,
		Params: models.ReportJobParams{ProjectID: "p1", Format: models.ReportFormatCSV},
	})
	require.NoError(t, err)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "true", data.Rows[0]["Active"])
	assert.Equal(t, "false", data.Rows[1]["Active"])
}
