package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sicoprot/sicoprot-api/internal/models"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
	"github.com/sicoprot/sicoprot-api/pkg/export"
	"github.com/sicoprot/sicoprot-api/pkg/jobs"
	"github.com/sicoprot/sicoprot-api/pkg/storage"
)

type reportRepository interface {
	Create(ctx context.Context, job *models.ReportJob) error
	FindByID(ctx context.Context, id string) (*models.ReportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, resultURL string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error
}

type reportObservationSource interface {
	List(ctx context.Context, filter models.ObservationFilter) ([]models.Observation, int, error)
}

type reportCorrectionSource interface {
	ListByObservation(ctx context.Context, observationID string) ([]models.Correction, error)
}

// ReportRequest is the payload for queueing an asynchronous export.
type ReportRequest struct {
	Type      models.ReportType   `json:"type" validate:"required,oneof=review_status corrections"`
	ProjectID string              `json:"project_id" validate:"required"`
	Format    models.ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
}

// ReportService builds review exports asynchronously: jobs are queued,
// rendered by a worker pool, persisted to storage and handed back through a
// signed download URL.
type ReportService struct {
	repo         reportRepository
	observations reportObservationSource
	corrections  reportCorrectionSource
	guard        *ReviewGuard
	store        *storage.LocalStorage
	signer       *storage.SignedURLSigner
	csvExporter  *export.CSVExporter
	pdfExporter  *export.PDFExporter
	queue        *jobs.Queue
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewReportService constructs the service; Start must be called before
// reports can be queued.
func NewReportService(repo reportRepository, observations reportObservationSource, corrections reportCorrectionSource, guard *ReviewGuard, store *storage.LocalStorage, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger, queueCfg jobs.QueueConfig) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReportService{
		repo:         repo,
		observations: observations,
		corrections:  corrections,
		guard:        guard,
		store:        store,
		signer:       signer,
		csvExporter:  export.NewCSVExporter(),
		pdfExporter:  export.NewPDFExporter(),
		validator:    validate,
		logger:       logger,
	}
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue("reports", s.process, queueCfg)
	return s
}

// Start launches the report workers.
func (s *ReportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the report workers.
func (s *ReportService) Stop() {
	s.queue.Stop()
}

// Enqueue validates and persists a report job and pushes it to the workers.
func (s *ReportService) Enqueue(ctx context.Context, req ReportRequest, actor models.Actor) (*models.ReportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	project, err := s.guard.ResolveProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectMember(project, actor); err != nil {
		return nil, err
	}

	job := &models.ReportJob{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Params:    models.ReportJobParams{ProjectID: req.ProjectID, Format: req.Format},
		Status:    models.ReportStatusQueued,
		CreatedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist report job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type), Payload: job.ID}); err != nil {
		now := time.Now().UTC()
		if markErr := s.repo.MarkFailed(ctx, job.ID, "queue unavailable", now); markErr != nil {
			s.logger.Warn("failed to mark report failed", zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue report job")
	}

	s.logger.Info("report queued",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("project_id", req.ProjectID))
	return job, nil
}

// Status returns the current job state. Only the requester (or an admin)
// may poll a job.
func (s *ReportService) Status(ctx context.Context, jobID string, actor models.Actor) (*models.ReportJob, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.CreatedBy != actor.ID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report job belongs to another user")
	}
	return job, nil
}

// ResolveDownload validates a signed token and returns the stored file path.
func (s *ReportService) ResolveDownload(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	return s.store.Path(relPath), nil
}

func (s *ReportService) process(ctx context.Context, job jobs.Job) error {
	jobID, _ := job.Payload.(string)
	if jobID == "" {
		jobID = job.ID
	}

	stored, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load report job %s: %w", jobID, err)
	}
	if err := s.repo.MarkProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("mark processing %s: %w", jobID, err)
	}

	data, err := s.buildDataset(ctx, stored)
	if err != nil {
		s.fail(ctx, jobID, err)
		return nil
	}

	var payload []byte
	ext := string(stored.Params.Format)
	switch stored.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csvExporter.Render(data)
	case models.ReportFormatPDF:
		payload, err = s.pdfExporter.Render(data, reportTitle(stored.Type), fmt.Sprintf("Project %s", stored.Params.ProjectID))
	default:
		err = fmt.Errorf("unsupported format %q", stored.Params.Format)
	}
	if err != nil {
		s.fail(ctx, jobID, err)
		return nil
	}

	relPath := fmt.Sprintf("reports/%s/%s.%s", stored.Params.ProjectID, jobID, ext)
	if _, err := s.store.Save(relPath, payload); err != nil {
		s.fail(ctx, jobID, err)
		return nil
	}

	token, _, err := s.signer.Generate(jobID, relPath)
	if err != nil {
		s.fail(ctx, jobID, err)
		return nil
	}

	now := time.Now().UTC()
	if err := s.repo.MarkFinished(ctx, jobID, token, now); err != nil {
		return fmt.Errorf("mark finished %s: %w", jobID, err)
	}
	s.logger.Info("report finished", zap.String("job_id", jobID), zap.String("path", relPath))
	return nil
}

func (s *ReportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, error) {
	observations, err := s.listAllObservations(ctx, job.Params.ProjectID)
	if err != nil {
		return export.Dataset{}, err
	}

	switch job.Type {
	case models.ReportTypeReviewStatus:
		headers := []string{"Observation", "Title", "Status", "Pages", "Archived", "Verified At"}
		rows := make([]map[string]string, 0, len(observations))
		for _, o := range observations {
			verifiedAt := ""
			if o.VerifiedAt != nil {
				verifiedAt = o.VerifiedAt.Format(time.RFC3339)
			}
			rows = append(rows, map[string]string{
				"Observation": o.ID,
				"Title":       o.Title,
				"Status":      string(o.Status),
				"Pages":       fmt.Sprintf("%d-%d", o.PageStart, o.PageEnd),
				"Archived":    strconv.FormatBool(o.Archived),
				"Verified At": verifiedAt,
			})
		}
		return export.Dataset{Headers: headers, Rows: rows}, nil
	case models.ReportTypeCorrections:
		headers := []string{"Observation", "Correction", "Title", "Active", "Pages", "Submitted At"}
		var rows []map[string]string
		for _, o := range observations {
			corrections, err := s.corrections.ListByObservation(ctx, o.ID)
			if err != nil {
				return export.Dataset{}, fmt.Errorf("list corrections for %s: %w", o.ID, err)
			}
			for _, c := range corrections {
				rows = append(rows, map[string]string{
					"Observation":  o.ID,
					"Correction":   c.ID,
					"Title":        c.Title,
					"Active":       strconv.FormatBool(c.Active()),
					"Pages":        fmt.Sprintf("%d-%d", c.PageStart, c.PageEnd),
					"Submitted At": c.CreatedAt.Format(time.RFC3339),
				})
			}
		}
		return export.Dataset{Headers: headers, Rows: rows}, nil
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %q", job.Type)
	}
}

// listAllObservations pages through the project's observations until the
// reported total is exhausted, so an export always covers the full project.
func (s *ReportService) listAllObservations(ctx context.Context, projectID string) ([]models.Observation, error) {
	filter := models.ObservationFilter{
		ProjectID:       projectID,
		IncludeArchived: true,
		Page:            1,
		PageSize:        200,
	}
	var observations []models.Observation
	for {
		batch, total, err := s.observations.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list observations page %d: %w", filter.Page, err)
		}
		observations = append(observations, batch...)
		if len(batch) == 0 || len(observations) >= total {
			return observations, nil
		}
		filter.Page++
	}
}

func (s *ReportService) fail(ctx context.Context, jobID string, cause error) {
	s.logger.Error("report failed", zap.String("job_id", jobID), zap.Error(cause))
	if err := s.repo.MarkFailed(ctx, jobID, cause.Error(), time.Now().UTC()); err != nil {
		s.logger.Warn("failed to mark report failed", zap.Error(err))
	}
}

func reportTitle(t models.ReportType) string {
	switch t {
	case models.ReportTypeReviewStatus:
		return "Review Status Report"
	case models.ReportTypeCorrections:
		return "Corrections Report"
	default:
		return "Report"
	}
}
