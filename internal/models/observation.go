package models

import "time"

// ObservationStatus enumerates the stored review-cycle states. A rejection
// is not a stored state: verifying with DecisionRechazado returns the row to
// StatusPendiente while retaining the verification comment.
type ObservationStatus string

const (
	StatusPendiente  ObservationStatus = "PENDIENTE"
	StatusEnRevision ObservationStatus = "EN_REVISION"
	StatusCorregido  ObservationStatus = "CORREGIDO"
	StatusAprobado   ObservationStatus = "APROBADO"
)

// VerificationDecision is the advisor's verdict on a corrected observation.
type VerificationDecision string

const (
	DecisionAprobado  VerificationDecision = "APROBADO"
	DecisionRechazado VerificationDecision = "RECHAZADO"
)

// AnchorRect is a rectangular page region expressed as percentages [0,100]
// of the page dimensions.
type AnchorRect struct {
	XStart float64 `db:"x_start" json:"x_start"`
	YStart float64 `db:"y_start" json:"y_start"`
	XEnd   float64 `db:"x_end" json:"x_end"`
	YEnd   float64 `db:"y_end" json:"y_end"`
}

// InBounds reports whether every coordinate lies within [0,100].
func (r AnchorRect) InBounds() bool {
	for _, v := range []float64{r.XStart, r.YStart, r.XEnd, r.YEnd} {
		if v < 0 || v > 100 {
			return false
		}
	}
	return true
}

// Observation is an advisor-authored annotation flagging an issue at a
// rectangular region of a specific document version.
type Observation struct {
	ID                  string            `db:"id" json:"id"`
	DocumentID          string            `db:"document_id" json:"document_id"`
	ProjectID           string            `db:"project_id" json:"project_id"`
	AdvisorID           string            `db:"advisor_id" json:"advisor_id"`
	Title               string            `db:"title" json:"title"`
	ContentHTML         string            `db:"content_html" json:"content_html"`
	AnchorRect          `json:"rect"`
	PageStart           int               `db:"page_start" json:"page_start"`
	PageEnd             int               `db:"page_end" json:"page_end"`
	Color               string            `db:"color" json:"color"`
	Status              ObservationStatus `db:"status" json:"status"`
	Archived            bool              `db:"archived" json:"archived"`
	CorrectionID        *string           `db:"correction_id" json:"correction_id,omitempty"`
	VerificationComment *string           `db:"verification_comment" json:"verification_comment,omitempty"`
	VerifiedAt          *time.Time        `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// ObservationFilter scopes observation listings.
type ObservationFilter struct {
	DocumentID      string
	ProjectID       string
	AdvisorID       string
	Statuses        []ObservationStatus
	IncludeArchived bool
	Page            int
	PageSize        int
}

// ReviewSummary aggregates observation status counts for a project.
type ReviewSummary struct {
	ProjectID  string `json:"project_id"`
	Total      int    `json:"total"`
	Pendiente  int    `json:"pendiente"`
	EnRevision int    `json:"en_revision"`
	Corregido  int    `json:"corregido"`
	Aprobado   int    `json:"aprobado"`
	Archived   int    `json:"archived"`
}
