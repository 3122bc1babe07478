package models

import "time"

// Correction is a student-authored remediation of one observation, anchored
// to a region of a document version that is the same as or later than the
// version the observation was raised against. A rejected correction is kept
// as history: SupersededAt is stamped and the observation's active link is
// cleared, so resubmission inserts a fresh row.
type Correction struct {
	ID              string     `db:"id" json:"id"`
	ObservationID   string     `db:"observation_id" json:"observation_id"`
	DocumentID      string     `db:"document_id" json:"document_id"`
	StudentID       string     `db:"student_id" json:"student_id"`
	Title           string     `db:"title" json:"title"`
	DescriptionHTML string     `db:"description_html" json:"description_html"`
	AnchorRect      `json:"rect"`
	PageStart       int        `db:"page_start" json:"page_start"`
	PageEnd         int        `db:"page_end" json:"page_end"`
	Color           string     `db:"color" json:"color"`
	SupersededAt    *time.Time `db:"superseded_at" json:"superseded_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether this correction is still the observation's live
// correction (not yet superseded by a rejection).
func (c *Correction) Active() bool {
	return c.SupersededAt == nil
}
