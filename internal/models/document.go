package models

import "time"

// Document is an immutable uploaded artifact. Version numbers are scoped to
// the owning project, strictly increasing and assigned at upload time;
// re-uploads create new rows, never edits.
type Document struct {
	ID         string    `db:"id" json:"id"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	Version    int       `db:"version" json:"version"`
	Filename   string    `db:"filename" json:"filename"`
	FilePath   string    `db:"file_path" json:"-"`
	SizeBytes  int64     `db:"size_bytes" json:"size_bytes"`
	UploadedBy string    `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
