// Package models - report.go defines inspection reports and the media files attached to them.
package models

import "time"

// Report represents an inspection report filed against a site
type Report struct {
	ID          string    `db:"id" json:"id"`
	TeamID      string    `db:"team_id" json:"team_id"`
	SiteID      string    `db:"site_id" json:"site_id"`
	SubmittedBy string    `db:"submitted_by" json:"submitted_by"`
	Title       string    `db:"title" json:"title"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	EditCount   int       `db:"edit_count" json:"edit_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ReportPatch carries a partial report update
type ReportPatch struct {
	Title *string `json:"title"`
	Notes *string `json:"notes"`
}

// Empty reports whether the patch changes nothing
func (p ReportPatch) Empty() bool {
	return p.Title == nil && p.Notes == nil
}

// ReportMedia is a file stored in the media backend and attached to a report
type ReportMedia struct {
	ID          string    `db:"id" json:"id"`
	ReportID    string    `db:"report_id" json:"report_id"`
	TeamID      string    `db:"team_id" json:"team_id"`
	StoragePath string    `db:"storage_path" json:"-"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	Checksum    string    `db:"checksum" json:"checksum"`
	UploadedBy  string    `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	URL         string    `db:"-" json:"url,omitempty"`
}
