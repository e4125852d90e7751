package models

import (
	"time"

	"github.com/google/uuid"
)

// Report binds a saved query to a default parameter set and output format.
// Schedules reference reports; executing one produces an artifact in the
// requested format.
type Report struct {
	ID         uuid.UUID      `json:"id"`
	QueryID    uuid.UUID      `json:"query_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Format     string         `json:"format"` // json or csv
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Artifact is the produced output of a report run.
type Artifact struct {
	ReportID    uuid.UUID `json:"report_id"`
	Name        string    `json:"name"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	Content     []byte    `json:"content"`
	RowCount    int       `json:"row_count"`
	GeneratedAt time.Time `json:"generated_at"`
}
