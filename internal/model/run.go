package model

import "time"

// Stage is a warehouse promotion stage.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageStaging    Stage = "staging"
	StageProduction Stage = "production"
)

// RunStatus represents the state of one stage execution.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunEntry is one row of the warehouse run log.
type RunEntry struct {
	ID            string     `json:"id"`
	Source        Source     `json:"source"`
	Kind          Kind       `json:"kind"`
	Stage         Stage      `json:"stage"`
	ExtractedDate *time.Time `json:"extracted_date,omitempty"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RowsAffected  int64      `json:"rows_affected"`
	Error         string     `json:"error,omitempty"`
}
