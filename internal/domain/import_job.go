package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of an import job.
//
// The upstream dashboard used "running" and "processing" interchangeably for
// the same state; this enum keeps the single canonical JobStatusRunning.
type JobStatus string

const (
	JobStatusPending           JobStatus = "pending"
	JobStatusDownloading       JobStatus = "downloading"
	JobStatusExtracting        JobStatus = "extracting"
	JobStatusAwaitingSelection JobStatus = "awaiting_selection"
	JobStatusRunning           JobStatus = "running"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusFailed            JobStatus = "failed"
	JobStatusCancelled         JobStatus = "cancelled"
)

// SourceType tells where a job's raw bytes come from.
type SourceType string

const (
	SourceTypeUpload SourceType = "upload"
	SourceTypeURL    SourceType = "url"
)

// ValidationStatus is the outcome of the manual integrity verification.
type ValidationStatus string

const (
	ValidationNotRun ValidationStatus = "not_run"
	ValidationPassed ValidationStatus = "passed"
	ValidationFailed ValidationStatus = "failed"
)

// ErrInvalidTransition is returned when a status change would violate the
// job state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// StringArray stores a string slice as JSON in a text column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// ImportJob represents one requested bulk ingestion of an election data file
// and its progress metadata.
type ImportJob struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	SourceType SourceType `gorm:"type:varchar(16);not null" json:"source_type"`
	Filename   string     `gorm:"type:varchar(512)" json:"filename"`
	SourceURL  string     `gorm:"type:varchar(2048)" json:"source_url,omitempty"`
	FileSize   int64      `gorm:"default:0" json:"file_size"`

	// Ingestion filters. Together they form the natural key used for the
	// "already imported" duplicate-submission check.
	ElectionYear int    `gorm:"index:idx_job_filters" json:"election_year"`
	Region       string `gorm:"type:varchar(2);index:idx_job_filters" json:"region"`
	CargoFilter  string `gorm:"type:varchar(8);index:idx_job_filters" json:"cargo_filter"`

	Status          JobStatus `gorm:"type:varchar(24);default:pending;index" json:"status"`
	DownloadedBytes int64     `gorm:"default:0" json:"downloaded_bytes"`

	// TotalRows is nil until the source has been counted and batched.
	TotalRows     *int64 `json:"total_rows"`
	TotalFileRows int64  `gorm:"default:0" json:"total_file_rows"`
	ProcessedRows int64  `gorm:"default:0" json:"processed_rows"`
	SkippedRows   int64  `gorm:"default:0" json:"skipped_rows"`
	ErrorCount    int64  `gorm:"default:0" json:"error_count"`

	ValidationStatus  ValidationStatus `gorm:"type:varchar(16);default:not_run" json:"validation_status"`
	ValidationMessage string           `gorm:"type:text" json:"validation_message,omitempty"`

	// LocalPath is the CSV the batch processor reads. ExtractedFiles holds
	// the candidate CSVs of a multi-file archive while the job awaits an
	// operator file selection.
	LocalPath      string      `gorm:"type:varchar(1024)" json:"-"`
	ExtractedFiles StringArray `gorm:"type:text" json:"extracted_files,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImportJob.
func (ImportJob) TableName() string {
	return "import_jobs"
}

// jobTransitions encodes the allowed status transitions. Restart
// (failed/cancelled -> pending) is additionally gated on SourceType by
// CanRestart; cancellation from any non-terminal state is handled in
// CanTransition directly.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:           {JobStatusDownloading, JobStatusExtracting, JobStatusRunning, JobStatusFailed},
	JobStatusDownloading:       {JobStatusExtracting, JobStatusRunning, JobStatusFailed},
	JobStatusExtracting:        {JobStatusAwaitingSelection, JobStatusRunning, JobStatusFailed},
	JobStatusAwaitingSelection: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning:           {JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted:         {},
	JobStatusFailed:            {JobStatusPending},
	JobStatusCancelled:         {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	if to == JobStatusCancelled {
		return !IsTerminal(from)
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further processing.
func IsTerminal(s JobStatus) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job currently holds the processing slot.
func (j *ImportJob) IsActive() bool {
	switch j.Status {
	case JobStatusDownloading, JobStatusExtracting, JobStatusRunning:
		return true
	}
	return false
}

// CanRestart reports whether the job may be re-run from acquisition onward.
// Upload-sourced jobs cannot restart: the raw bytes are not retained.
func (j *ImportJob) CanRestart() bool {
	if j.SourceType != SourceTypeURL {
		return false
	}
	return j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// IsPureReimport reports whether the whole source was already present in the
// store: every row deduplicated, none inserted, none failed. Distinct from
// an empty file, where TotalRows is zero.
func (j *ImportJob) IsPureReimport() bool {
	if j.Status != JobStatusCompleted || j.TotalRows == nil || *j.TotalRows == 0 {
		return false
	}
	return j.ProcessedRows == 0 && j.SkippedRows == *j.TotalRows
}
