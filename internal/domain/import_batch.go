package domain

import "time"

// BatchStatus represents the state of one batch unit.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// ImportBatch is a contiguous half-open row range [RowStart, RowEnd) of a
// job's source, processed and accounted for as one unit. Ranges of a job are
// contiguous and non-overlapping; their union covers [0, TotalRows).
type ImportBatch struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	JobID      uint `gorm:"not null;index" json:"job_id"`
	BatchIndex int  `gorm:"not null" json:"batch_index"`

	RowStart  int64 `gorm:"not null" json:"row_start"`
	RowEnd    int64 `gorm:"not null" json:"row_end"`
	TotalRows int64 `gorm:"not null" json:"total_rows"`

	Status        BatchStatus `gorm:"type:varchar(16);default:pending" json:"status"`
	ProcessedRows int64       `gorm:"default:0" json:"processed_rows"`
	InsertedRows  int64       `gorm:"default:0" json:"inserted_rows"`
	SkippedRows   int64       `gorm:"default:0" json:"skipped_rows"`
	ErrorCount    int64       `gorm:"default:0" json:"error_count"`
	ErrorSummary  string      `gorm:"type:text" json:"error_summary,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImportBatch.
func (ImportBatch) TableName() string {
	return "import_batches"
}

// ResetForReprocess zeroes the unit's counters ahead of an isolated re-run.
func (b *ImportBatch) ResetForReprocess() {
	b.Status = BatchStatusProcessing
	b.ProcessedRows = 0
	b.InsertedRows = 0
	b.SkippedRows = 0
	b.ErrorCount = 0
	b.ErrorSummary = ""
	b.StartedAt = nil
	b.CompletedAt = nil
}
