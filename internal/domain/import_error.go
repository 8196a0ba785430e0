package domain

import "time"

// ErrorType classifies a row-level import failure.
type ErrorType string

const (
	ErrorTypeParse          ErrorType = "parse_error"
	ErrorTypeInvalidFormat  ErrorType = "invalid_format"
	ErrorTypeMissingField   ErrorType = "missing_field"
	ErrorTypeDuplicateEntry ErrorType = "duplicate_entry"
	ErrorTypeInvalidNumber  ErrorType = "invalid_number"
	ErrorTypeEncoding       ErrorType = "encoding_error"
	ErrorTypeOther          ErrorType = "other"
)

// ImportError records one row that failed parsing or validation. Records are
// never mutated; a batch re-run drops its range's records and writes fresh
// ones, and job deletion removes the rest.
type ImportError struct {
	ID    uint `gorm:"primaryKey" json:"id"`
	JobID uint `gorm:"not null;index" json:"job_id"`

	// RowNumber is 1-based in the source file; nil when the failure is not
	// line-addressable.
	RowNumber *int64 `json:"row_number"`

	ErrorType    ErrorType `gorm:"type:varchar(24);not null" json:"error_type"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	RawData      string    `gorm:"type:text" json:"raw_data"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ImportError.
func (ImportError) TableName() string {
	return "import_errors"
}
