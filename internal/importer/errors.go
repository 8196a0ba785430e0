package importer

import "errors"

// Operator-action and admission errors. Handlers map these onto specific
// HTTP statuses so the operator layer can present a concrete remedy.
var (
	// ErrAlreadyImported rejects a submission whose filter tuple
	// (year, region, cargo) already has a completed job.
	ErrAlreadyImported = errors.New("a completed import already exists for this year, region and cargo")

	// ErrImportInProgress rejects a submission whose filter tuple is already
	// queued or actively processing.
	ErrImportInProgress = errors.New("an import for this year, region and cargo is already in progress")

	// ErrInvalidState rejects cancel/restart/reprocess/select/delete actions
	// invoked on a job or batch in the wrong state.
	ErrInvalidState = errors.New("action not allowed in the current state")

	// ErrNotRestartable rejects restart of upload-sourced jobs, whose raw
	// bytes are not retained.
	ErrNotRestartable = errors.New("only url-sourced jobs can be restarted")

	// ErrNoMatchingFile is the job-level failure for archives without any
	// result CSV.
	ErrNoMatchingFile = errors.New("no result csv found in archive")

	// ErrUnknownFile rejects a file selection that is not part of the
	// archive's extracted file list.
	ErrUnknownFile = errors.New("file is not part of this archive")

	// ErrSourceFileGone rejects reprocessing when the job's extracted CSV no
	// longer exists on disk (reclaimed by the file custodian).
	ErrSourceFileGone = errors.New("source file no longer available; restart the job instead")
)
