package domain

import "time"

// Progress metrics are derived at read time from persisted counters and
// timestamps; nothing here is stored, so the numbers cannot drift from the
// counters they are computed from.

// Progress is a point-in-time view of a job's advancement.
type Progress struct {
	Percent       float64 `json:"percent"`
	Indeterminate bool    `json:"indeterminate"`
	RowsPerSecond float64 `json:"rows_per_second"`
	// ETASeconds is nil while no speed can be computed yet.
	ETASeconds *int64 `json:"eta_seconds"`
}

// ProgressAt computes the job's progress as observed at now.
func (j *ImportJob) ProgressAt(now time.Time) Progress {
	var p Progress

	switch j.Status {
	case JobStatusDownloading:
		if j.FileSize > 0 {
			p.Percent = float64(j.DownloadedBytes) / float64(j.FileSize) * 100
		} else {
			// No Content-Length from the source.
			p.Indeterminate = true
		}
		return p
	case JobStatusExtracting:
		// No byte granularity during decompression.
		p.Indeterminate = true
		return p
	case JobStatusCompleted:
		p.Percent = 100
	}

	if j.TotalRows == nil {
		p.Indeterminate = j.Status == JobStatusRunning
		return p
	}

	total := *j.TotalRows
	done := j.ProcessedRows + j.SkippedRows
	if total > 0 && j.Status != JobStatusCompleted {
		p.Percent = float64(done) / float64(total) * 100
	}

	if j.StartedAt == nil {
		return p
	}
	elapsed := now.Sub(*j.StartedAt).Seconds()
	if elapsed <= 0 {
		return p
	}
	p.RowsPerSecond = float64(done) / elapsed

	// ETA is unavailable rather than a division by zero at the very start.
	if j.Status == JobStatusRunning && p.RowsPerSecond > 0 {
		remaining := total - done
		if remaining < 0 {
			remaining = 0
		}
		eta := int64(float64(remaining) / p.RowsPerSecond)
		p.ETASeconds = &eta
	}
	return p
}
