package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{name: "pending to downloading", from: JobStatusPending, to: JobStatusDownloading, allowed: true},
		{name: "pending to running skips download for uploads", from: JobStatusPending, to: JobStatusRunning, allowed: true},
		{name: "downloading to extracting", from: JobStatusDownloading, to: JobStatusExtracting, allowed: true},
		{name: "extracting to awaiting selection", from: JobStatusExtracting, to: JobStatusAwaitingSelection, allowed: true},
		{name: "awaiting selection to running", from: JobStatusAwaitingSelection, to: JobStatusRunning, allowed: true},
		{name: "running to completed", from: JobStatusRunning, to: JobStatusCompleted, allowed: true},
		{name: "running to failed", from: JobStatusRunning, to: JobStatusFailed, allowed: true},
		{name: "failed to pending is restart", from: JobStatusFailed, to: JobStatusPending, allowed: true},
		{name: "cancelled to pending is restart", from: JobStatusCancelled, to: JobStatusPending, allowed: true},
		{name: "cancel while pending", from: JobStatusPending, to: JobStatusCancelled, allowed: true},
		{name: "cancel while downloading", from: JobStatusDownloading, to: JobStatusCancelled, allowed: true},
		{name: "cancel while running", from: JobStatusRunning, to: JobStatusCancelled, allowed: true},
		{name: "cancel while awaiting selection", from: JobStatusAwaitingSelection, to: JobStatusCancelled, allowed: true},
		{name: "cannot cancel completed", from: JobStatusCompleted, to: JobStatusCancelled, allowed: false},
		{name: "cannot cancel failed", from: JobStatusFailed, to: JobStatusCancelled, allowed: false},
		{name: "cannot cancel cancelled", from: JobStatusCancelled, to: JobStatusCancelled, allowed: false},
		{name: "completed is terminal", from: JobStatusCompleted, to: JobStatusPending, allowed: false},
		{name: "completed cannot rerun", from: JobStatusCompleted, to: JobStatusRunning, allowed: false},
		{name: "running cannot go back to pending", from: JobStatusRunning, to: JobStatusPending, allowed: false},
		{name: "downloading cannot skip to completed", from: JobStatusDownloading, to: JobStatusCompleted, allowed: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.allowed {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	active := []JobStatus{JobStatusPending, JobStatusDownloading, JobStatusExtracting, JobStatusAwaitingSelection, JobStatusRunning}

	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range active {
		if IsTerminal(s) {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestCanRestart(t *testing.T) {
	tests := []struct {
		name   string
		job    ImportJob
		expect bool
	}{
		{
			name:   "failed url job",
			job:    ImportJob{SourceType: SourceTypeURL, Status: JobStatusFailed},
			expect: true,
		},
		{
			name:   "cancelled url job",
			job:    ImportJob{SourceType: SourceTypeURL, Status: JobStatusCancelled},
			expect: true,
		},
		{
			name:   "failed upload job",
			job:    ImportJob{SourceType: SourceTypeUpload, Status: JobStatusFailed},
			expect: false,
		},
		{
			name:   "completed url job",
			job:    ImportJob{SourceType: SourceTypeURL, Status: JobStatusCompleted},
			expect: false,
		},
		{
			name:   "running url job",
			job:    ImportJob{SourceType: SourceTypeURL, Status: JobStatusRunning},
			expect: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.CanRestart(); got != tc.expect {
				t.Errorf("CanRestart() = %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestIsPureReimport(t *testing.T) {
	total := int64(1000)
	zero := int64(0)

	tests := []struct {
		name   string
		job    ImportJob
		expect bool
	}{
		{
			name: "everything skipped",
			job: ImportJob{
				Status: JobStatusCompleted, TotalRows: &total,
				ProcessedRows: 0, SkippedRows: 1000,
			},
			expect: true,
		},
		{
			name: "normal import",
			job: ImportJob{
				Status: JobStatusCompleted, TotalRows: &total,
				ProcessedRows: 1000, SkippedRows: 0,
			},
			expect: false,
		},
		{
			name: "partial overlap",
			job: ImportJob{
				Status: JobStatusCompleted, TotalRows: &total,
				ProcessedRows: 400, SkippedRows: 600,
			},
			expect: false,
		},
		{
			name: "empty file is not a re-import",
			job: ImportJob{
				Status: JobStatusCompleted, TotalRows: &zero,
			},
			expect: false,
		},
		{
			name: "not completed",
			job: ImportJob{
				Status: JobStatusRunning, TotalRows: &total,
				SkippedRows: 1000,
			},
			expect: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.IsPureReimport(); got != tc.expect {
				t.Errorf("IsPureReimport() = %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestProgressAt(t *testing.T) {
	now := time.Now()
	started := now.Add(-10 * time.Second)
	total := int64(1000)

	t.Run("downloading with known size", func(t *testing.T) {
		job := ImportJob{Status: JobStatusDownloading, FileSize: 200, DownloadedBytes: 50}
		p := job.ProgressAt(now)
		if p.Indeterminate {
			t.Fatal("expected determinate progress")
		}
		if p.Percent != 25 {
			t.Errorf("percent = %v, want 25", p.Percent)
		}
	})

	t.Run("downloading with unknown size", func(t *testing.T) {
		job := ImportJob{Status: JobStatusDownloading, DownloadedBytes: 50}
		p := job.ProgressAt(now)
		if !p.Indeterminate {
			t.Error("expected indeterminate progress without a content length")
		}
	})

	t.Run("extracting is indeterminate", func(t *testing.T) {
		job := ImportJob{Status: JobStatusExtracting}
		if p := job.ProgressAt(now); !p.Indeterminate {
			t.Error("expected indeterminate progress while extracting")
		}
	})

	t.Run("running reports rows and eta", func(t *testing.T) {
		job := ImportJob{
			Status: JobStatusRunning, TotalRows: &total,
			ProcessedRows: 400, SkippedRows: 100,
			StartedAt: &started,
		}
		p := job.ProgressAt(now)
		if p.Indeterminate {
			t.Fatal("expected determinate progress")
		}
		if p.Percent != 50 {
			t.Errorf("percent = %v, want 50", p.Percent)
		}
		if p.RowsPerSecond != 50 {
			t.Errorf("rows per second = %v, want 50", p.RowsPerSecond)
		}
		if p.ETASeconds == nil {
			t.Fatal("expected an ETA")
		}
		if *p.ETASeconds != 10 {
			t.Errorf("eta = %d, want 10", *p.ETASeconds)
		}
	})

	t.Run("zero speed has no eta", func(t *testing.T) {
		job := ImportJob{
			Status: JobStatusRunning, TotalRows: &total,
			StartedAt: &started,
		}
		p := job.ProgressAt(now)
		if p.ETASeconds != nil {
			t.Errorf("expected nil ETA at zero speed, got %d", *p.ETASeconds)
		}
	})
}
