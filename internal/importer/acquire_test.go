package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caiosb/votedata/internal/domain"
)

// zipArchive builds an in-memory ZIP holding the given name -> content entries.
func zipArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func serveBytes(t *testing.T, path string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (e *testEnv) waitStatus(t *testing.T, id uint, want domain.JobStatus) *domain.ImportJob {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		job, err := e.svc.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("failed to poll job %d: %v", id, err)
		}
		if job.Status == want {
			return job
		}
		if domain.IsTerminal(job.Status) {
			t.Fatalf("job %d finished as %s (%s) while waiting for %s",
				id, job.Status, job.ValidationMessage, want)
		}
		select {
		case <-deadline:
			t.Fatalf("job %d stuck in %s, want %s", id, job.Status, want)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestURLImportSingleFileArchive(t *testing.T) {
	env := newTestEnv(t, 20)
	archive := zipArchive(t, map[string]string{
		"votacao_sp.csv": resultsCSV(50),
		"leiame.pdf":     "not a result file",
	})
	srv := serveBytes(t, "/exports/votacao.zip", archive)

	job, err := env.svc.SubmitURL(context.Background(), srv.URL+"/exports/votacao.zip", 2022, "SP", "11")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.SourceType != domain.SourceTypeURL {
		t.Errorf("source type = %s, want url", job.SourceType)
	}

	job = env.waitTerminal(t, job.ID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s (%s), want completed", job.Status, job.ValidationMessage)
	}
	if job.ProcessedRows != 50 {
		t.Errorf("processed = %d, want 50", job.ProcessedRows)
	}
	if job.Filename != "votacao_sp.csv" {
		t.Errorf("filename = %q, want the extracted CSV name", job.Filename)
	}
	if job.FileSize != int64(len(archive)) {
		t.Errorf("file size = %d, want %d from Content-Length", job.FileSize, len(archive))
	}
	if job.DownloadedBytes != int64(len(archive)) {
		t.Errorf("downloaded bytes = %d, want %d", job.DownloadedBytes, len(archive))
	}
}

func TestURLImportMultiFileArchiveAwaitsSelection(t *testing.T) {
	env := newTestEnv(t, 20)
	archive := zipArchive(t, map[string]string{
		"votacao_sp.csv": resultsCSV(10),
		"votacao_rj.csv": resultsCSV(10),
	})
	srv := serveBytes(t, "/votacao.zip", archive)

	job, err := env.svc.SubmitURL(context.Background(), srv.URL+"/votacao.zip", 2022, "SP", "11")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	job = env.waitStatus(t, job.ID, domain.JobStatusAwaitingSelection)
	if len(job.ExtractedFiles) != 2 {
		t.Fatalf("extracted files = %v, want 2 candidates", job.ExtractedFiles)
	}

	// Selecting a name outside the candidates is rejected.
	if _, err := env.svc.SelectFile(context.Background(), job.ID, "nonexistent.csv", false); err != ErrUnknownFile {
		t.Errorf("unknown selection error = %v, want ErrUnknownFile", err)
	}

	jobs, err := env.svc.SelectFile(context.Background(), job.ID, job.ExtractedFiles[0], false)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("selection returned %d jobs, want 1", len(jobs))
	}

	done := env.waitTerminal(t, job.ID)
	if done.Status != domain.JobStatusCompleted {
		t.Fatalf("status after selection = %s (%s), want completed", done.Status, done.ValidationMessage)
	}
	if done.ProcessedRows != 10 {
		t.Errorf("processed = %d, want 10", done.ProcessedRows)
	}
}

func TestSelectAllFansOutSiblingJobs(t *testing.T) {
	env := newTestEnv(t, 20)
	archive := zipArchive(t, map[string]string{
		"votacao_a.csv": resultsCSV(10),
		"votacao_b.csv": resultsCSV(10),
		"votacao_c.csv": resultsCSV(10),
	})
	srv := serveBytes(t, "/votacao.zip", archive)

	job, err := env.svc.SubmitURL(context.Background(), srv.URL+"/votacao.zip", 2022, "SP", "11")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	env.waitStatus(t, job.ID, domain.JobStatusAwaitingSelection)

	jobs, err := env.svc.SelectFile(context.Background(), job.ID, "", true)
	if err != nil {
		t.Fatalf("select all failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("fan-out produced %d jobs, want 3", len(jobs))
	}

	// Identical row content: the first job inserts, the siblings dedup.
	var inserted, skipped int64
	for _, j := range jobs {
		final := env.waitTerminal(t, j.ID)
		if final.Status != domain.JobStatusCompleted {
			t.Fatalf("job %d status = %s (%s), want completed", j.ID, final.Status, final.ValidationMessage)
		}
		inserted += final.ProcessedRows
		skipped += final.SkippedRows
	}
	if inserted != 10 || skipped != 20 {
		t.Errorf("fan-out counters: inserted=%d skipped=%d, want 10 and 20", inserted, skipped)
	}
}

func TestURLImportHTTPErrorFailsJob(t *testing.T) {
	env := newTestEnv(t, 20)
	srv := serveBytes(t, "/exists.zip", []byte("x"))

	job, err := env.svc.SubmitURL(context.Background(), srv.URL+"/missing.zip", 2022, "SP", "11")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	job = env.waitTerminal(t, job.ID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed on HTTP 404", job.Status)
	}
	if job.ValidationMessage == "" {
		t.Error("expected the failure cause to be recorded")
	}
	if !job.CanRestart() {
		t.Error("a failed URL job must be restartable")
	}
}

func TestCorruptArchiveFailsJob(t *testing.T) {
	env := newTestEnv(t, 20)
	srv := serveBytes(t, "/corrupt.zip", []byte("this is not a zip archive"))

	job, err := env.svc.SubmitURL(context.Background(), srv.URL+"/corrupt.zip", 2022, "SP", "11")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	job = env.waitTerminal(t, job.ID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed on a corrupt archive", job.Status)
	}
}

func TestArchiveWithoutResultFilesFailsJob(t *testing.T) {
	env := newTestEnv(t, 20)
	archive := zipArchive(t, map[string]string{"leiame.txt": "no csv here"})
	srv := serveBytes(t, "/empty.zip", archive)

	job, err := env.svc.SubmitURL(context.Background(), srv.URL+"/empty.zip", 2022, "SP", "11")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	job = env.waitTerminal(t, job.ID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed when the archive has no result file", job.Status)
	}
}

func TestRestartAfterFailureSucceeds(t *testing.T) {
	env := newTestEnv(t, 20)
	archive := zipArchive(t, map[string]string{"votacao.csv": resultsCSV(15)})

	// First attempt 404s, then the file appears.
	var available atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !available.Load() {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	job, err := env.svc.SubmitURL(context.Background(), srv.URL+"/votacao.zip", 2022, "SP", "11")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	job = env.waitTerminal(t, job.ID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}

	available.Store(true)
	if _, err := env.svc.RestartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	job = env.waitTerminal(t, job.ID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status after restart = %s (%s), want completed", job.Status, job.ValidationMessage)
	}
	if job.ProcessedRows != 15 {
		t.Errorf("processed = %d, want 15", job.ProcessedRows)
	}
}
