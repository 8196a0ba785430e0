package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caiosb/votedata/internal/config"
)

func newTestCustodian(t *testing.T) (*Custodian, string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.ImporterConfig{
		DownloadDir: filepath.Join(dir, "imports"),
		UploadDir:   filepath.Join(dir, "uploads"),
	}
	return NewCustodian(cfg, nil, testLogger()), cfg.DownloadDir, cfg.UploadDir
}

func seedFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

func TestCustodianList(t *testing.T) {
	c, downloads, uploads := newTestCustodian(t)
	seedFile(t, filepath.Join(downloads, "job_3"), "votacao.zip", "0123456789")
	seedFile(t, filepath.Join(downloads, "job_3"), "votacao.csv", "01234")
	seedFile(t, filepath.Join(downloads, "job_12"), "other.csv", "012")
	seedFile(t, uploads, "ab12cd34_manual.csv", "0123")
	// A stray directory the custodian does not manage.
	seedFile(t, filepath.Join(downloads, "scratch"), "junk.bin", "xxxx")

	groups, err := c.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3 (job_12, job_3, uploads)", len(groups))
	}
	if groups[0].Name != "job_12" || groups[1].Name != "job_3" || groups[2].Name != "uploads" {
		t.Errorf("group order = [%s %s %s]", groups[0].Name, groups[1].Name, groups[2].Name)
	}

	job3 := groups[1]
	if len(job3.Files) != 2 {
		t.Errorf("job_3 files = %d, want 2", len(job3.Files))
	}
	if job3.TotalBytes != 15 {
		t.Errorf("job_3 total bytes = %d, want 15", job3.TotalBytes)
	}
	for _, f := range job3.Files {
		if f.ModifiedAt.IsZero() || time.Since(f.ModifiedAt) > time.Minute {
			t.Errorf("file %s has an implausible mtime %v", f.Name, f.ModifiedAt)
		}
	}
}

func TestCustodianListEmpty(t *testing.T) {
	c, _, _ := newTestCustodian(t)
	groups, err := c.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups = %d, want 0 before any import", len(groups))
	}
}

func TestCustodianDelete(t *testing.T) {
	c, downloads, uploads := newTestCustodian(t)
	seedFile(t, filepath.Join(downloads, "job_7"), "votacao.csv", "data")
	seedFile(t, uploads, "manual.csv", "data")

	if err := c.Delete(context.Background(), "job_7"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(downloads, "job_7")); !os.IsNotExist(err) {
		t.Error("job_7 directory still exists")
	}

	// The upload bucket is untouched until reclaimed by name.
	if _, err := os.Stat(filepath.Join(uploads, "manual.csv")); err != nil {
		t.Errorf("uploads were touched by an unrelated delete: %v", err)
	}
	if err := c.Delete(context.Background(), "uploads"); err != nil {
		t.Fatalf("delete uploads failed: %v", err)
	}
	if _, err := os.Stat(uploads); !os.IsNotExist(err) {
		t.Error("uploads directory still exists")
	}
}

func TestCustodianDeleteRejectsUnknownNames(t *testing.T) {
	c, downloads, _ := newTestCustodian(t)
	seedFile(t, filepath.Join(downloads, "job_1"), "a.csv", "data")

	tests := []string{
		"job_999",       // managed shape, never created
		"scratch",       // not a managed name
		"..",            // traversal
		"../job_1",      // traversal
		"job_1/../..",   // traversal
		"job_abc",       // malformed id
	}
	for _, name := range tests {
		if err := c.Delete(context.Background(), name); err == nil {
			t.Errorf("Delete(%q) succeeded, want rejection", name)
		}
	}

	// The legitimate group survived all of it.
	if _, err := os.Stat(filepath.Join(downloads, "job_1")); err != nil {
		t.Errorf("job_1 was removed by a rejected delete: %v", err)
	}
}
