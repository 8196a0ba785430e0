package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/caiosb/votedata/internal/config"
	"github.com/caiosb/votedata/internal/logger"
	"github.com/caiosb/votedata/internal/storage"
)

// groupNamePattern matches the only directory names the custodian manages:
// per-job download directories and the shared upload bucket. Anything else
// under the temp roots is not ours to touch.
var groupNamePattern = regexp.MustCompile(`^(uploads|job_\d+)$`)

// ErrUnknownGroup is returned for a reclaim request naming a group the
// custodian does not manage.
var ErrUnknownGroup = fmt.Errorf("unknown file group")

// FileInfo describes one file inside a managed group.
type FileInfo struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// FileGroup is one reclaimable unit of disk space: a per-job download
// directory or the shared upload bucket.
type FileGroup struct {
	Name       string     `json:"name"`
	TotalBytes int64      `json:"total_bytes"`
	Files      []FileInfo `json:"files"`
}

// Custodian inventories and reclaims the pipeline's temp files. Deletion is
// always operator-initiated; processing never removes what it downloaded or
// extracted, so failed runs stay inspectable.
type Custodian struct {
	cfg     *config.ImporterConfig
	archive storage.ObjectStorage // nil disables archival
	logger  *logger.Logger
}

// NewCustodian creates the custodian. archive may be nil; when set, raw
// artifacts are copied to object storage before local deletion.
func NewCustodian(cfg *config.ImporterConfig, archive storage.ObjectStorage, log *logger.Logger) *Custodian {
	return &Custodian{cfg: cfg, archive: archive, logger: log}
}

// List returns every managed group with its files and sizes, grouped the way
// Delete reclaims them. Groups are sorted by name for stable output.
func (c *Custodian) List() ([]FileGroup, error) {
	var groups []FileGroup

	entries, err := os.ReadDir(c.cfg.DownloadDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read download directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !groupNamePattern.MatchString(e.Name()) {
			continue
		}
		g, err := c.readGroup(e.Name(), filepath.Join(c.cfg.DownloadDir, e.Name()))
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	if _, err := os.Stat(c.cfg.UploadDir); err == nil {
		g, err := c.readGroup("uploads", c.cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (c *Custodian) readGroup(name, dir string) (FileGroup, error) {
	g := FileGroup{Name: name, Files: []FileInfo{}}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		g.Files = append(g.Files, FileInfo{
			Name:       d.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		g.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return g, fmt.Errorf("failed to inventory %s: %w", name, err)
	}
	return g, nil
}

// Delete reclaims one group's disk space. With archival configured, every
// file is copied to object storage first; an archival failure aborts the
// deletion so no bytes are lost.
func (c *Custodian) Delete(ctx context.Context, name string) error {
	if !groupNamePattern.MatchString(name) {
		return ErrUnknownGroup
	}

	dir := filepath.Join(c.cfg.DownloadDir, name)
	if name == "uploads" {
		dir = c.cfg.UploadDir
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrUnknownGroup
	}

	if c.archive != nil {
		if err := c.archiveGroup(ctx, name, dir); err != nil {
			return fmt.Errorf("archival failed, keeping local files: %w", err)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	c.logger.WithField("group", name).Info("File group reclaimed")
	return nil
}

func (c *Custodian) archiveGroup(ctx context.Context, name, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		key := name + "/" + d.Name()
		if err := c.archive.Upload(ctx, key, f, info.Size(), "application/octet-stream"); err != nil {
			return fmt.Errorf("failed to archive %s: %w", key, err)
		}
		c.logger.WithFields(logger.Fields{"group": name, "key": key}).Info("Artifact archived")
		return nil
	})
}
