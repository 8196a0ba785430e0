package importer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caiosb/votedata/internal/domain"
	"github.com/caiosb/votedata/internal/logger"
)

// acquire turns the job's source into a local CSV the batch processor can
// read. URL sources are stream-downloaded first; archives are extracted and
// their result CSVs enumerated. Partial downloads are never resumed; a
// restarted job downloads again from byte zero.
func (s *Service) acquire(ctx context.Context, job *domain.ImportJob) error {
	if job.LocalPath == "" {
		if job.SourceType != domain.SourceTypeURL || job.SourceURL == "" {
			return fmt.Errorf("job has no local file and no source url")
		}
		path, err := s.download(ctx, job)
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		job.LocalPath = path
		if err := s.jobs.Save(ctx, job); err != nil {
			return err
		}
	}

	if !isArchive(job.LocalPath) {
		return nil
	}

	if err := s.setStatus(ctx, job, domain.JobStatusExtracting); err != nil {
		return err
	}
	files, err := s.extract(ctx, job, job.LocalPath)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	switch len(files) {
	case 0:
		return ErrNoMatchingFile
	case 1:
		job.LocalPath = filepath.Join(s.jobDir(job.ID), files[0])
		job.Filename = files[0]
		return s.jobs.Save(ctx, job)
	default:
		// More than one result CSV (one per region is common): park the job
		// until the operator picks one file or elects to import all.
		job.LocalPath = ""
		job.ExtractedFiles = files
		if err := s.setStatus(ctx, job, domain.JobStatusAwaitingSelection); err != nil {
			return err
		}
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldJobID: job.ID,
			logger.FieldCount: len(files),
		}).Info("Archive holds multiple result files, awaiting operator selection")
		return nil
	}
}

// download streams the remote archive to the job's temp directory, updating
// DownloadedBytes chunk by chunk so progress readers track live byte counts.
// Cancellation is observed between chunks.
func (s *Service) download(ctx context.Context, job *domain.ImportJob) (string, error) {
	if err := s.setStatus(ctx, job, domain.JobStatusDownloading); err != nil {
		return "", err
	}

	dir := s.jobDir(job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(job.SourceURL)
	if err != nil {
		return "", err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("unexpected HTTP status %s", resp.Status())
	}

	// Content-Length drives the determinate progress bar; absent, the job
	// reports indeterminate progress.
	if cl, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); err == nil && cl > 0 {
		job.FileSize = cl
		if err := s.jobs.Save(ctx, job); err != nil {
			return "", err
		}
	}

	dest := filepath.Join(dir, filenameFromURL(job.SourceURL))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer out.Close()

	buf := make([]byte, s.cfg.DownloadChunkBytes)
	var downloaded int64
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("failed to write download chunk: %w", err)
			}
			downloaded += int64(n)
			job.DownloadedBytes = downloaded
			if err := s.jobs.UpdateDownloadedBytes(ctx, job.ID, downloaded); err != nil {
				return "", err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("download interrupted: %w", readErr)
		}
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		logger.FieldSize:  downloaded,
	}).Info("Download finished")

	return dest, nil
}

// extract unpacks the archive's result CSVs into the job directory and
// returns their base names.
func (s *Service) extract(ctx context.Context, job *domain.ImportJob, archivePath string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("corrupt or unreadable archive: %w", err)
	}
	defer reader.Close()

	dir := s.jobDir(job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	var files []string
	for _, f := range reader.File {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			continue
		}

		name := filepath.Base(f.Name)
		dst := filepath.Join(dir, name)
		if err := extractOne(f, dst); err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, nil
}

func extractOne(f *zip.File, dst string) error {
	in, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return nil
}

func isArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
