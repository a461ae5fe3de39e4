// Package ingest implements the scan-archive extraction and findings
// parsing stages of the pipeline.
package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/blobstore"
	"github.com/trailhead-sec/scantrail/pkg/config"
)

// Workspace is the per-job ephemeral directory an archive is
// downloaded to and extracted into. It is exclusively owned by its
// job; Close removes it with everything inside, including the
// downloaded archive.
type Workspace struct {
	// Root is the extraction directory containing the unpacked tree.
	Root string

	dir    string
	logger *zap.Logger
}

// Close removes the workspace directory and all its contents. Safe to
// call multiple times.
func (w *Workspace) Close() {
	if w.dir == "" {
		return
	}
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("failed to remove extraction workspace",
			zap.String("dir", w.dir),
			zap.Error(err))
	}
	w.dir = ""
}

// Extractor downloads scan archives from the blob store and unpacks
// them into per-job workspaces.
type Extractor struct {
	store  blobstore.Store
	cfg    *config.IngestConfig
	logger *zap.Logger
}

// NewExtractor creates a new archive extractor.
func NewExtractor(store blobstore.Store, cfg *config.IngestConfig, logger *zap.Logger) *Extractor {
	return &Extractor{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("extractor"),
	}
}

// Extract downloads the archive identified by fileKey and unpacks it
// into a fresh workspace named after jobID so concurrent jobs never
// collide. On any error the partially built workspace is removed
// before returning; on success the caller owns the workspace and must
// Close it.
func (e *Extractor) Extract(ctx context.Context, jobID, fileKey string) (*Workspace, error) {
	dir, err := os.MkdirTemp(e.cfg.WorkDir, fmt.Sprintf("scantrail-%s-", jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	ws := &Workspace{
		Root:   filepath.Join(dir, "extracted"),
		dir:    dir,
		logger: e.logger,
	}

	archivePath := filepath.Join(dir, "archive.zip")
	if err := e.store.Download(ctx, fileKey, archivePath); err != nil {
		ws.Close()
		return nil, apperrors.NewDownloadError(fileKey, err)
	}

	if err := e.unpack(archivePath, ws.Root); err != nil {
		ws.Close()
		return nil, err
	}

	e.logger.Debug("archive extracted",
		zap.String("job_id", jobID),
		zap.String("file_key", fileKey),
		zap.String("workspace", dir))

	return ws, nil
}

// unpack extracts a zip archive into dest, enforcing the entry-count
// ceiling, the uncompressed-size ceiling (both declared and realized)
// and rejecting entries that would resolve outside dest.
func (e *Extractor) unpack(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if len(r.File) > e.cfg.MaxArchiveEntries {
		return fmt.Errorf("%w: %d entries, limit %d",
			apperrors.ErrTooManyEntries, len(r.File), e.cfg.MaxArchiveEntries)
	}

	var declared uint64
	for _, f := range r.File {
		declared += f.UncompressedSize64
	}
	if declared > uint64(e.cfg.MaxArchiveBytes) {
		return fmt.Errorf("%w: %d bytes declared, limit %d",
			apperrors.ErrArchiveTooLarge, declared, e.cfg.MaxArchiveBytes)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	// Realized size is tracked across all entries: a lying header must
	// not bypass the ceiling.
	remaining := e.cfg.MaxArchiveBytes
	for _, f := range r.File {
		written, err := e.extractEntry(f, dest, remaining)
		if err != nil {
			return err
		}
		remaining -= written
	}

	return nil
}

// extractEntry writes one archive entry under dest and returns the
// number of bytes written. budget is the remaining realized-size
// allowance for the whole archive.
func (e *Extractor) extractEntry(f *zip.File, dest string, budget int64) (int64, error) {
	target, err := resolveEntryPath(dest, f.Name)
	if err != nil {
		return 0, err
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create directory %q: %w", f.Name, err)
		}
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory for %q: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open archive entry %q: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %q: %w", f.Name, err)
	}
	defer dst.Close()

	// Copy one byte past the budget so an over-limit entry is detected
	// rather than silently truncated.
	written, err := io.Copy(dst, io.LimitReader(src, budget+1))
	if err != nil {
		return written, fmt.Errorf("failed to extract %q: %w", f.Name, err)
	}
	if written > budget {
		return written, fmt.Errorf("%w: realized size exceeds limit %d",
			apperrors.ErrArchiveTooLarge, e.cfg.MaxArchiveBytes)
	}

	return written, nil
}

// resolveEntryPath joins an archive entry name onto dest and verifies
// the result stays inside dest.
func resolveEntryPath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", apperrors.ErrPathTraversalDetected, name)
	}
	return target, nil
}
