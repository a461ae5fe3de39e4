// Package apperrors defines the sentinel error taxonomy for the
// ingestion pipeline. Every error here is terminal for the run that
// raised it: the report is marked FAILED and the queue transport, not
// the pipeline, decides whether the job is redelivered.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with an existing
	// record, e.g. re-submitting the same analysis key for a project.
	ErrConflict = errors.New("conflict")

	// ErrArchiveTooLarge is returned when an archive's declared or
	// realized uncompressed size exceeds the configured ceiling.
	ErrArchiveTooLarge = errors.New("archive exceeds uncompressed size limit")

	// ErrPathTraversalDetected is returned when an archive entry would
	// resolve outside the extraction workspace.
	ErrPathTraversalDetected = errors.New("archive entry escapes extraction directory")

	// ErrTooManyEntries is returned when an archive contains more
	// entries than the configured ceiling.
	ErrTooManyEntries = errors.New("archive entry count exceeds limit")

	// ErrExportFileNotFound is returned when the extracted tree does
	// not contain a findings export file.
	ErrExportFileNotFound = errors.New("findings export file not found in archive")

	// ErrProjectLinkMissing is returned when a report has no project
	// association; deduplication requires a project scope.
	ErrProjectLinkMissing = errors.New("report has no linked project")
)

// PersistenceError wraps a failed bulk database operation. Partial
// writes already committed are left in place; an orphaned catalog row
// is matched correctly on the next successful run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err with the bulk operation that failed.
func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// DownloadError wraps a blob store retrieval failure.
type DownloadError struct {
	Key string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of object %q failed: %v", e.Key, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// NewDownloadError wraps err with the object key that failed to download.
func NewDownloadError(key string, err error) error {
	return &DownloadError{Key: key, Err: err}
}
