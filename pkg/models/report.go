package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus represents the lifecycle state of a report.
// State machine: QUEUED → PROCESSING → {COMPLETED, FAILED}.
// DELETED is orthogonal: management operations can soft-delete a
// report from any state; the pipeline never sets it.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusCompleted  ReportStatus = "COMPLETED"
	ReportStatusFailed     ReportStatus = "FAILED"
	ReportStatusDeleted    ReportStatus = "DELETED"
)

// ValidReportStatuses contains all valid status values.
var ValidReportStatuses = []ReportStatus{
	ReportStatusQueued,
	ReportStatusProcessing,
	ReportStatusCompleted,
	ReportStatusFailed,
	ReportStatusDeleted,
}

// IsValidReportStatus checks if the given status is valid.
func IsValidReportStatus(s ReportStatus) bool {
	for _, v := range ValidReportStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states the pipeline never leaves.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusCompleted || s == ReportStatusFailed || s == ReportStatusDeleted
}

// CanTransition reports whether the pipeline may move a report from s
// to next. FAILED → PROCESSING is a redelivery re-claim: the queue is
// at-least-once and a failed run must be safe to start over from the
// top. DELETED is reachable from any state but only through the
// management soft-delete, which bypasses this check.
func (s ReportStatus) CanTransition(next ReportStatus) bool {
	switch s {
	case ReportStatusQueued, ReportStatusFailed:
		return next == ReportStatusProcessing
	case ReportStatusProcessing:
		return next == ReportStatusCompleted || next == ReportStatusFailed
	default:
		return false
	}
}

// Report represents one ingested scan run. ProjectID is nil for
// ad-hoc uploads that are not linked to a project; such reports can
// be stored but never deduplicated.
type Report struct {
	ID              uuid.UUID    `json:"id"`
	ProjectID       *uuid.UUID   `json:"project_id,omitempty"`
	OriginalName    string       `json:"original_name"`
	Status          ReportStatus `json:"status"`
	AnalysisKey     *string      `json:"analysis_key,omitempty"`
	AnalysisDate    *time.Time   `json:"analysis_date,omitempty"`
	AnalysisVersion *string      `json:"analysis_version,omitempty"`
	ErrorMessage    *string      `json:"error_message,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}
