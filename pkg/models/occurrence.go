package models

import "github.com/google/uuid"

// Occurrence records that a unique issue appeared in a given report's
// scan. At most one occurrence exists per (unique issue, report)
// pair; that constraint is what makes re-processing a redelivered job
// idempotent. Occurrences are never updated or deleted by ingestion.
type Occurrence struct {
	UniqueIssueID uuid.UUID `json:"unique_issue_id"`
	ReportID      uuid.UUID `json:"report_id"`
}
