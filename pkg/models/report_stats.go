package models

import "github.com/google/uuid"

// IssueSignature identifies an issue for report-to-report comparison.
// Unlike IssueKey it carries the exact file line, not the line
// bucket: the diff measures literal recurrence between two specific
// scans, not catalog identity.
type IssueSignature struct {
	RuleKey  string
	FileName string
	FileLine int
}

// Signature returns the issue's exact-line comparison signature.
func (u *UniqueIssue) Signature() IssueSignature {
	return IssueSignature{RuleKey: u.RuleKey, FileName: u.FileName, FileLine: u.FileLine}
}

// ReportIssue is one row of a report's issue page. IsNew is set when
// the issue's signature is absent from the previous completed report.
type ReportIssue struct {
	UniqueIssue
	IsNew bool `json:"is_new"`
}

// IssuePage is a single consistent snapshot of a report's issues:
// the total and the row slice are fetched together so they can never
// disagree mid-computation.
type IssuePage struct {
	Issues []ReportIssue `json:"issues"`
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

// ReportStats aggregates a report's issue counts by type and severity.
type ReportStats struct {
	Total          int            `json:"total"`
	TypeCounts     map[string]int `json:"type_counts"`
	SeverityCounts map[string]int `json:"severity_counts"`
}

// ReportDiff holds aggregate deltas against the previous completed
// report of the same project. DiffPercent is zero when the previous
// report had no issues, regardless of the current count.
type ReportDiff struct {
	PreviousReportID uuid.UUID      `json:"previous_report_id"`
	PreviousTotal    int            `json:"previous_total"`
	Diff             int            `json:"diff"`
	DiffPercent      float64        `json:"diff_percent"`
	NewIssuesCount   int            `json:"new_issues_count"`
	TypeDiffs        map[string]int `json:"type_diffs"`
	SeverityDiffs    map[string]int `json:"severity_diffs"`
}
