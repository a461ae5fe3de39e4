package models

import (
	"time"

	"github.com/google/uuid"
)

// IssueKey is the composite natural key identifying a recurring issue
// within a project: rule, file, and line bucket. It is comparable and
// usable directly as a map key.
type IssueKey struct {
	RuleKey   string
	FileName  string
	LineGroup int
}

// UniqueIssue is the durable, project-scoped catalog entry for a
// recurring finding. Its descriptive fields are frozen at first
// sighting; only LastSeenAt advances on subsequent scans. Ingestion
// never deletes catalog entries.
type UniqueIssue struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	RuleKey     string    `json:"rule_key"`
	RuleName    string    `json:"rule_name"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	TypeIdx     int       `json:"type_idx"`
	SeverityIdx int       `json:"severity_idx"`
	FileName    string    `json:"file_name"`
	FileLine    int       `json:"file_line"`
	LineGroup   int       `json:"line_group"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Key returns the issue's natural catalog key.
func (u *UniqueIssue) Key() IssueKey {
	return IssueKey{RuleKey: u.RuleKey, FileName: u.FileName, LineGroup: u.LineGroup}
}

// NewUniqueIssue builds a catalog entry from a finding's first
// sighting. seenAt becomes both FirstSeenAt and LastSeenAt.
func NewUniqueIssue(projectID uuid.UUID, f *Finding, seenAt time.Time) *UniqueIssue {
	return &UniqueIssue{
		ID:          uuid.New(),
		ProjectID:   projectID,
		RuleKey:     f.RuleKey,
		RuleName:    f.RuleName,
		Message:     f.Message,
		Type:        f.Type,
		Severity:    f.Severity,
		TypeIdx:     f.TypeIdx,
		SeverityIdx: f.SeverityIdx,
		FileName:    f.FileName,
		FileLine:    f.FileLine,
		LineGroup:   f.LineGroup,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
}
