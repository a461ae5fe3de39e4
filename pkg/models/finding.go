package models

// Finding is one normalized row from a scan's tabular export. It is
// transient: findings exist only for the duration of a single
// ingestion run and are never persisted as-is.
type Finding struct {
	Message  string
	Type     string
	Severity string
	RuleKey  string
	RuleName string
	FileName string
	FileLine int

	// TypeIdx and SeverityIdx are ordinal ranks derived at parse time
	// so the default sort (vulnerabilities and blockers first) never
	// has to be re-derived at query time.
	TypeIdx     int
	SeverityIdx int

	// LineGroup is FileLine bucketed to the nearest lower multiple of
	// ten. The bucket absorbs small line drift between scans that
	// would defeat matching on the exact line.
	LineGroup int
}

// UnrankedIdx is the ordinal assigned to types and severities outside
// the known priority orders; it sorts after every recognized value.
const UnrankedIdx = 99

// issueTypePriority is the fixed default-sort order for issue types.
var issueTypePriority = []string{"VULNERABILITY", "SECURITY_HOTSPOT", "BUG", "CODE_SMELL"}

// severityPriority is the fixed default-sort order for severities.
var severityPriority = []string{"BLOCKER", "CRITICAL", "MAJOR", "MINOR", "INFO"}

// TypeIndex returns the rank of an issue type within the default sort
// order, or UnrankedIdx if the type is not recognized.
func TypeIndex(issueType string) int {
	return indexOf(issueTypePriority, issueType)
}

// SeverityIndex returns the rank of a severity within the default
// sort order, or UnrankedIdx if the severity is not recognized.
func SeverityIndex(severity string) int {
	return indexOf(severityPriority, severity)
}

func indexOf(order []string, value string) int {
	for i, v := range order {
		if v == value {
			return i
		}
	}
	return UnrankedIdx
}

// LineGroup buckets a file line to the nearest lower multiple of ten:
// line 23 → 20, line 9 → 0, line 30 → 30.
func LineGroup(line int) int {
	return (line / 10) * 10
}

// Key returns the finding's natural catalog key within its project.
func (f *Finding) Key() IssueKey {
	return IssueKey{RuleKey: f.RuleKey, FileName: f.FileName, LineGroup: f.LineGroup}
}
