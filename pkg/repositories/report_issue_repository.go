package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trailhead-sec/scantrail/pkg/database"
	"github.com/trailhead-sec/scantrail/pkg/models"
)

// ReportIssueRepository reads a report's issue set: the unique issues
// linked to the report through its occurrences.
type ReportIssueRepository interface {
	// ListPage returns one page of the report's issues under the
	// default ordering together with the total, fetched in a single
	// repeatable-read transaction so the two never disagree.
	ListPage(ctx context.Context, reportID uuid.UUID, offset, limit int) (*models.IssuePage, error)
	// ListSignatures returns the report's full issue set projected to
	// exact-line signatures for report-to-report comparison.
	ListSignatures(ctx context.Context, reportID uuid.UUID) ([]models.IssueSignature, error)
	// Stats aggregates the report's issue counts by type and severity.
	Stats(ctx context.Context, reportID uuid.UUID) (*models.ReportStats, error)
}

// reportIssueRepository implements ReportIssueRepository using PostgreSQL.
type reportIssueRepository struct {
	db *database.DB
}

// NewReportIssueRepository creates a new report issue repository.
func NewReportIssueRepository(db *database.DB) ReportIssueRepository {
	return &reportIssueRepository{db: db}
}

// Default ordering: vulnerabilities and blockers first, then by
// location for a stable tiebreak.
const defaultIssueOrder = "ORDER BY u.type_idx, u.severity_idx, u.file_name, u.file_line, u.id"

// ListPage fetches the total and the row slice inside one
// repeatable-read transaction: a consistent snapshot of the page.
func (r *reportIssueRepository) ListPage(ctx context.Context, reportID uuid.UUID, offset, limit int) (*models.IssuePage, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	page := &models.IssuePage{Offset: offset, Limit: limit, Issues: []models.ReportIssue{}}

	countQuery := `
		SELECT COUNT(*)
		FROM occurrences o
		WHERE o.report_id = $1`
	if err := tx.QueryRow(ctx, countQuery, reportID).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count report issues: %w", err)
	}

	pageQuery := fmt.Sprintf(`
		SELECT u.id, u.project_id, u.rule_key, u.rule_name, u.message, u.issue_type,
		       u.severity, u.type_idx, u.severity_idx, u.file_name, u.file_line,
		       u.line_group, u.first_seen_at, u.last_seen_at
		FROM occurrences o
		JOIN unique_issues u ON u.id = o.unique_issue_id
		WHERE o.report_id = $1
		%s
		OFFSET $2 LIMIT $3`, defaultIssueOrder)

	rows, err := tx.Query(ctx, pageQuery, reportID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list report issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var issue models.ReportIssue
		if err := rows.Scan(
			&issue.ID, &issue.ProjectID, &issue.RuleKey, &issue.RuleName,
			&issue.Message, &issue.Type, &issue.Severity, &issue.TypeIdx,
			&issue.SeverityIdx, &issue.FileName, &issue.FileLine,
			&issue.LineGroup, &issue.FirstSeenAt, &issue.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report issue: %w", err)
		}
		page.Issues = append(page.Issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report issues: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}
	return page, nil
}

// ListSignatures projects the report's issues to exact-line triples.
func (r *reportIssueRepository) ListSignatures(ctx context.Context, reportID uuid.UUID) ([]models.IssueSignature, error) {
	query := `
		SELECT u.rule_key, u.file_name, u.file_line
		FROM occurrences o
		JOIN unique_issues u ON u.id = o.unique_issue_id
		WHERE o.report_id = $1`

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list report signatures: %w", err)
	}
	defer rows.Close()

	var sigs []models.IssueSignature
	for rows.Next() {
		var sig models.IssueSignature
		if err := rows.Scan(&sig.RuleKey, &sig.FileName, &sig.FileLine); err != nil {
			return nil, fmt.Errorf("failed to scan report signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report signatures: %w", err)
	}
	return sigs, nil
}

// Stats aggregates per-type and per-severity counts for a report.
func (r *reportIssueRepository) Stats(ctx context.Context, reportID uuid.UUID) (*models.ReportStats, error) {
	query := `
		SELECT u.issue_type, u.severity, COUNT(*)
		FROM occurrences o
		JOIN unique_issues u ON u.id = o.unique_issue_id
		WHERE o.report_id = $1
		GROUP BY u.issue_type, u.severity`

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate report stats: %w", err)
	}
	defer rows.Close()

	stats := &models.ReportStats{
		TypeCounts:     make(map[string]int),
		SeverityCounts: make(map[string]int),
	}
	for rows.Next() {
		var (
			issueType string
			severity  string
			count     int
		)
		if err := rows.Scan(&issueType, &severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan report stats: %w", err)
		}
		stats.Total += count
		stats.TypeCounts[issueType] += count
		stats.SeverityCounts[severity] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report stats: %w", err)
	}
	return stats, nil
}

// Ensure reportIssueRepository implements ReportIssueRepository at compile time.
var _ ReportIssueRepository = (*reportIssueRepository)(nil)
