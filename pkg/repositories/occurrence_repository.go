package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/database"
	"github.com/trailhead-sec/scantrail/pkg/models"
)

// OccurrenceRepository defines the interface for occurrence data
// access. Occurrences are insert-only: never updated, never deleted
// by ingestion.
type OccurrenceRepository interface {
	// BulkInsert writes occurrence rows in batches, skipping rows that
	// already exist. The (unique_issue_id, report_id) primary key plus
	// this skip is what makes re-running a redelivered job safe.
	BulkInsert(ctx context.Context, occurrences []models.Occurrence, batchSize int) error
	// CountByReport returns the number of occurrences for a report.
	CountByReport(ctx context.Context, reportID uuid.UUID) (int, error)
	// CountByIssue returns the number of scans an issue appeared in.
	CountByIssue(ctx context.Context, uniqueIssueID uuid.UUID) (int, error)
}

// occurrenceRepository implements OccurrenceRepository using PostgreSQL.
type occurrenceRepository struct {
	db *database.DB
}

// NewOccurrenceRepository creates a new occurrence repository.
func NewOccurrenceRepository(db *database.DB) OccurrenceRepository {
	return &occurrenceRepository{db: db}
}

// BulkInsert writes occurrences in fixed-size batches with
// ON CONFLICT DO NOTHING on the primary key.
func (r *occurrenceRepository) BulkInsert(ctx context.Context, occurrences []models.Occurrence, batchSize int) error {
	for start := 0; start < len(occurrences); start += batchSize {
		end := min(start+batchSize, len(occurrences))
		if err := r.insertBatch(ctx, occurrences[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *occurrenceRepository) insertBatch(ctx context.Context, batch []models.Occurrence) error {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(batch)*2)
	)
	sb.WriteString("INSERT INTO occurrences (unique_issue_id, report_id) VALUES ")
	for i, occ := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, occ.UniqueIssueID, occ.ReportID)
	}
	sb.WriteString(" ON CONFLICT (unique_issue_id, report_id) DO NOTHING")

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return apperrors.NewPersistenceError("occurrence insert", err)
	}
	return nil
}

// CountByReport returns the occurrence count for a report.
func (r *occurrenceRepository) CountByReport(ctx context.Context, reportID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM occurrences WHERE report_id = $1`, reportID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count occurrences by report: %w", err)
	}
	return count, nil
}

// CountByIssue returns the occurrence count for a unique issue.
func (r *occurrenceRepository) CountByIssue(ctx context.Context, uniqueIssueID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM occurrences WHERE unique_issue_id = $1`, uniqueIssueID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count occurrences by issue: %w", err)
	}
	return count, nil
}

// Ensure occurrenceRepository implements OccurrenceRepository at compile time.
var _ OccurrenceRepository = (*occurrenceRepository)(nil)
