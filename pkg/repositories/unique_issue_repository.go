package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/database"
	"github.com/trailhead-sec/scantrail/pkg/models"
)

// UniqueIssueRepository defines the interface for the per-project
// issue catalog. Bulk operations are batched by the caller-supplied
// sizes to keep statements under backend parameter-count ceilings.
type UniqueIssueRepository interface {
	// LoadCatalog loads the project's entire catalog projected to its
	// natural keys. Catalog size is bounded by distinct
	// rule/file/line-bucket combinations, not scan volume.
	LoadCatalog(ctx context.Context, projectID uuid.UUID) (map[models.IssueKey]uuid.UUID, error)
	// BulkInsert persists new catalog entries in batches. Rows whose
	// natural key already exists are skipped, not failed: concurrent
	// ingestions for the same project may race to create the same
	// entry.
	BulkInsert(ctx context.Context, issues []*models.UniqueIssue, batchSize int) error
	// ResolveIDs re-queries generated identifiers by natural key,
	// chunked to bound the per-statement key disjunction.
	ResolveIDs(ctx context.Context, projectID uuid.UUID, keys []models.IssueKey, chunkSize int) (map[models.IssueKey]uuid.UUID, error)
	// TouchLastSeen advances last_seen_at for the given issues.
	TouchLastSeen(ctx context.Context, ids []uuid.UUID, seenAt time.Time, batchSize int) error
	// CountByProject returns the catalog size for a project.
	CountByProject(ctx context.Context, projectID uuid.UUID) (int, error)
}

// uniqueIssueRepository implements UniqueIssueRepository using PostgreSQL.
type uniqueIssueRepository struct {
	db *database.DB
}

// NewUniqueIssueRepository creates a new unique issue repository.
func NewUniqueIssueRepository(db *database.DB) UniqueIssueRepository {
	return &uniqueIssueRepository{db: db}
}

// LoadCatalog loads every catalog entry for the project into a lookup
// table keyed by natural key.
func (r *uniqueIssueRepository) LoadCatalog(ctx context.Context, projectID uuid.UUID) (map[models.IssueKey]uuid.UUID, error) {
	query := `
		SELECT id, rule_key, file_name, line_group
		FROM unique_issues
		WHERE project_id = $1`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("catalog load", err)
	}
	defer rows.Close()

	catalog := make(map[models.IssueKey]uuid.UUID)
	for rows.Next() {
		var (
			id  uuid.UUID
			key models.IssueKey
		)
		if err := rows.Scan(&id, &key.RuleKey, &key.FileName, &key.LineGroup); err != nil {
			return nil, apperrors.NewPersistenceError("catalog load", err)
		}
		catalog[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("catalog load", err)
	}
	return catalog, nil
}

// insertColumns are the columns written by BulkInsert, in order.
var insertColumns = []string{
	"id", "project_id", "rule_key", "rule_name", "message", "issue_type",
	"severity", "type_idx", "severity_idx", "file_name", "file_line",
	"line_group", "first_seen_at", "last_seen_at",
}

// BulkInsert writes new catalog entries in fixed-size batches using
// multi-row VALUES with ON CONFLICT DO NOTHING on the natural key.
func (r *uniqueIssueRepository) BulkInsert(ctx context.Context, issues []*models.UniqueIssue, batchSize int) error {
	for start := 0; start < len(issues); start += batchSize {
		end := min(start+batchSize, len(issues))
		if err := r.insertBatch(ctx, issues[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *uniqueIssueRepository) insertBatch(ctx context.Context, batch []*models.UniqueIssue) error {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(batch)*len(insertColumns))
	)
	fmt.Fprintf(&sb, "INSERT INTO unique_issues (%s) VALUES ", strings.Join(insertColumns, ", "))
	for i, issue := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder(i, len(insertColumns)))
		args = append(args,
			issue.ID, issue.ProjectID, issue.RuleKey, issue.RuleName,
			issue.Message, issue.Type, issue.Severity, issue.TypeIdx,
			issue.SeverityIdx, issue.FileName, issue.FileLine,
			issue.LineGroup, issue.FirstSeenAt, issue.LastSeenAt,
		)
	}
	sb.WriteString(" ON CONFLICT (project_id, rule_key, file_name, line_group) DO NOTHING")

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return apperrors.NewPersistenceError("unique issue insert", err)
	}
	return nil
}

// ResolveIDs recovers generated identifiers after a bulk insert by
// re-querying natural keys, chunkSize keys per statement.
func (r *uniqueIssueRepository) ResolveIDs(ctx context.Context, projectID uuid.UUID, keys []models.IssueKey, chunkSize int) (map[models.IssueKey]uuid.UUID, error) {
	resolved := make(map[models.IssueKey]uuid.UUID, len(keys))
	for start := 0; start < len(keys); start += chunkSize {
		end := min(start+chunkSize, len(keys))
		if err := r.resolveChunk(ctx, projectID, keys[start:end], resolved); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func (r *uniqueIssueRepository) resolveChunk(ctx context.Context, projectID uuid.UUID, chunk []models.IssueKey, into map[models.IssueKey]uuid.UUID) error {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(chunk)*3+1)
	)
	sb.WriteString(`
		SELECT id, rule_key, file_name, line_group
		FROM unique_issues
		WHERE project_id = $1 AND (rule_key, file_name, line_group) IN (`)
	args = append(args, projectID)
	for i, key := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", base+1, base+2, base+3)
		args = append(args, key.RuleKey, key.FileName, key.LineGroup)
	}
	sb.WriteString(")")

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return apperrors.NewPersistenceError("unique issue id resolution", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  uuid.UUID
			key models.IssueKey
		)
		if err := rows.Scan(&id, &key.RuleKey, &key.FileName, &key.LineGroup); err != nil {
			return apperrors.NewPersistenceError("unique issue id resolution", err)
		}
		into[key] = id
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewPersistenceError("unique issue id resolution", err)
	}
	return nil
}

// TouchLastSeen advances last_seen_at in batches of batchSize ids.
// The timestamp only ever moves forward.
func (r *uniqueIssueRepository) TouchLastSeen(ctx context.Context, ids []uuid.UUID, seenAt time.Time, batchSize int) error {
	query := `
		UPDATE unique_issues
		SET last_seen_at = $1
		WHERE id = ANY($2) AND last_seen_at < $1`

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		if _, err := r.db.Exec(ctx, query, seenAt, ids[start:end]); err != nil {
			return apperrors.NewPersistenceError("last seen update", err)
		}
	}
	return nil
}

// CountByProject returns the number of catalog entries for a project.
func (r *uniqueIssueRepository) CountByProject(ctx context.Context, projectID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM unique_issues WHERE project_id = $1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unique issues: %w", err)
	}
	return count, nil
}

// valuesPlaceholder renders the placeholder tuple for row i of a
// multi-row VALUES clause with width columns per row.
func valuesPlaceholder(i, width int) string {
	parts := make([]string, width)
	for j := range parts {
		parts[j] = fmt.Sprintf("$%d", i*width+j+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Ensure uniqueIssueRepository implements UniqueIssueRepository at compile time.
var _ UniqueIssueRepository = (*uniqueIssueRepository)(nil)
