// Package services contains the ingestion pipeline stages and the
// read-side report services.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/config"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/repositories"
)

// ResolvedIssues is the resolver's output: one occurrence tuple per
// finding plus the ids of catalog entries matched as already
// existing, whose last-seen timestamps the recorder must advance.
type ResolvedIssues struct {
	Occurrences []models.Occurrence
	MatchedIDs  []uuid.UUID
	Created     int
}

// UniqueIssueResolver matches a scan's findings against the owning
// project's historical catalog, creating entries for natural keys
// never seen before. The catalog lookup is built fresh per run and
// passed through the call chain; no shared mutable state survives a
// run.
type UniqueIssueResolver struct {
	issueRepo repositories.UniqueIssueRepository
	cfg       *config.IngestConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewUniqueIssueResolver creates a new resolver.
func NewUniqueIssueResolver(issueRepo repositories.UniqueIssueRepository, cfg *config.IngestConfig, logger *zap.Logger) *UniqueIssueResolver {
	return &UniqueIssueResolver{
		issueRepo: issueRepo,
		cfg:       cfg,
		logger:    logger.Named("resolver"),
		now:       time.Now,
	}
}

// Resolve partitions findings into existing and new catalog entries,
// bulk-persists the new ones, and resolves every finding to exactly
// one unique issue id. Persistence failures abort the run; catalog
// rows already committed are left in place and will simply be matched
// on the next successful run.
func (r *UniqueIssueResolver) Resolve(ctx context.Context, report *models.Report, findings []*models.Finding) (*ResolvedIssues, error) {
	if report.ProjectID == nil {
		return nil, apperrors.ErrProjectLinkMissing
	}
	projectID := *report.ProjectID

	catalog, err := r.issueRepo.LoadCatalog(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// Partition. Several findings in one scan may share a natural key
	// (same rule, file and line bucket); the first sighting freezes
	// the catalog entry's descriptive fields.
	seenAt := r.now()
	newByKey := make(map[models.IssueKey]*models.UniqueIssue)
	matched := make(map[uuid.UUID]struct{})
	for _, f := range findings {
		key := f.Key()
		if id, ok := catalog[key]; ok {
			matched[id] = struct{}{}
			continue
		}
		if _, ok := newByKey[key]; !ok {
			newByKey[key] = models.NewUniqueIssue(projectID, f, seenAt)
		}
	}

	newIssues := make([]*models.UniqueIssue, 0, len(newByKey))
	newKeys := make([]models.IssueKey, 0, len(newByKey))
	for key, issue := range newByKey {
		newIssues = append(newIssues, issue)
		newKeys = append(newKeys, key)
	}

	if len(newIssues) > 0 {
		if err := r.issueRepo.BulkInsert(ctx, newIssues, r.cfg.IssueInsertBatchSize); err != nil {
			return nil, err
		}

		// Bulk insert does not yield generated identifiers, and rows
		// lost to a concurrent ingestion's insert carry that run's id.
		// Re-query by natural key to recover the canonical ids.
		resolved, err := r.issueRepo.ResolveIDs(ctx, projectID, newKeys, r.cfg.IssueInsertBatchSize)
		if err != nil {
			return nil, err
		}
		for key, id := range resolved {
			catalog[key] = id
		}
	}

	result := &ResolvedIssues{
		Occurrences: make([]models.Occurrence, 0, len(findings)),
		Created:     len(newIssues),
	}
	for _, f := range findings {
		id, ok := catalog[f.Key()]
		if !ok {
			return nil, apperrors.NewPersistenceError("unique issue id resolution",
				fmt.Errorf("no id resolved for rule %q file %q line group %d", f.RuleKey, f.FileName, f.LineGroup))
		}
		result.Occurrences = append(result.Occurrences, models.Occurrence{
			UniqueIssueID: id,
			ReportID:      report.ID,
		})
	}
	for id := range matched {
		result.MatchedIDs = append(result.MatchedIDs, id)
	}

	r.logger.Info("findings resolved against catalog",
		zap.String("report_id", report.ID.String()),
		zap.String("project_id", projectID.String()),
		zap.Int("findings", len(findings)),
		zap.Int("matched", len(result.MatchedIDs)),
		zap.Int("created", result.Created))

	return result, nil
}
