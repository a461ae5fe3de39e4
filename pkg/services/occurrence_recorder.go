package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/config"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/repositories"
)

// OccurrenceRecorder links every resolved finding to the current
// scan's report and refreshes last-seen timestamps for catalog
// entries matched as existing. When both steps succeed, the report
// transitions to COMPLETED.
type OccurrenceRecorder struct {
	occurrenceRepo repositories.OccurrenceRepository
	issueRepo      repositories.UniqueIssueRepository
	reportRepo     repositories.ReportRepository
	cfg            *config.IngestConfig
	logger         *zap.Logger
	now            func() time.Time
}

// NewOccurrenceRecorder creates a new occurrence recorder.
func NewOccurrenceRecorder(
	occurrenceRepo repositories.OccurrenceRepository,
	issueRepo repositories.UniqueIssueRepository,
	reportRepo repositories.ReportRepository,
	cfg *config.IngestConfig,
	logger *zap.Logger,
) *OccurrenceRecorder {
	return &OccurrenceRecorder{
		occurrenceRepo: occurrenceRepo,
		issueRepo:      issueRepo,
		reportRepo:     reportRepo,
		cfg:            cfg,
		logger:         logger.Named("recorder"),
		now:            time.Now,
	}
}

// Record persists the run's occurrence tuples and advances last-seen
// timestamps, then marks the report COMPLETED. Occurrence rows that
// already exist are skipped, which is what makes re-running a
// partially processed report safe.
func (r *OccurrenceRecorder) Record(ctx context.Context, report *models.Report, resolved *ResolvedIssues) error {
	if err := r.occurrenceRepo.BulkInsert(ctx, resolved.Occurrences, r.cfg.OccurrenceInsertBatchSize); err != nil {
		return err
	}

	if len(resolved.MatchedIDs) > 0 {
		if err := r.issueRepo.TouchLastSeen(ctx, resolved.MatchedIDs, r.now(), r.cfg.LastSeenBatchSize); err != nil {
			return err
		}
	}

	if err := r.reportRepo.UpdateStatus(ctx, report.ID, models.ReportStatusCompleted, nil); err != nil {
		return err
	}

	r.logger.Info("occurrences recorded",
		zap.String("report_id", report.ID.String()),
		zap.Int("occurrences", len(resolved.Occurrences)),
		zap.Int("touched", len(resolved.MatchedIDs)))

	return nil
}
