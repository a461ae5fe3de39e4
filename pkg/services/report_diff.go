package services

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/repositories"
)

// ReportDiffService compares a report's issue set against the
// project's most recent prior completed report. It runs on demand
// when a report's detail view or statistics are requested; all reads
// are read-only.
type ReportDiffService struct {
	reportRepo repositories.ReportRepository
	issueRepo  repositories.ReportIssueRepository
	logger     *zap.Logger
}

// NewReportDiffService creates a new report diff service.
func NewReportDiffService(reportRepo repositories.ReportRepository, issueRepo repositories.ReportIssueRepository, logger *zap.Logger) *ReportDiffService {
	return &ReportDiffService{
		reportRepo: reportRepo,
		issueRepo:  issueRepo,
		logger:     logger.Named("diff"),
	}
}

// IssuePage returns one page of the report's issues with per-issue
// new flags, plus aggregate deltas. The diff is nil when no prior
// completed report exists.
func (s *ReportDiffService) IssuePage(ctx context.Context, reportID uuid.UUID, offset, limit int) (*models.IssuePage, *models.ReportDiff, error) {
	report, err := s.reportRepo.Get(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}

	page, err := s.issueRepo.ListPage(ctx, reportID, offset, limit)
	if err != nil {
		return nil, nil, err
	}

	prev, err := s.reportRepo.FindPreviousCompleted(ctx, report)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return page, nil, nil
		}
		return nil, nil, err
	}

	prevSigs, err := s.signatureSet(ctx, prev.ID)
	if err != nil {
		return nil, nil, err
	}

	for i := range page.Issues {
		_, known := prevSigs[page.Issues[i].Signature()]
		page.Issues[i].IsNew = !known
	}

	diff, err := s.computeDiff(ctx, reportID, prev.ID, prevSigs)
	if err != nil {
		return nil, nil, err
	}
	return page, diff, nil
}

// Stats returns the report's aggregate statistics plus deltas against
// the previous completed report, or a nil diff when none exists.
func (s *ReportDiffService) Stats(ctx context.Context, reportID uuid.UUID) (*models.ReportStats, *models.ReportDiff, error) {
	report, err := s.reportRepo.Get(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}

	stats, err := s.issueRepo.Stats(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}

	prev, err := s.reportRepo.FindPreviousCompleted(ctx, report)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return stats, nil, nil
		}
		return nil, nil, err
	}

	prevSigs, err := s.signatureSet(ctx, prev.ID)
	if err != nil {
		return nil, nil, err
	}

	diff, err := s.computeDiff(ctx, reportID, prev.ID, prevSigs)
	if err != nil {
		return nil, nil, err
	}
	return stats, diff, nil
}

// signatureSet builds the exact-line signature set of a report.
func (s *ReportDiffService) signatureSet(ctx context.Context, reportID uuid.UUID) (map[models.IssueSignature]struct{}, error) {
	sigs, err := s.issueRepo.ListSignatures(ctx, reportID)
	if err != nil {
		return nil, err
	}
	set := make(map[models.IssueSignature]struct{}, len(sigs))
	for _, sig := range sigs {
		set[sig] = struct{}{}
	}
	return set, nil
}

// computeDiff aggregates deltas between the current report and its
// predecessor.
func (s *ReportDiffService) computeDiff(ctx context.Context, currentID, prevID uuid.UUID, prevSigs map[models.IssueSignature]struct{}) (*models.ReportDiff, error) {
	currentSigs, err := s.issueRepo.ListSignatures(ctx, currentID)
	if err != nil {
		return nil, err
	}

	newCount := 0
	for _, sig := range currentSigs {
		if _, known := prevSigs[sig]; !known {
			newCount++
		}
	}

	currentStats, err := s.issueRepo.Stats(ctx, currentID)
	if err != nil {
		return nil, err
	}
	prevStats, err := s.issueRepo.Stats(ctx, prevID)
	if err != nil {
		return nil, err
	}

	diff := &models.ReportDiff{
		PreviousReportID: prevID,
		PreviousTotal:    prevStats.Total,
		Diff:             currentStats.Total - prevStats.Total,
		DiffPercent:      diffPercent(currentStats.Total, prevStats.Total),
		NewIssuesCount:   newCount,
		TypeDiffs:        countDiffs(currentStats.TypeCounts, prevStats.TypeCounts),
		SeverityDiffs:    countDiffs(currentStats.SeverityCounts, prevStats.SeverityCounts),
	}

	s.logger.Debug("report diff computed",
		zap.String("report_id", currentID.String()),
		zap.String("previous_report_id", prevID.String()),
		zap.Int("diff", diff.Diff),
		zap.Int("new_issues", diff.NewIssuesCount))

	return diff, nil
}

// diffPercent is the relative change rounded to one decimal. Zero by
// definition when the previous total is zero, even if the current
// count is not.
func diffPercent(current, previous int) float64 {
	if previous == 0 {
		return 0
	}
	pct := float64(current-previous) / float64(previous) * 100
	return math.Round(pct*10) / 10
}

// countDiffs differences per-category counts across both key sets.
func countDiffs(current, previous map[string]int) map[string]int {
	diffs := make(map[string]int, len(current))
	for k, v := range current {
		diffs[k] = v - previous[k]
	}
	for k, v := range previous {
		if _, ok := current[k]; !ok {
			diffs[k] = -v
		}
	}
	return diffs
}
