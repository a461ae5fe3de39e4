package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/models"
)

func recorderFixture(reports ...*models.Report) (*OccurrenceRecorder, *fakeOccurrenceRepo, *fakeUniqueIssueRepo, *fakeReportRepo) {
	occurrenceRepo := newFakeOccurrenceRepo()
	issueRepo := newFakeUniqueIssueRepo()
	reportRepo := newFakeReportRepo(reports...)
	recorder := NewOccurrenceRecorder(occurrenceRepo, issueRepo, reportRepo, ingestTestConfig(), zap.NewNop())
	return recorder, occurrenceRepo, issueRepo, reportRepo
}

func TestRecorder_Record(t *testing.T) {
	projectID := uuid.New()
	report := queuedReport(projectID)
	report.Status = models.ReportStatusProcessing
	recorder, occurrenceRepo, issueRepo, reportRepo := recorderFixture(report)

	matchedID := uuid.New()
	resolved := &ResolvedIssues{
		Occurrences: []models.Occurrence{
			{UniqueIssueID: matchedID, ReportID: report.ID},
			{UniqueIssueID: uuid.New(), ReportID: report.ID},
		},
		MatchedIDs: []uuid.UUID{matchedID},
		Created:    1,
	}

	require.NoError(t, recorder.Record(context.Background(), report, resolved))

	count, err := occurrenceRepo.CountByReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Only the matched entry gets its last-seen timestamp advanced; the
	// created one already carries this run's timestamp.
	assert.Len(t, issueRepo.touched, 1)
	assert.Contains(t, issueRepo.touched, matchedID)

	assert.Equal(t, models.ReportStatusCompleted, reportRepo.reports[report.ID].Status)
}

func TestRecorder_NoMatchedSkipsTouch(t *testing.T) {
	projectID := uuid.New()
	report := queuedReport(projectID)
	recorder, _, issueRepo, _ := recorderFixture(report)

	// A touch failure must be unreachable when nothing matched.
	issueRepo.touchErr = errors.New("should not be called")

	resolved := &ResolvedIssues{
		Occurrences: []models.Occurrence{{UniqueIssueID: uuid.New(), ReportID: report.ID}},
	}
	assert.NoError(t, recorder.Record(context.Background(), report, resolved))
}

func TestRecorder_InsertFailureLeavesStatus(t *testing.T) {
	projectID := uuid.New()
	report := queuedReport(projectID)
	report.Status = models.ReportStatusProcessing
	recorder, occurrenceRepo, _, reportRepo := recorderFixture(report)

	occurrenceRepo.insertErr = errors.New("write timeout")

	resolved := &ResolvedIssues{
		Occurrences: []models.Occurrence{{UniqueIssueID: uuid.New(), ReportID: report.ID}},
	}
	err := recorder.Record(context.Background(), report, resolved)
	assert.ErrorContains(t, err, "write timeout")

	// Completion is never recorded past a failed write; the caller owns
	// the FAILED transition.
	assert.Equal(t, models.ReportStatusProcessing, reportRepo.reports[report.ID].Status)
	assert.Empty(t, reportRepo.statusLog)
}

func TestRecorder_TouchFailurePropagates(t *testing.T) {
	projectID := uuid.New()
	report := queuedReport(projectID)
	recorder, _, issueRepo, reportRepo := recorderFixture(report)

	issueRepo.touchErr = errors.New("lock contention")

	resolved := &ResolvedIssues{
		Occurrences: []models.Occurrence{{UniqueIssueID: uuid.New(), ReportID: report.ID}},
		MatchedIDs:  []uuid.UUID{uuid.New()},
	}
	err := recorder.Record(context.Background(), report, resolved)
	assert.ErrorContains(t, err, "lock contention")
	assert.NotEqual(t, models.ReportStatusCompleted, reportRepo.reports[report.ID].Status)
}
