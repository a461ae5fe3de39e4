package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/ingest"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/services/workqueue"
)

func reportServiceFixture(t *testing.T, reportRepo *fakeReportRepo) (*ReportService, *fakeBlobStore, *workqueue.Queue, *fakeOccurrenceRepo) {
	t.Helper()

	cfg := ingestTestConfig()
	cfg.WorkDir = t.TempDir()
	logger := zap.NewNop()

	store := &fakeBlobStore{files: map[string]string{}}
	issueRepo := newFakeUniqueIssueRepo()
	occurrenceRepo := newFakeOccurrenceRepo()
	queue := workqueue.New(logger, workqueue.WithRedeliveryConfig(workqueue.RedeliveryConfig{}))

	extractor := ingest.NewExtractor(store, cfg, logger)
	resolver := NewUniqueIssueResolver(issueRepo, cfg, logger)
	recorder := NewOccurrenceRecorder(occurrenceRepo, issueRepo, reportRepo, cfg, logger)

	svc := NewReportService(reportRepo, store, queue, extractor, resolver, recorder, cfg, logger)
	return svc, store, queue, occurrenceRepo
}

func TestReportService_QueueScan(t *testing.T) {
	projectID := uuid.New()
	reportRepo := newFakeReportRepo()
	svc, store, queue, occurrenceRepo := reportServiceFixture(t, reportRepo)

	localPath := writeScanArchive(t, scanExport)
	report, err := svc.QueueScan(context.Background(), QueueScanParams{
		ProjectID:    &projectID,
		OriginalName: "scan.zip",
		LocalPath:    localPath,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ReportStatusQueued, report.Status)
	fileKey := fmt.Sprintf("archives/%s.zip", report.ID)
	assert.Contains(t, store.files, fileKey)

	// The enqueued job runs the whole pipeline.
	require.NoError(t, queue.Wait(context.Background()))
	assert.False(t, queue.HasFailures())
	assert.Equal(t, models.ReportStatusCompleted, reportRepo.reports[report.ID].Status)

	count, err := occurrenceRepo.CountByReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReportService_QueueScanCreateFailureCleansArchive(t *testing.T) {
	reportRepo := newFakeReportRepo()
	reportRepo.createErr = apperrors.ErrConflict
	svc, store, _, _ := reportServiceFixture(t, reportRepo)

	projectID := uuid.New()
	_, err := svc.QueueScan(context.Background(), QueueScanParams{
		ProjectID:    &projectID,
		OriginalName: "scan.zip",
		LocalPath:    writeScanArchive(t, scanExport),
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Empty(t, store.files, "orphaned archive should be removed")
}

func TestReportService_Delete(t *testing.T) {
	projectID := uuid.New()
	report := queuedReport(projectID)
	reportRepo := newFakeReportRepo(report)
	svc, _, _, _ := reportServiceFixture(t, reportRepo)

	require.NoError(t, svc.Delete(context.Background(), report.ID))
	assert.Equal(t, models.ReportStatusDeleted, reportRepo.reports[report.ID].Status)

	assert.ErrorIs(t, svc.Delete(context.Background(), uuid.New()), apperrors.ErrNotFound)
}
