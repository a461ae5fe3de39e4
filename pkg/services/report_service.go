package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/blobstore"
	"github.com/trailhead-sec/scantrail/pkg/config"
	"github.com/trailhead-sec/scantrail/pkg/ingest"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/repositories"
	"github.com/trailhead-sec/scantrail/pkg/services/workqueue"
)

// QueueScanParams describes one scan archive to ingest. LocalPath is
// the archive on local disk (e.g. an upload spooled by the HTTP
// layer); the analysis fields are optional metadata from the scan
// system.
type QueueScanParams struct {
	ProjectID       *uuid.UUID
	OriginalName    string
	LocalPath       string
	AnalysisKey     *string
	AnalysisDate    *time.Time
	AnalysisVersion *string
}

// ReportService owns report management: queueing scans for ingestion
// and the soft-delete management operation.
type ReportService struct {
	reportRepo repositories.ReportRepository
	store      blobstore.Store
	queue      *workqueue.Queue
	extractor  *ingest.Extractor
	resolver   *UniqueIssueResolver
	recorder   *OccurrenceRecorder
	cfg        *config.IngestConfig
	logger     *zap.Logger
}

// NewReportService creates a new report service.
func NewReportService(
	reportRepo repositories.ReportRepository,
	store blobstore.Store,
	queue *workqueue.Queue,
	extractor *ingest.Extractor,
	resolver *UniqueIssueResolver,
	recorder *OccurrenceRecorder,
	cfg *config.IngestConfig,
	logger *zap.Logger,
) *ReportService {
	return &ReportService{
		reportRepo: reportRepo,
		store:      store,
		queue:      queue,
		extractor:  extractor,
		resolver:   resolver,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger.Named("reports"),
	}
}

// QueueScan stores the archive in the blob store, creates the QUEUED
// report and enqueues its ingestion job. A duplicate (project,
// analysis key) submission is rejected before the job is enqueued.
func (s *ReportService) QueueScan(ctx context.Context, params QueueScanParams) (*models.Report, error) {
	report := &models.Report{
		ID:              uuid.New(),
		ProjectID:       params.ProjectID,
		OriginalName:    params.OriginalName,
		Status:          models.ReportStatusQueued,
		AnalysisKey:     params.AnalysisKey,
		AnalysisDate:    params.AnalysisDate,
		AnalysisVersion: params.AnalysisVersion,
		CreatedAt:       time.Now(),
	}

	fileKey := fmt.Sprintf("archives/%s.zip", report.ID)
	if err := s.store.Upload(ctx, params.LocalPath, fileKey); err != nil {
		return nil, fmt.Errorf("store archive: %w", err)
	}

	if err := s.reportRepo.Create(ctx, report); err != nil {
		// The report row never existed; remove the orphaned archive.
		if rmErr := s.store.Remove(ctx, fileKey); rmErr != nil {
			s.logger.Warn("failed to remove orphaned archive",
				zap.String("file_key", fileKey),
				zap.Error(rmErr))
		}
		return nil, err
	}

	payload := IngestJobPayload{
		ReportID:     report.ID,
		FileKey:      fileKey,
		OriginalName: params.OriginalName,
	}
	s.queue.Enqueue(NewIngestScanTask(payload, s.reportRepo, s.extractor, s.resolver, s.recorder, s.cfg, s.logger))

	s.logger.Info("scan queued",
		zap.String("report_id", report.ID.String()),
		zap.String("file_key", fileKey),
		zap.String("original_name", params.OriginalName))

	return report, nil
}

// Get returns a report by id.
func (s *ReportService) Get(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	return s.reportRepo.Get(ctx, id)
}

// Delete soft-deletes a report. Catalog entries and occurrences are
// left untouched; the report simply disappears from non-deleted
// views and frees its (project, analysis key) slot.
func (s *ReportService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.reportRepo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("report soft-deleted", zap.String("report_id", id.String()))
	return nil
}
