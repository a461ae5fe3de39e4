package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/config"
	"github.com/trailhead-sec/scantrail/pkg/ingest"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/repositories"
	"github.com/trailhead-sec/scantrail/pkg/services/workqueue"
)

// IngestJobType is the single job kind handling all ingestion
// requests.
const IngestJobType = "scan.ingest"

// IngestJobPayload is the job payload consumed by the pipeline.
type IngestJobPayload struct {
	ReportID     uuid.UUID `json:"reportId"`
	FileKey      string    `json:"fileKey"`
	OriginalName string    `json:"originalName"`
}

// IngestScanTask drives one scan through the full pipeline:
// extraction, parsing, unique-issue resolution and occurrence
// recording, moving the report through its lifecycle as stages
// succeed or fail. The task is idempotent: a redelivered job for an
// already-completed report is acknowledged without reprocessing, and
// every write along the way skips rows that already exist.
type IngestScanTask struct {
	workqueue.BaseTask
	payload    IngestJobPayload
	reportRepo repositories.ReportRepository
	extractor  *ingest.Extractor
	resolver   *UniqueIssueResolver
	recorder   *OccurrenceRecorder
	cfg        *config.IngestConfig
	logger     *zap.Logger
}

// NewIngestScanTask creates a pipeline task for one queued report.
func NewIngestScanTask(
	payload IngestJobPayload,
	reportRepo repositories.ReportRepository,
	extractor *ingest.Extractor,
	resolver *UniqueIssueResolver,
	recorder *OccurrenceRecorder,
	cfg *config.IngestConfig,
	logger *zap.Logger,
) *IngestScanTask {
	return &IngestScanTask{
		BaseTask:   workqueue.NewBaseTask(fmt.Sprintf("%s %s", IngestJobType, payload.OriginalName)),
		payload:    payload,
		reportRepo: reportRepo,
		extractor:  extractor,
		resolver:   resolver,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger.Named("ingest"),
	}
}

// Execute implements workqueue.Task.
func (t *IngestScanTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	report, err := t.reportRepo.Get(ctx, t.payload.ReportID)
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}

	if !report.Status.CanTransition(models.ReportStatusProcessing) {
		// Redelivered job for finished or deleted work: acknowledge,
		// never redo. PROCESSING means another worker holds the claim.
		t.logger.Info("report not claimable, skipping",
			zap.String("report_id", report.ID.String()),
			zap.String("status", string(report.Status)))
		return nil
	}

	if err := t.reportRepo.UpdateStatus(ctx, report.ID, models.ReportStatusProcessing, nil); err != nil {
		return fmt.Errorf("mark report processing: %w", err)
	}

	if err := t.run(ctx, report); err != nil {
		t.fail(ctx, report, err)
		return err
	}
	return nil
}

// run executes the pipeline stages. The extraction workspace is
// released on every exit path.
func (t *IngestScanTask) run(ctx context.Context, report *models.Report) error {
	ws, err := t.extractor.Extract(ctx, t.ID(), t.payload.FileKey)
	if err != nil {
		return err
	}
	defer ws.Close()

	exportPath, err := ingest.FindExportFile(ws.Root)
	if err != nil {
		return err
	}

	scanner, err := ingest.OpenExport(exportPath)
	if err != nil {
		return err
	}
	defer scanner.Close()

	findings, truncated, err := ingest.ReadFindings(scanner, t.cfg.MaxFindings)
	if err != nil {
		return err
	}
	if truncated {
		t.logger.Warn("export exceeds the row cap, ingesting a partial scan",
			zap.String("report_id", report.ID.String()),
			zap.Int("max_findings", t.cfg.MaxFindings))
	}

	resolved, err := t.resolver.Resolve(ctx, report, findings)
	if err != nil {
		return err
	}

	return t.recorder.Record(ctx, report, resolved)
}

// fail records the terminal failure on the report. The error itself
// still propagates to the queue, which owns redelivery.
func (t *IngestScanTask) fail(ctx context.Context, report *models.Report, cause error) {
	msg := cause.Error()
	if err := t.reportRepo.UpdateStatus(ctx, report.ID, models.ReportStatusFailed, &msg); err != nil {
		t.logger.Error("failed to mark report failed",
			zap.String("report_id", report.ID.String()),
			zap.Error(err))
	}
	t.logger.Error("scan ingestion failed",
		zap.String("report_id", report.ID.String()),
		zap.String("file_key", t.payload.FileKey),
		zap.Error(cause))
}
