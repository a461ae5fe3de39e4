package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/database"
	"github.com/trailhead-sec/scantrail/pkg/models"
)

// uniqueViolationCode is the PostgreSQL error code for unique
// constraint violations.
const uniqueViolationCode = "23505"

// ReportRepository defines the interface for report data access.
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	Get(ctx context.Context, id uuid.UUID) (*models.Report, error)
	// UpdateStatus sets the report's status; errMessage is recorded
	// alongside FAILED and cleared otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus, errMessage *string) error
	// FindPreviousCompleted returns the given report's predecessor:
	// the project's most recent other COMPLETED report with an earlier
	// creation timestamp. Returns ErrNotFound when none exists.
	FindPreviousCompleted(ctx context.Context, report *models.Report) (*models.Report, error)
	// SoftDelete marks a report DELETED. Management operation; the
	// pipeline never calls it.
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// reportRepository implements ReportRepository using PostgreSQL.
type reportRepository struct {
	db *database.DB
}

// NewReportRepository creates a new report repository.
func NewReportRepository(db *database.DB) ReportRepository {
	return &reportRepository{db: db}
}

// Create inserts a new report in state QUEUED. A duplicate
// (project, analysis key) pair among non-deleted reports is rejected
// with ErrConflict.
func (r *reportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.Status == "" {
		report.Status = models.ReportStatusQueued
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO reports (id, project_id, original_name, status, analysis_key, analysis_date, analysis_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		report.ID,
		report.ProjectID,
		report.OriginalName,
		report.Status,
		report.AnalysisKey,
		report.AnalysisDate,
		report.AnalysisVersion,
		report.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("analysis key already ingested for project: %w", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// Get retrieves a report by ID.
func (r *reportRepository) Get(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	query := `
		SELECT id, project_id, original_name, status, analysis_key, analysis_date, analysis_version, error_message, created_at
		FROM reports
		WHERE id = $1`

	report, err := scanReport(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// UpdateStatus sets the report's lifecycle status.
func (r *reportRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus, errMessage *string) error {
	query := `
		UPDATE reports
		SET status = $2, error_message = $3
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status, errMessage)
	if err != nil {
		return fmt.Errorf("failed to update report status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// FindPreviousCompleted locates the most recent other completed
// report of the same project created before the given one. Creation
// timestamp ties are broken by id order so the predecessor is stable;
// a report is never compared against itself.
func (r *reportRepository) FindPreviousCompleted(ctx context.Context, report *models.Report) (*models.Report, error) {
	if report.ProjectID == nil {
		return nil, apperrors.ErrNotFound
	}

	query := `
		SELECT id, project_id, original_name, status, analysis_key, analysis_date, analysis_version, error_message, created_at
		FROM reports
		WHERE project_id = $1
		  AND id <> $2
		  AND status = $3
		  AND (created_at < $4 OR (created_at = $4 AND id < $2))
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	prev, err := scanReport(r.db.QueryRow(ctx, query,
		report.ProjectID, report.ID, models.ReportStatusCompleted, report.CreatedAt))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find previous completed report: %w", err)
	}
	return prev, nil
}

// SoftDelete marks a report DELETED without removing its rows.
func (r *reportRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.UpdateStatus(ctx, id, models.ReportStatusDeleted, nil)
}

func scanReport(row pgx.Row) (*models.Report, error) {
	var report models.Report
	err := row.Scan(
		&report.ID,
		&report.ProjectID,
		&report.OriginalName,
		&report.Status,
		&report.AnalysisKey,
		&report.AnalysisDate,
		&report.AnalysisVersion,
		&report.ErrorMessage,
		&report.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Ensure reportRepository implements ReportRepository at compile time.
var _ ReportRepository = (*reportRepository)(nil)
