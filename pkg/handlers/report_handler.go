package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxUploadBytes  = 1 << 30 // request body cap; archive content limits live in the extractor
)

// ReportHandler exposes scan upload and report browsing endpoints.
type ReportHandler struct {
	reports *services.ReportService
	diff    *services.ReportDiffService
	logger  *zap.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports *services.ReportService, diff *services.ReportDiffService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, diff: diff, logger: logger}
}

// RegisterRoutes registers the report handler's routes on the given mux.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scans", h.UploadScan)
	mux.HandleFunc("GET /api/reports/{id}", h.GetReport)
	mux.HandleFunc("GET /api/reports/{id}/issues", h.GetReportIssues)
	mux.HandleFunc("GET /api/reports/{id}/stats", h.GetReportStats)
	mux.HandleFunc("DELETE /api/reports/{id}", h.DeleteReport)
}

// UploadScan handles POST /api/scans: a multipart archive upload plus
// optional project and analysis metadata. The archive is spooled to a
// temp file, pushed to the blob store and queued for ingestion.
func (h *ReportHandler) UploadScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("archive")
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "missing archive file")
		return
	}
	defer file.Close()

	params := services.QueueScanParams{OriginalName: header.Filename}

	if v := r.FormValue("project_id"); v != "" {
		projectID, err := uuid.Parse(v)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid project_id")
			return
		}
		params.ProjectID = &projectID
	}
	if v := r.FormValue("analysis_key"); v != "" {
		params.AnalysisKey = &v
	}
	if v := r.FormValue("analysis_version"); v != "" {
		params.AnalysisVersion = &v
	}
	if v := r.FormValue("analysis_date"); v != "" {
		date, err := time.Parse(time.RFC3339, v)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid analysis_date, want RFC3339")
			return
		}
		params.AnalysisDate = &date
	}

	tmp, err := os.CreateTemp("", "scantrail-upload-*.zip")
	if err != nil {
		h.logger.Error("failed to create upload spool file", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to store upload")
		return
	}
	defer func() {
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, file); err != nil {
		h.logger.Error("failed to spool upload", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to store upload")
		return
	}
	params.LocalPath = tmp.Name()

	report, err := h.reports.QueueScan(r.Context(), params)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			_ = ErrorResponse(w, http.StatusConflict, "conflict", "analysis key already ingested for this project")
			return
		}
		h.logger.Error("failed to queue scan", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to queue scan")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, report); err != nil {
		h.logger.Error("Failed to encode report response", zap.Error(err))
	}
}

// GetReport handles GET /api/reports/{id}.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reportID(w, r)
	if !ok {
		return
	}

	report, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to get report")
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode report response", zap.Error(err))
	}
}

// reportIssuesResponse is the detail-view payload: one page of issues
// with new flags plus aggregate deltas against the previous report.
type reportIssuesResponse struct {
	Issues []models.ReportIssue `json:"issues"`
	Total  int                  `json:"total"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
	Diff   *models.ReportDiff   `json:"diff,omitempty"`
}

// GetReportIssues handles GET /api/reports/{id}/issues?offset=&limit=.
func (h *ReportHandler) GetReportIssues(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reportID(w, r)
	if !ok {
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	page, diff, err := h.diff.IssuePage(r.Context(), id, offset, limit)
	if err != nil {
		h.writeError(w, err, "failed to list report issues")
		return
	}

	resp := reportIssuesResponse{
		Issues: page.Issues,
		Total:  page.Total,
		Offset: page.Offset,
		Limit:  page.Limit,
		Diff:   diff,
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode issues response", zap.Error(err))
	}
}

// reportStatsResponse aggregates a report's counts plus deltas.
type reportStatsResponse struct {
	Stats *models.ReportStats `json:"stats"`
	Diff  *models.ReportDiff  `json:"diff,omitempty"`
}

// GetReportStats handles GET /api/reports/{id}/stats.
func (h *ReportHandler) GetReportStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reportID(w, r)
	if !ok {
		return
	}

	stats, diff, err := h.diff.Stats(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to aggregate report stats")
		return
	}

	if err := WriteJSON(w, http.StatusOK, reportStatsResponse{Stats: stats, Diff: diff}); err != nil {
		h.logger.Error("Failed to encode stats response", zap.Error(err))
	}
}

// DeleteReport handles DELETE /api/reports/{id} (soft delete).
func (h *ReportHandler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reportID(w, r)
	if !ok {
		return
	}

	if err := h.reports.Delete(r.Context(), id); err != nil {
		h.writeError(w, err, "failed to delete report")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReportHandler) reportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid report id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReportHandler) writeError(w http.ResponseWriter, err error, logMsg string) {
	if errors.Is(err, apperrors.ErrNotFound) {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "report not found")
		return
	}
	h.logger.Error(logMsg, zap.Error(err))
	_ = ErrorResponse(w, http.StatusInternalServerError, "internal", logMsg)
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
