package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/config"
	"github.com/trailhead-sec/scantrail/pkg/models"
)

// In-memory repository fakes shared by the service tests. They mirror
// the conflict-skip semantics of the real repositories so idempotency
// paths behave the same way under test.

type fakeUniqueIssueRepo struct {
	mu      sync.Mutex
	catalog map[models.IssueKey]uuid.UUID
	issues  map[uuid.UUID]*models.UniqueIssue
	touched map[uuid.UUID]time.Time

	loadErr    error
	insertErr  error
	resolveErr error
	touchErr   error
}

func newFakeUniqueIssueRepo() *fakeUniqueIssueRepo {
	return &fakeUniqueIssueRepo{
		catalog: make(map[models.IssueKey]uuid.UUID),
		issues:  make(map[uuid.UUID]*models.UniqueIssue),
		touched: make(map[uuid.UUID]time.Time),
	}
}

func (r *fakeUniqueIssueRepo) seed(issue *models.UniqueIssue) {
	r.catalog[issue.Key()] = issue.ID
	r.issues[issue.ID] = issue
}

func (r *fakeUniqueIssueRepo) LoadCatalog(_ context.Context, projectID uuid.UUID) (map[models.IssueKey]uuid.UUID, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.IssueKey]uuid.UUID, len(r.catalog))
	for k, id := range r.catalog {
		if r.issues[id].ProjectID == projectID {
			out[k] = id
		}
	}
	return out, nil
}

func (r *fakeUniqueIssueRepo) BulkInsert(_ context.Context, issues []*models.UniqueIssue, _ int) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, issue := range issues {
		if _, exists := r.catalog[issue.Key()]; exists {
			continue
		}
		r.catalog[issue.Key()] = issue.ID
		r.issues[issue.ID] = issue
	}
	return nil
}

func (r *fakeUniqueIssueRepo) ResolveIDs(_ context.Context, projectID uuid.UUID, keys []models.IssueKey, _ int) (map[models.IssueKey]uuid.UUID, error) {
	if r.resolveErr != nil {
		return nil, r.resolveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.IssueKey]uuid.UUID, len(keys))
	for _, key := range keys {
		if id, ok := r.catalog[key]; ok && r.issues[id].ProjectID == projectID {
			out[key] = id
		}
	}
	return out, nil
}

func (r *fakeUniqueIssueRepo) TouchLastSeen(_ context.Context, ids []uuid.UUID, seenAt time.Time, _ int) error {
	if r.touchErr != nil {
		return r.touchErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.touched[id] = seenAt
	}
	return nil
}

func (r *fakeUniqueIssueRepo) CountByProject(_ context.Context, projectID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, issue := range r.issues {
		if issue.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

type fakeOccurrenceRepo struct {
	mu   sync.Mutex
	rows map[models.Occurrence]struct{}

	insertErr error
}

func newFakeOccurrenceRepo() *fakeOccurrenceRepo {
	return &fakeOccurrenceRepo{rows: make(map[models.Occurrence]struct{})}
}

func (r *fakeOccurrenceRepo) BulkInsert(_ context.Context, occurrences []models.Occurrence, _ int) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range occurrences {
		r.rows[o] = struct{}{}
	}
	return nil
}

func (r *fakeOccurrenceRepo) CountByReport(_ context.Context, reportID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for o := range r.rows {
		if o.ReportID == reportID {
			count++
		}
	}
	return count, nil
}

func (r *fakeOccurrenceRepo) CountByIssue(_ context.Context, uniqueIssueID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for o := range r.rows {
		if o.UniqueIssueID == uniqueIssueID {
			count++
		}
	}
	return count, nil
}

type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*models.Report
	// statusLog records every UpdateStatus call in order.
	statusLog []models.ReportStatus
	prev      *models.Report

	createErr error
	getErr    error
	updateErr error
	prevErr   error
}

func newFakeReportRepo(reports ...*models.Report) *fakeReportRepo {
	r := &fakeReportRepo{reports: make(map[uuid.UUID]*models.Report)}
	for _, report := range reports {
		r.reports[report.ID] = report
	}
	return r
}

func (r *fakeReportRepo) Create(_ context.Context, report *models.Report) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.ID] = report
	return nil
}

func (r *fakeReportRepo) Get(_ context.Context, id uuid.UUID) (*models.Report, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *report
	return &copied, nil
}

func (r *fakeReportRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.ReportStatus, errMessage *string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	report.Status = status
	report.ErrorMessage = errMessage
	r.statusLog = append(r.statusLog, status)
	return nil
}

func (r *fakeReportRepo) FindPreviousCompleted(_ context.Context, _ *models.Report) (*models.Report, error) {
	if r.prevErr != nil {
		return nil, r.prevErr
	}
	if r.prev == nil {
		return nil, apperrors.ErrNotFound
	}
	return r.prev, nil
}

func (r *fakeReportRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	return r.UpdateStatus(context.Background(), id, models.ReportStatusDeleted, nil)
}

type fakeReportIssueRepo struct {
	pages map[uuid.UUID]*models.IssuePage
	sigs  map[uuid.UUID][]models.IssueSignature
	stats map[uuid.UUID]*models.ReportStats

	pageErr error
	sigErr  error
	statErr error
}

func newFakeReportIssueRepo() *fakeReportIssueRepo {
	return &fakeReportIssueRepo{
		pages: make(map[uuid.UUID]*models.IssuePage),
		sigs:  make(map[uuid.UUID][]models.IssueSignature),
		stats: make(map[uuid.UUID]*models.ReportStats),
	}
}

func (r *fakeReportIssueRepo) ListPage(_ context.Context, reportID uuid.UUID, _, _ int) (*models.IssuePage, error) {
	if r.pageErr != nil {
		return nil, r.pageErr
	}
	if page, ok := r.pages[reportID]; ok {
		return page, nil
	}
	return &models.IssuePage{}, nil
}

func (r *fakeReportIssueRepo) ListSignatures(_ context.Context, reportID uuid.UUID) ([]models.IssueSignature, error) {
	if r.sigErr != nil {
		return nil, r.sigErr
	}
	return r.sigs[reportID], nil
}

func (r *fakeReportIssueRepo) Stats(_ context.Context, reportID uuid.UUID) (*models.ReportStats, error) {
	if r.statErr != nil {
		return nil, r.statErr
	}
	if stats, ok := r.stats[reportID]; ok {
		return stats, nil
	}
	return &models.ReportStats{TypeCounts: map[string]int{}, SeverityCounts: map[string]int{}}, nil
}

// newFinding builds a fully derived finding the way the export parser
// would.
func newFinding(ruleKey, fileName string, line int, issueType, severity string) *models.Finding {
	return &models.Finding{
		Message:     "finding for " + ruleKey,
		Type:        issueType,
		Severity:    severity,
		RuleKey:     ruleKey,
		RuleName:    ruleKey + " rule",
		FileName:    fileName,
		FileLine:    line,
		TypeIdx:     models.TypeIndex(issueType),
		SeverityIdx: models.SeverityIndex(severity),
		LineGroup:   models.LineGroup(line),
	}
}

func ingestTestConfig() *config.IngestConfig {
	return &config.IngestConfig{
		MaxArchiveBytes:           1 << 20,
		MaxArchiveEntries:         100,
		MaxFindings:               1000,
		IssueInsertBatchSize:      500,
		OccurrenceInsertBatchSize: 1000,
		LastSeenBatchSize:         5000,
	}
}
