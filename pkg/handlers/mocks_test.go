package handlers

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/models"
)

// In-memory fakes backing the services under the HTTP handlers.

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project

	createErr error
	listErr   error
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[uuid.UUID]*models.Project)}
}

func (r *fakeProjectRepo) Create(_ context.Context, project *models.Project) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	r.projects[project.ID] = project
	return nil
}

func (r *fakeProjectRepo) Get(_ context.Context, id uuid.UUID) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return project, nil
}

func (r *fakeProjectRepo) List(_ context.Context) ([]*models.Project, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*models.Report
	prev    *models.Report

	createErr error
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
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	report.Status = status
	report.ErrorMessage = errMessage
	return nil
}

func (r *fakeReportRepo) FindPreviousCompleted(_ context.Context, _ *models.Report) (*models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prev == nil {
		return nil, apperrors.ErrNotFound
	}
	return r.prev, nil
}

func (r *fakeReportRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.UpdateStatus(ctx, id, models.ReportStatusDeleted, nil)
}

func (r *fakeReportRepo) status(id uuid.UUID) models.ReportStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[id].Status
}

type fakeUniqueIssueRepo struct {
	mu      sync.Mutex
	catalog map[models.IssueKey]uuid.UUID
}

func newFakeUniqueIssueRepo() *fakeUniqueIssueRepo {
	return &fakeUniqueIssueRepo{catalog: make(map[models.IssueKey]uuid.UUID)}
}

func (r *fakeUniqueIssueRepo) LoadCatalog(_ context.Context, _ uuid.UUID) (map[models.IssueKey]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.IssueKey]uuid.UUID, len(r.catalog))
	for k, v := range r.catalog {
		out[k] = v
	}
	return out, nil
}

func (r *fakeUniqueIssueRepo) BulkInsert(_ context.Context, issues []*models.UniqueIssue, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, issue := range issues {
		if _, exists := r.catalog[issue.Key()]; !exists {
			r.catalog[issue.Key()] = issue.ID
		}
	}
	return nil
}

func (r *fakeUniqueIssueRepo) ResolveIDs(_ context.Context, _ uuid.UUID, keys []models.IssueKey, _ int) (map[models.IssueKey]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.IssueKey]uuid.UUID, len(keys))
	for _, key := range keys {
		if id, ok := r.catalog[key]; ok {
			out[key] = id
		}
	}
	return out, nil
}

func (r *fakeUniqueIssueRepo) TouchLastSeen(_ context.Context, _ []uuid.UUID, _ time.Time, _ int) error {
	return nil
}

func (r *fakeUniqueIssueRepo) CountByProject(_ context.Context, _ uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.catalog), nil
}

type fakeOccurrenceRepo struct {
	mu   sync.Mutex
	rows map[models.Occurrence]struct{}
}

func newFakeOccurrenceRepo() *fakeOccurrenceRepo {
	return &fakeOccurrenceRepo{rows: make(map[models.Occurrence]struct{})}
}

func (r *fakeOccurrenceRepo) BulkInsert(_ context.Context, occurrences []models.Occurrence, _ int) error {
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

func (r *fakeOccurrenceRepo) CountByIssue(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

type fakeReportIssueRepo struct {
	pages map[uuid.UUID]*models.IssuePage
	sigs  map[uuid.UUID][]models.IssueSignature
	stats map[uuid.UUID]*models.ReportStats
}

func newFakeReportIssueRepo() *fakeReportIssueRepo {
	return &fakeReportIssueRepo{
		pages: make(map[uuid.UUID]*models.IssuePage),
		sigs:  make(map[uuid.UUID][]models.IssueSignature),
		stats: make(map[uuid.UUID]*models.ReportStats),
	}
}

func (r *fakeReportIssueRepo) ListPage(_ context.Context, reportID uuid.UUID, _, _ int) (*models.IssuePage, error) {
	if page, ok := r.pages[reportID]; ok {
		return page, nil
	}
	return &models.IssuePage{Issues: []models.ReportIssue{}}, nil
}

func (r *fakeReportIssueRepo) ListSignatures(_ context.Context, reportID uuid.UUID) ([]models.IssueSignature, error) {
	return r.sigs[reportID], nil
}

func (r *fakeReportIssueRepo) Stats(_ context.Context, reportID uuid.UUID) (*models.ReportStats, error) {
	if stats, ok := r.stats[reportID]; ok {
		return stats, nil
	}
	return &models.ReportStats{TypeCounts: map[string]int{}, SeverityCounts: map[string]int{}}, nil
}

// fakeStore keeps uploaded archives in memory so the spooled upload
// file can be deleted before the async pipeline downloads it.
type fakeStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[string][]byte)}
}

func (s *fakeStore) Download(_ context.Context, key, localPath string) error {
	s.mu.Lock()
	data, ok := s.blobs[key]
	s.mu.Unlock()
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (s *fakeStore) Upload(_ context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
