package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/models"
)

func sig(ruleKey, fileName string, line int) models.IssueSignature {
	return models.IssueSignature{RuleKey: ruleKey, FileName: fileName, FileLine: line}
}

func completedReport(projectID uuid.UUID, createdAt time.Time) *models.Report {
	return &models.Report{
		ID:        uuid.New(),
		ProjectID: &projectID,
		Status:    models.ReportStatusCompleted,
		CreatedAt: createdAt,
	}
}

func TestDiff_StatsAgainstPrevious(t *testing.T) {
	projectID := uuid.New()
	prev := completedReport(projectID, time.Now().Add(-time.Hour))
	current := completedReport(projectID, time.Now())

	reportRepo := newFakeReportRepo(prev, current)
	reportRepo.prev = prev
	issueRepo := newFakeReportIssueRepo()

	// Previous scan had 10 issues; the current one has 12, of which 3
	// are at signatures the previous scan did not have. One previous
	// issue disappeared, so 10 - 1 + 3 = 12.
	prevSigs := make([]models.IssueSignature, 0, 10)
	for i := 0; i < 10; i++ {
		prevSigs = append(prevSigs, sig("go:S1", fmt.Sprintf("file%d.go", i), 10))
	}
	currentSigs := append([]models.IssueSignature{}, prevSigs[:9]...)
	currentSigs = append(currentSigs,
		sig("go:S2", "new1.go", 5),
		sig("go:S2", "new2.go", 5),
		sig("go:S2", "new3.go", 5),
	)
	issueRepo.sigs[prev.ID] = prevSigs
	issueRepo.sigs[current.ID] = currentSigs
	issueRepo.stats[prev.ID] = &models.ReportStats{
		Total:          10,
		TypeCounts:     map[string]int{"BUG": 10},
		SeverityCounts: map[string]int{"MAJOR": 10},
	}
	issueRepo.stats[current.ID] = &models.ReportStats{
		Total:          12,
		TypeCounts:     map[string]int{"BUG": 9, "VULNERABILITY": 3},
		SeverityCounts: map[string]int{"MAJOR": 9, "BLOCKER": 3},
	}

	svc := NewReportDiffService(reportRepo, issueRepo, zap.NewNop())
	stats, diff, err := svc.Stats(context.Background(), current.ID)
	require.NoError(t, err)
	require.NotNil(t, diff)

	assert.Equal(t, 12, stats.Total)
	assert.Equal(t, prev.ID, diff.PreviousReportID)
	assert.Equal(t, 10, diff.PreviousTotal)
	assert.Equal(t, 2, diff.Diff)
	assert.Equal(t, 20.0, diff.DiffPercent)
	assert.Equal(t, 3, diff.NewIssuesCount)
	assert.Equal(t, map[string]int{"BUG": -1, "VULNERABILITY": 3}, diff.TypeDiffs)
	assert.Equal(t, map[string]int{"MAJOR": -1, "BLOCKER": 3}, diff.SeverityDiffs)
}

func TestDiff_NoPreviousReport(t *testing.T) {
	projectID := uuid.New()
	current := completedReport(projectID, time.Now())

	reportRepo := newFakeReportRepo(current)
	issueRepo := newFakeReportIssueRepo()
	issueRepo.stats[current.ID] = &models.ReportStats{Total: 5}

	svc := NewReportDiffService(reportRepo, issueRepo, zap.NewNop())
	stats, diff, err := svc.Stats(context.Background(), current.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Total)
	assert.Nil(t, diff)
}

func TestDiff_PercentZeroWhenPreviousEmpty(t *testing.T) {
	projectID := uuid.New()
	prev := completedReport(projectID, time.Now().Add(-time.Hour))
	current := completedReport(projectID, time.Now())

	reportRepo := newFakeReportRepo(prev, current)
	reportRepo.prev = prev
	issueRepo := newFakeReportIssueRepo()
	issueRepo.sigs[current.ID] = []models.IssueSignature{sig("go:S1", "main.go", 10)}
	issueRepo.stats[prev.ID] = &models.ReportStats{Total: 0, TypeCounts: map[string]int{}, SeverityCounts: map[string]int{}}
	issueRepo.stats[current.ID] = &models.ReportStats{Total: 1, TypeCounts: map[string]int{"BUG": 1}, SeverityCounts: map[string]int{"MAJOR": 1}}

	svc := NewReportDiffService(reportRepo, issueRepo, zap.NewNop())
	_, diff, err := svc.Stats(context.Background(), current.ID)
	require.NoError(t, err)
	require.NotNil(t, diff)

	assert.Equal(t, 1, diff.Diff)
	assert.Equal(t, 0.0, diff.DiffPercent)
	assert.Equal(t, 1, diff.NewIssuesCount)
}

func TestDiff_PercentRounding(t *testing.T) {
	// 1 fewer out of 3 is -33.333…%, rounded to one decimal.
	assert.Equal(t, -33.3, diffPercent(2, 3))
	assert.Equal(t, 50.0, diffPercent(3, 2))
	assert.Equal(t, 0.0, diffPercent(0, 0))
}

func TestDiff_IssuePageFlagsNew(t *testing.T) {
	projectID := uuid.New()
	prev := completedReport(projectID, time.Now().Add(-time.Hour))
	current := completedReport(projectID, time.Now())

	carried := models.UniqueIssue{
		ID: uuid.New(), ProjectID: projectID,
		RuleKey: "go:S1", FileName: "main.go", FileLine: 10,
	}
	introduced := models.UniqueIssue{
		ID: uuid.New(), ProjectID: projectID,
		RuleKey: "go:S2", FileName: "util.go", FileLine: 7,
	}

	reportRepo := newFakeReportRepo(prev, current)
	reportRepo.prev = prev
	issueRepo := newFakeReportIssueRepo()
	issueRepo.pages[current.ID] = &models.IssuePage{
		Issues: []models.ReportIssue{{UniqueIssue: carried}, {UniqueIssue: introduced}},
		Total:  2,
		Limit:  50,
	}
	issueRepo.sigs[prev.ID] = []models.IssueSignature{carried.Signature()}
	issueRepo.sigs[current.ID] = []models.IssueSignature{carried.Signature(), introduced.Signature()}
	issueRepo.stats[prev.ID] = &models.ReportStats{Total: 1}
	issueRepo.stats[current.ID] = &models.ReportStats{Total: 2}

	svc := NewReportDiffService(reportRepo, issueRepo, zap.NewNop())
	page, diff, err := svc.IssuePage(context.Background(), current.ID, 0, 50)
	require.NoError(t, err)
	require.NotNil(t, diff)

	require.Len(t, page.Issues, 2)
	assert.False(t, page.Issues[0].IsNew)
	assert.True(t, page.Issues[1].IsNew)
	assert.Equal(t, 1, diff.NewIssuesCount)
}

func TestDiff_UnknownReport(t *testing.T) {
	svc := NewReportDiffService(newFakeReportRepo(), newFakeReportIssueRepo(), zap.NewNop())
	_, _, err := svc.Stats(context.Background(), uuid.New())
	assert.Error(t, err)
}
