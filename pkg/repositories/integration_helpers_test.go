//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/testhelpers"
)

// repoTestContext holds shared dependencies for repository tests. Each
// test seeds its own project so tests stay isolated inside the shared
// container.
type repoTestContext struct {
	t         *testing.T
	testDB    *testhelpers.TestDB
	projectID uuid.UUID
}

func setupRepoTest(t *testing.T) *repoTestContext {
	testDB := testhelpers.GetTestDB(t)
	tc := &repoTestContext{
		t:         t,
		testDB:    testDB,
		projectID: uuid.New(),
	}
	tc.seedProject()
	return tc
}

func (tc *repoTestContext) seedProject() {
	tc.t.Helper()
	_, err := tc.testDB.DB.Exec(context.Background(), `
		INSERT INTO projects (id, name, scan_system_key, created_at)
		VALUES ($1, $2, $3, now())
	`, tc.projectID, "Repo Test Project "+tc.projectID.String()[:8], "repo-test-"+tc.projectID.String()[:8])
	require.NoError(tc.t, err)
}

// seedReport inserts a report for the context's project.
func (tc *repoTestContext) seedReport(status models.ReportStatus, createdAt time.Time) *models.Report {
	tc.t.Helper()
	report := &models.Report{
		ID:           uuid.New(),
		ProjectID:    &tc.projectID,
		OriginalName: "scan.zip",
		Status:       status,
		CreatedAt:    createdAt,
	}
	require.NoError(tc.t, NewReportRepository(tc.testDB.DB).Create(context.Background(), report))
	return report
}

// seedIssue inserts one catalog entry for the context's project.
func (tc *repoTestContext) seedIssue(ruleKey, fileName string, fileLine int, seenAt time.Time) *models.UniqueIssue {
	tc.t.Helper()
	issue := models.NewUniqueIssue(tc.projectID, &models.Finding{
		Message:     "issue " + ruleKey,
		Type:        "BUG",
		Severity:    "MAJOR",
		RuleKey:     ruleKey,
		RuleName:    ruleKey + " rule",
		FileName:    fileName,
		FileLine:    fileLine,
		TypeIdx:     models.TypeIndex("BUG"),
		SeverityIdx: models.SeverityIndex("MAJOR"),
		LineGroup:   models.LineGroup(fileLine),
	}, seenAt)
	require.NoError(tc.t, NewUniqueIssueRepository(tc.testDB.DB).BulkInsert(context.Background(), []*models.UniqueIssue{issue}, 10))
	return issue
}
