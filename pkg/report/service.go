// Package report provides the read-side compliance queries over the ledger.
// Every response is computed from committed ledger state at call time; the
// service holds no cache that could drift from the audit trail.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

// Ledger is the read surface the reporting service consumes.
type Ledger interface {
	AllStatuses(ctx context.Context) ([]scanhub.ComplianceStatus, error)
	LatestStatus(ctx context.Context, repositoryID string) (scanhub.ComplianceStatus, error)
	ListRuns(ctx context.Context, repositoryID string, limit, offset int) ([]scanhub.ScanRun, error)
	RecentRuns(ctx context.Context, limit int) ([]scanhub.ScanRun, error)
	RunsBetween(ctx context.Context, repositoryID string, from, to time.Time) ([]scanhub.ScanRun, error)
	TasksForRepository(ctx context.Context, repositoryID string) ([]scanhub.RemediationTask, error)
}

// Service answers dashboard and report queries.
type Service struct {
	ledger Ledger
	clock  ext.Clock
}

// NewService constructs a reporting Service over the given ledger.
func NewService(ledger Ledger, clock ext.Clock) *Service {
	return &Service{
		ledger: ledger,
		clock:  clock,
	}
}

// TrendPoint is one run's contribution to the recent issue trend.
type TrendPoint struct {
	RunID        string            `json:"runId"`
	RepositoryID string            `json:"repositoryId"`
	FinishedAt   time.Time         `json:"finishedAt"`
	IssueCount   int               `json:"issueCount"`
	Status       scanhub.RunStatus `json:"status"`
}

// Dashboard is the current compliance view across repositories.
type Dashboard struct {
	GeneratedAt time.Time                  `json:"generatedAt"`
	Statuses    []scanhub.ComplianceStatus `json:"statuses"`
	Trend       []TrendPoint               `json:"recentIssueTrend"`
}

// Dashboard returns current compliance statuses plus the recent issue trend.
// With a repository id it narrows to that repository; otherwise it covers
// all known repositories.
func (s *Service) Dashboard(ctx context.Context, repositoryID string) (Dashboard, error) {
	dashboard := Dashboard{
		GeneratedAt: s.clock.Now(),
	}

	var runs []scanhub.ScanRun
	var err error
	if repositoryID != "" {
		status, err := s.ledger.LatestStatus(ctx, repositoryID)
		if err != nil {
			return Dashboard{}, err
		}
		dashboard.Statuses = []scanhub.ComplianceStatus{status}
		runs, err = s.ledger.ListRuns(ctx, repositoryID, 20, 0)
		if err != nil {
			return Dashboard{}, err
		}
	} else {
		dashboard.Statuses, err = s.ledger.AllStatuses(ctx)
		if err != nil {
			return Dashboard{}, err
		}
		runs, err = s.ledger.RecentRuns(ctx, 20)
		if err != nil {
			return Dashboard{}, err
		}
	}

	dashboard.Trend = make([]TrendPoint, 0, len(runs))
	for _, run := range runs {
		dashboard.Trend = append(dashboard.Trend, TrendPoint{
			RunID:        run.ID,
			RepositoryID: run.RepositoryID,
			FinishedAt:   run.FinishedAt,
			IssueCount:   run.Summary.Total(),
			Status:       run.OverallStatus,
		})
	}
	return dashboard, nil
}

// DayStat aggregates one calendar day of a repository's scan history.
type DayStat struct {
	Date              string  `json:"date"`
	ScanCount         int     `json:"scanCount"`
	AvgIssueCount     float64 `json:"avgIssueCount"`
	CompliantCount    int     `json:"compliantCount"`
	NonCompliantCount int     `json:"nonCompliantCount"`
	CompliantRatioPct float64 `json:"compliantRatioPct"`
}

// Summary aggregates a whole report window.
type Summary struct {
	TotalScans        int     `json:"totalScans"`
	CompliantScans    int     `json:"compliantScans"`
	NonCompliantScans int     `json:"nonCompliantScans"`
	CompliancePct     float64 `json:"compliancePct"`
	AvgIssuesPerScan  float64 `json:"avgIssuesPerScan"`
	MaxIssuesInScan   int     `json:"maxIssuesInScan"`
}

// RunDigest is a compact reference to one recorded run.
type RunDigest struct {
	RunID      string    `json:"runId"`
	FinishedAt time.Time `json:"finishedAt"`
	IssueCount int       `json:"issueCount"`
}

// Report is a repository's compliance report for a time window.
type Report struct {
	RepositoryID       string                    `json:"repositoryId"`
	WindowStart        time.Time                 `json:"windowStart"`
	WindowEnd          time.Time                 `json:"windowEnd"`
	Summary            Summary                   `json:"summary"`
	Days               []DayStat                 `json:"days"`
	RecentNonCompliant []RunDigest               `json:"recentNonCompliantRuns"`
	OpenTasks          []scanhub.RemediationTask `json:"openRemediationTasks"`
}

// Report computes per-day scan counts, average issue counts and the
// compliant ratio for the repository over [from, to). Cancelled runs count
// toward scan volume but not toward the compliance ratio.
func (s *Service) Report(ctx context.Context, repositoryID string, from, to time.Time) (Report, error) {
	if !to.After(from) {
		return Report{}, fmt.Errorf("invalid report window: %s is not after %s", to, from)
	}
	runs, err := s.ledger.RunsBetween(ctx, repositoryID, from, to)
	if err != nil {
		return Report{}, err
	}

	result := Report{
		RepositoryID: repositoryID,
		WindowStart:  from.UTC(),
		WindowEnd:    to.UTC(),
	}

	byDay := make(map[string][]scanhub.ScanRun)
	totalIssues := 0
	nonCompliant := make([]RunDigest, 0)
	for _, run := range runs {
		day := run.FinishedAt.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], run)

		issueCount := run.Summary.Total()
		totalIssues += issueCount
		if issueCount > result.Summary.MaxIssuesInScan {
			result.Summary.MaxIssuesInScan = issueCount
		}
		result.Summary.TotalScans++
		switch run.OverallStatus {
		case scanhub.RunStatusCompliant:
			result.Summary.CompliantScans++
		case scanhub.RunStatusNonCompliant:
			result.Summary.NonCompliantScans++
			nonCompliant = append(nonCompliant, RunDigest{
				RunID:      run.ID,
				FinishedAt: run.FinishedAt,
				IssueCount: issueCount,
			})
		}
	}

	if result.Summary.TotalScans > 0 {
		result.Summary.AvgIssuesPerScan = float64(totalIssues) / float64(result.Summary.TotalScans)
	}
	if judged := result.Summary.CompliantScans + result.Summary.NonCompliantScans; judged > 0 {
		result.Summary.CompliancePct = float64(result.Summary.CompliantScans) / float64(judged) * 100
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		result.Days = append(result.Days, dayStat(day, byDay[day]))
	}

	// Newest first, capped like the upstream compliance report.
	sort.Slice(nonCompliant, func(i, j int) bool {
		return nonCompliant[i].FinishedAt.After(nonCompliant[j].FinishedAt)
	})
	if len(nonCompliant) > 10 {
		nonCompliant = nonCompliant[:10]
	}
	result.RecentNonCompliant = nonCompliant

	tasks, err := s.ledger.TasksForRepository(ctx, repositoryID)
	if err != nil {
		return Report{}, err
	}
	result.OpenTasks = make([]scanhub.RemediationTask, 0)
	for _, task := range tasks {
		if task.Status == scanhub.TaskStatusOpen {
			result.OpenTasks = append(result.OpenTasks, task)
		}
	}

	return result, nil
}

func dayStat(day string, runs []scanhub.ScanRun) DayStat {
	stat := DayStat{
		Date:      day,
		ScanCount: len(runs),
	}
	issues := 0
	for _, run := range runs {
		issues += run.Summary.Total()
		switch run.OverallStatus {
		case scanhub.RunStatusCompliant:
			stat.CompliantCount++
		case scanhub.RunStatusNonCompliant:
			stat.NonCompliantCount++
		}
	}
	if stat.ScanCount > 0 {
		stat.AvgIssueCount = float64(issues) / float64(stat.ScanCount)
	}
	if judged := stat.CompliantCount + stat.NonCompliantCount; judged > 0 {
		stat.CompliantRatioPct = float64(stat.CompliantCount) / float64(judged) * 100
	}
	return stat
}
