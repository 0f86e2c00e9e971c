package aggregate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scanhub/scanhub/pkg/aggregate"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

func finding(category scanhub.Category, severity scanhub.Severity, title string) scanhub.Finding {
	return scanhub.Finding{
		ToolName: "tool",
		Severity: severity,
		Category: category,
		Title:    title,
	}
}

func TestVerdict(t *testing.T) {
	testCases := []struct {
		name string

		issues    []scanhub.Finding
		threshold scanhub.Severity

		expected scanhub.RunStatus
	}{
		{
			name:      "Should be compliant with zero issues",
			issues:    nil,
			threshold: scanhub.SeverityHigh,
			expected:  scanhub.RunStatusCompliant,
		},
		{
			name: "Should be non-compliant on any critical issue regardless of threshold",
			issues: []scanhub.Finding{
				finding(scanhub.CategorySecrets, scanhub.SeverityCritical, "aws key"),
			},
			threshold: scanhub.SeverityCritical,
			expected:  scanhub.RunStatusNonCompliant,
		},
		{
			name: "Should be non-compliant when an issue meets the threshold",
			issues: []scanhub.Finding{
				finding(scanhub.CategoryStaticAnalysis, scanhub.SeverityHigh, "sql injection"),
			},
			threshold: scanhub.SeverityHigh,
			expected:  scanhub.RunStatusNonCompliant,
		},
		{
			name: "Should be compliant when all issues fall below the threshold",
			issues: []scanhub.Finding{
				finding(scanhub.CategoryStaticAnalysis, scanhub.SeverityMedium, "weak cipher"),
				finding(scanhub.CategoryLicenseCompliance, scanhub.SeverityLow, "unknown license"),
			},
			threshold: scanhub.SeverityHigh,
			expected:  scanhub.RunStatusCompliant,
		},
		{
			name: "Should be non-compliant when the threshold is lowered to medium",
			issues: []scanhub.Finding{
				finding(scanhub.CategoryStaticAnalysis, scanhub.SeverityMedium, "weak cipher"),
			},
			threshold: scanhub.SeverityMedium,
			expected:  scanhub.RunStatusNonCompliant,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			summary := scanhub.SeveritySummary{}
			for _, issue := range tc.issues {
				if issue.Severity == scanhub.SeverityCritical {
					summary.CriticalCount++
				}
			}
			assert.Equal(t, tc.expected, aggregate.Verdict(summary, tc.issues, tc.threshold))
		})
	}
}

func TestNewScanRun(t *testing.T) {
	startedAt := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	finishedAt := startedAt.Add(3 * time.Minute)

	request := scanhub.ScanRequest{
		RepositoryID:      "acme/payments-api",
		Branch:            "main",
		CommitSHA:         "deadbeef",
		Mode:              "all",
		SeverityThreshold: scanhub.SeverityHigh,
	}

	results := []scanhub.AdapterResult{
		{
			Category: scanhub.CategoryStaticAnalysis,
			Outcome:  scanhub.OutcomeSuccess,
			Findings: []scanhub.Finding{
				finding(scanhub.CategoryStaticAnalysis, scanhub.SeverityMedium, "weak cipher"),
			},
		},
		{
			Category: scanhub.CategorySecrets,
			Outcome:  scanhub.OutcomeSuccess,
			Findings: []scanhub.Finding{
				finding(scanhub.CategorySecrets, scanhub.SeverityCritical, "aws key"),
				finding(scanhub.CategorySecrets, scanhub.SeverityHigh, "github token"),
			},
		},
		{
			Category:    scanhub.CategoryDependencyVulnerabilities,
			Outcome:     scanhub.OutcomeFailure,
			ErrorDetail: "engine crashed",
		},
		{
			Category:    scanhub.CategoryDynamicAnalysis,
			Outcome:     scanhub.OutcomeSkipped,
			ErrorDetail: "no target endpoint supplied for dynamic analysis",
		},
	}

	t.Run("Should merge findings in canonical category order", func(t *testing.T) {
		run := aggregate.NewScanRun("run-1", request, results, startedAt, finishedAt)
		assert.Equal(t, []scanhub.Finding{
			finding(scanhub.CategorySecrets, scanhub.SeverityCritical, "aws key"),
			finding(scanhub.CategorySecrets, scanhub.SeverityHigh, "github token"),
			finding(scanhub.CategoryStaticAnalysis, scanhub.SeverityMedium, "weak cipher"),
		}, run.Issues)
	})

	t.Run("Should compute the severity summary", func(t *testing.T) {
		run := aggregate.NewScanRun("run-1", request, results, startedAt, finishedAt)
		assert.Equal(t, scanhub.SeveritySummary{
			CriticalCount: 1,
			HighCount:     1,
			MediumCount:   1,
		}, run.Summary)
		assert.Equal(t, 3, run.Summary.Total())
	})

	t.Run("Should list only successful categories as coverage", func(t *testing.T) {
		run := aggregate.NewScanRun("run-1", request, results, startedAt, finishedAt)
		assert.Equal(t, []scanhub.Category{
			scanhub.CategorySecrets,
			scanhub.CategoryStaticAnalysis,
		}, run.Coverage)
	})

	t.Run("Should be non-compliant on critical findings", func(t *testing.T) {
		run := aggregate.NewScanRun("run-1", request, results, startedAt, finishedAt)
		assert.Equal(t, scanhub.RunStatusNonCompliant, run.OverallStatus)
	})

	t.Run("Should not depend on adapter completion order", func(t *testing.T) {
		reversed := make([]scanhub.AdapterResult, 0, len(results))
		for i := len(results) - 1; i >= 0; i-- {
			reversed = append(reversed, results[i])
		}
		run := aggregate.NewScanRun("run-1", request, results, startedAt, finishedAt)
		rerun := aggregate.NewScanRun("run-1", request, reversed, startedAt, finishedAt)
		assert.Equal(t, run.Issues, rerun.Issues)
		assert.Equal(t, run.Summary, rerun.Summary)
		assert.Equal(t, run.Coverage, rerun.Coverage)
		assert.Equal(t, run.OverallStatus, rerun.OverallStatus)
	})

	t.Run("Should fall back to the default threshold when the request has none", func(t *testing.T) {
		blank := request
		blank.SeverityThreshold = ""
		run := aggregate.NewScanRun("run-1", blank, nil, startedAt, finishedAt)
		assert.Equal(t, aggregate.DefaultSeverityThreshold, run.SeverityThreshold)
		assert.Equal(t, scanhub.RunStatusCompliant, run.OverallStatus)
	})
}

func TestFinancialSignals(t *testing.T) {
	startedAt := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	request := scanhub.ScanRequest{RepositoryID: "acme/billing", Mode: "all"}

	t.Run("Should flag payment and tax patterns from a successful financial scan", func(t *testing.T) {
		results := []scanhub.AdapterResult{
			{
				Category: scanhub.CategoryFinancialCompliance,
				Outcome:  scanhub.OutcomeSuccess,
				Findings: []scanhub.Finding{
					{Category: scanhub.CategoryFinancialCompliance, Severity: scanhub.SeverityLow, RuleID: "FIN-CARD-001", Title: "card number in log"},
					{Category: scanhub.CategoryFinancialCompliance, Severity: scanhub.SeverityLow, RuleID: "FIN-VAT-002", Title: "vat id exposure"},
				},
			},
		}
		run := aggregate.NewScanRun("run-1", request, results, startedAt, startedAt)
		assert.Equal(t, []string{aggregate.SignalPaymentPattern, aggregate.SignalTaxDataPattern}, run.FinancialSignals)
	})

	t.Run("Should not derive signals from a failed financial scan", func(t *testing.T) {
		results := []scanhub.AdapterResult{
			{
				Category:    scanhub.CategoryFinancialCompliance,
				Outcome:     scanhub.OutcomeFailure,
				ErrorDetail: "engine crashed",
				Findings: []scanhub.Finding{
					{Category: scanhub.CategoryFinancialCompliance, RuleID: "FIN-CARD-001"},
				},
			},
		}
		run := aggregate.NewScanRun("run-1", request, results, startedAt, startedAt)
		assert.Nil(t, run.FinancialSignals)
	})

	t.Run("Should not derive signals from other categories", func(t *testing.T) {
		results := []scanhub.AdapterResult{
			{
				Category: scanhub.CategorySecrets,
				Outcome:  scanhub.OutcomeSuccess,
				Findings: []scanhub.Finding{
					{Category: scanhub.CategorySecrets, RuleID: "card-in-code"},
				},
			},
		}
		run := aggregate.NewScanRun("run-1", request, results, startedAt, startedAt)
		assert.Nil(t, run.FinancialSignals)
	})
}
