// Package aggregate merges normalized adapter results into a single scan run
// and derives its compliance verdict.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

// DefaultSeverityThreshold applies when a request carries no usable
// threshold.
const DefaultSeverityThreshold = scanhub.SeverityHigh

// NewScanRun builds the immutable ScanRun record for a completed coordinator
// run. Aggregating the same adapter results twice yields identical issue
// ordering and counts.
func NewScanRun(id string, request scanhub.ScanRequest, results []scanhub.AdapterResult, startedAt, finishedAt time.Time) scanhub.ScanRun {
	threshold := request.SeverityThreshold
	if _, err := scanhub.StringToSeverity(string(threshold)); err != nil {
		threshold = DefaultSeverityThreshold
	}

	issues := mergeFindings(results)
	summary := toSummary(issues)

	return scanhub.ScanRun{
		ID:                id,
		RepositoryID:      request.RepositoryID,
		Branch:            request.Branch,
		CommitSHA:         request.CommitSHA,
		Mode:              request.Mode,
		StartedAt:         startedAt,
		FinishedAt:        finishedAt,
		OverallStatus:     Verdict(summary, issues, threshold),
		SeverityThreshold: threshold,
		Summary:           summary,
		Coverage:          coverage(results),
		Issues:            issues,
		AdapterResults:    results,
		FinancialSignals:  financialSignals(results),
	}
}

// mergeFindings flattens all findings in canonical category order, preserving
// each adapter's original order within its category. The merge is therefore
// independent of adapter completion order.
func mergeFindings(results []scanhub.AdapterResult) []scanhub.Finding {
	issues := make([]scanhub.Finding, 0)
	for _, category := range scanhub.CanonicalCategories() {
		for _, result := range results {
			if result.Category != category {
				continue
			}
			issues = append(issues, result.Findings...)
		}
	}
	return issues
}

func toSummary(issues []scanhub.Finding) (s scanhub.SeveritySummary) {
	for _, issue := range issues {
		switch issue.Severity {
		case scanhub.SeverityCritical:
			s.CriticalCount++
		case scanhub.SeverityHigh:
			s.HighCount++
		case scanhub.SeverityMedium:
			s.MediumCount++
		case scanhub.SeverityLow:
			s.LowCount++
		default:
			s.InfoCount++
		}
	}
	return
}

// Verdict classifies a run. A run is NonCompliant iff it has any critical
// issue or any issue at or above the requested severity threshold; a run
// with zero issues is always Compliant.
func Verdict(summary scanhub.SeveritySummary, issues []scanhub.Finding, threshold scanhub.Severity) scanhub.RunStatus {
	if summary.CriticalCount > 0 {
		return scanhub.RunStatusNonCompliant
	}
	for _, issue := range issues {
		if issue.Severity.Rank() >= threshold.Rank() {
			return scanhub.RunStatusNonCompliant
		}
	}
	return scanhub.RunStatusCompliant
}

// coverage lists the categories that actually executed successfully, in
// canonical order.
func coverage(results []scanhub.AdapterResult) []scanhub.Category {
	succeeded := make(map[scanhub.Category]bool)
	for _, result := range results {
		if result.Outcome == scanhub.OutcomeSuccess {
			succeeded[result.Category] = true
		}
	}
	covered := make([]scanhub.Category, 0, len(succeeded))
	for _, category := range scanhub.CanonicalCategories() {
		if succeeded[category] {
			covered = append(covered, category)
		}
	}
	return covered
}

// Financial compliance signals. Advisory only: they never flip the verdict.
const (
	SignalPaymentPattern = "payment-pattern"
	SignalTaxDataPattern = "tax-data-pattern"
)

var paymentRuleTokens = []string{"pay", "card", "pci", "iban"}
var taxRuleTokens = []string{"tax", "vat", "tin", "ein"}

// financialSignals derives advisory pattern flags from the financial
// compliance adapter's findings, only when that adapter ran successfully.
func financialSignals(results []scanhub.AdapterResult) []string {
	signals := make(map[string]bool)
	for _, result := range results {
		if result.Category != scanhub.CategoryFinancialCompliance || result.Outcome != scanhub.OutcomeSuccess {
			continue
		}
		for _, finding := range result.Findings {
			key := strings.ToLower(finding.RuleID + " " + finding.Title)
			if containsAny(key, paymentRuleTokens) {
				signals[SignalPaymentPattern] = true
			}
			if containsAny(key, taxRuleTokens) {
				signals[SignalTaxDataPattern] = true
			}
		}
	}
	if len(signals) == 0 {
		return nil
	}
	flags := make([]string, 0, len(signals))
	for signal := range signals {
		flags = append(flags, signal)
	}
	sort.Strings(flags)
	return flags
}

func containsAny(value string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(value, token) {
			return true
		}
	}
	return false
}
