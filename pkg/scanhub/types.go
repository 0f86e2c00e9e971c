package scanhub

import (
	"fmt"
	"strings"
	"time"
)

// BuildInfo holds build metadata set by the release pipeline.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Severity level of a normalized security finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric ordering of a severity, INFO being the lowest.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// StringToSeverity returns the enum constant of Severity with the specified
// name, or an error if the name is not recognized.
func StringToSeverity(name string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := severityRanks[s]; !ok {
		return "", fmt.Errorf("unrecognized severity: %s", name)
	}
	return s, nil
}

// NormalizeSeverity maps an external scanner's severity onto the five-level
// scale. Unmappable values default to INFO.
func NormalizeSeverity(name string) Severity {
	s, err := StringToSeverity(name)
	if err != nil {
		return SeverityInfo
	}
	return s
}

// Category identifies one class of security check run by exactly one adapter.
type Category string

const (
	CategorySecrets                   Category = "secrets"
	CategoryStaticAnalysis            Category = "staticAnalysis"
	CategoryDependencyVulnerabilities Category = "dependencyVulnerabilities"
	CategoryContainerImage            Category = "containerImage"
	CategoryInfrastructureAsCode      Category = "infrastructureAsCode"
	CategoryDynamicAnalysis           Category = "dynamicAnalysis"
	CategoryLicenseCompliance         Category = "licenseCompliance"
	CategoryFinancialCompliance       Category = "financialCompliance"
)

// CanonicalCategories returns all scanner categories in the fixed order used
// when merging adapter results, so aggregated output does not depend on
// completion order.
func CanonicalCategories() []Category {
	return []Category{
		CategorySecrets,
		CategoryStaticAnalysis,
		CategoryDependencyVulnerabilities,
		CategoryContainerImage,
		CategoryInfrastructureAsCode,
		CategoryDynamicAnalysis,
		CategoryLicenseCompliance,
		CategoryFinancialCompliance,
	}
}

// StringToCategory returns the enum constant of Category with the specified
// token, or an error if the token is not recognized.
func StringToCategory(token string) (Category, error) {
	c := Category(strings.TrimSpace(token))
	for _, known := range CanonicalCategories() {
		if c == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unrecognized scanner category: %s", token)
}

// Outcome of a single adapter execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
	OutcomeSkipped Outcome = "Skipped"
)

// Location points at the place in the scanned content where a finding was
// observed.
type Location struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
}

// Finding is a single normalized security observation reported by one scanner.
type Finding struct {
	ToolName    string    `json:"toolName"`
	Severity    Severity  `json:"severity"`
	Category    Category  `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    *Location `json:"location,omitempty"`
	RuleID      string    `json:"ruleId,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
}

// AdapterResult is the outcome of running one scanner adapter. It is owned by
// the adapter that produced it until handed to the coordinator.
type AdapterResult struct {
	Category    Category  `json:"category"`
	Outcome     Outcome   `json:"outcome"`
	Findings    []Finding `json:"findings,omitempty"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
	DurationMs  int64     `json:"durationMs"`
}

// ScanRequest describes one requested scan. Immutable once created.
type ScanRequest struct {
	RepositoryID             string    `json:"repositoryId"`
	Branch                   string    `json:"branch,omitempty"`
	CommitSHA                string    `json:"commitSha,omitempty"`
	Mode                     string    `json:"mode"`
	ComplianceProfileEnabled bool      `json:"complianceProfileEnabled"`
	SeverityThreshold        Severity  `json:"severityThreshold"`
	TargetEndpoint           string    `json:"targetEndpoint,omitempty"`
	RequestedAt              time.Time `json:"requestedAt"`
}

// RunStatus is the terminal classification of a scan run.
type RunStatus string

const (
	RunStatusCompliant    RunStatus = "COMPLIANT"
	RunStatusNonCompliant RunStatus = "NON_COMPLIANT"
	RunStatusCancelled    RunStatus = "CANCELLED"
)

// SeveritySummary is the histogram of issue counts by severity.
type SeveritySummary struct {
	CriticalCount int `json:"criticalCount"`
	HighCount     int `json:"highCount"`
	MediumCount   int `json:"mediumCount"`
	LowCount      int `json:"lowCount"`
	InfoCount     int `json:"infoCount"`
}

// Total returns the total number of issues across all severities.
func (s SeveritySummary) Total() int {
	return s.CriticalCount + s.HighCount + s.MediumCount + s.LowCount + s.InfoCount
}

// ScanRun is one completed, immutable scan execution record. Corrections
// require a new ScanRun, never an edit.
type ScanRun struct {
	ID                string          `json:"id"`
	RepositoryID      string          `json:"repositoryId"`
	Branch            string          `json:"branch,omitempty"`
	CommitSHA         string          `json:"commitSha,omitempty"`
	Mode              string          `json:"mode"`
	StartedAt         time.Time       `json:"startedAt"`
	FinishedAt        time.Time       `json:"finishedAt"`
	OverallStatus     RunStatus       `json:"overallStatus"`
	SeverityThreshold Severity        `json:"severityThreshold"`
	Summary           SeveritySummary `json:"summary"`
	Coverage          []Category      `json:"scannerCoverage"`
	Issues            []Finding       `json:"issues"`
	AdapterResults    []AdapterResult `json:"rawAdapterResults,omitempty"`
	FinancialSignals  []string        `json:"financialComplianceSignals,omitempty"`
}

// ComplianceStatus is the derived per-repository view recomputed after every
// recorded run. It is a pure function of the run history within the rolling
// window.
type ComplianceStatus struct {
	RepositoryID      string    `json:"repositoryId"`
	CurrentStatus     RunStatus `json:"currentStatus"`
	ComplianceRatePct float64   `json:"complianceRatePct"`
	WindowRuns        int       `json:"windowRuns"`
	LastScanAt        time.Time `json:"lastScanAt"`
}

// TaskStatus tracks the lifecycle of a remediation task.
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "Open"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusCompleted  TaskStatus = "Completed"
	TaskStatusDeferred   TaskStatus = "Deferred"
)

// TaskPriority is derived from the issue volume of a non-compliant run.
type TaskPriority string

const (
	TaskPriorityCritical TaskPriority = "critical"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityLow      TaskPriority = "low"
)

// RemediationTask is created automatically for every non-compliant run.
type RemediationTask struct {
	ID           string       `json:"id"`
	ScanRunID    string       `json:"scanRunId"`
	RepositoryID string       `json:"repositoryId"`
	Priority     TaskPriority `json:"priority"`
	DueDate      time.Time    `json:"dueDate"`
	Status       TaskStatus   `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Audit log actions.
const (
	ActionScanRunRecorded = "scan_run_recorded"
	ActionAlertDispatched = "alert_dispatched"
)

// AuditLogEntry is one append-only, immutable audit trail record.
type AuditLogEntry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	RepositoryID string            `json:"repositoryId"`
	ActorID      string            `json:"actorId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
