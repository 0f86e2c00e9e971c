package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

const runColumns = `id, repository_id, branch, commit_sha, mode,
	started_at, finished_at, overall_status, severity_threshold,
	critical_count, high_count, medium_count, low_count, info_count,
	coverage, issues, raw_results, financial_signals`

// GetRun returns the immutable run record with the given id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (scanhub.ScanRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scanhub.ScanRun{}, fmt.Errorf("%w: scan run %s", ErrNotFound, id)
	}
	return run, err
}

// ListRuns returns the repository's runs, newest first, with offset-based
// pagination.
func (s *Store) ListRuns(ctx context.Context, repositoryID string, limit, offset int) ([]scanhub.ScanRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs
		 WHERE repository_id = ?
		 ORDER BY finished_at DESC
		 LIMIT ? OFFSET ?`,
		repositoryID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RunsBetween returns the repository's runs whose finish time falls within
// [from, to), oldest first.
func (s *Store) RunsBetween(ctx context.Context, repositoryID string, from, to time.Time) ([]scanhub.ScanRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs
		 WHERE repository_id = ? AND finished_at >= ? AND finished_at < ?
		 ORDER BY finished_at ASC`,
		repositoryID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RecentRuns returns the most recently finished runs across all
// repositories, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]scanhub.ScanRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs
		 ORDER BY finished_at DESC
		 LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// LatestStatus returns the derived compliance status for a repository, or
// ErrNotFound if it has never been scanned.
func (s *Store) LatestStatus(ctx context.Context, repositoryID string) (scanhub.ComplianceStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repository_id, current_status, compliance_rate_pct, window_runs, last_scan_at
		 FROM compliance_status WHERE repository_id = ?`,
		repositoryID)
	status, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scanhub.ComplianceStatus{}, fmt.Errorf("%w: repository %s", ErrNotFound, repositoryID)
	}
	return status, err
}

// AllStatuses returns the derived compliance status of every known
// repository.
func (s *Store) AllStatuses(ctx context.Context) ([]scanhub.ComplianceStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repository_id, current_status, compliance_rate_pct, window_runs, last_scan_at
		 FROM compliance_status ORDER BY repository_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make([]scanhub.ComplianceStatus, 0)
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

// TasksForRepository returns the repository's remediation tasks, newest
// first.
func (s *Store) TasksForRepository(ctx context.Context, repositoryID string) ([]scanhub.RemediationTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scan_run_id, repository_id, priority, due_date, status, created_at
		 FROM remediation_tasks
		 WHERE repository_id = ?
		 ORDER BY created_at DESC`,
		repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]scanhub.RemediationTask, 0)
	for rows.Next() {
		var task scanhub.RemediationTask
		var priority, status, dueRaw, createdRaw string
		if err := rows.Scan(&task.ID, &task.ScanRunID, &task.RepositoryID, &priority, &dueRaw, &status, &createdRaw); err != nil {
			return nil, err
		}
		task.Priority = scanhub.TaskPriority(priority)
		task.Status = scanhub.TaskStatus(status)
		if task.DueDate, err = parseTime(dueRaw); err != nil {
			return nil, err
		}
		if task.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// AuditEntries returns the most recent audit log entries, newest first.
func (s *Store) AuditEntries(ctx context.Context, limit int) ([]scanhub.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, action, repository_id, actor_id, metadata
		 FROM audit_log
		 ORDER BY id DESC
		 LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]scanhub.AuditLogEntry, 0)
	for rows.Next() {
		var entry scanhub.AuditLogEntry
		var timestampRaw, metadataRaw string
		if err := rows.Scan(&timestampRaw, &entry.Action, &entry.RepositoryID, &entry.ActorID, &metadataRaw); err != nil {
			return nil, err
		}
		if entry.Timestamp, err = parseTime(timestampRaw); err != nil {
			return nil, err
		}
		if metadataRaw != "" && metadataRaw != "null" {
			if err := json.Unmarshal([]byte(metadataRaw), &entry.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectRuns(rows *sql.Rows) ([]scanhub.ScanRun, error) {
	runs := make([]scanhub.ScanRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (scanhub.ScanRun, error) {
	var run scanhub.ScanRun
	var startedRaw, finishedRaw, statusRaw, thresholdRaw string
	var coverageRaw, issuesRaw string
	var rawResultsRaw, signalsRaw sql.NullString

	err := row.Scan(
		&run.ID,
		&run.RepositoryID,
		&run.Branch,
		&run.CommitSHA,
		&run.Mode,
		&startedRaw,
		&finishedRaw,
		&statusRaw,
		&thresholdRaw,
		&run.Summary.CriticalCount,
		&run.Summary.HighCount,
		&run.Summary.MediumCount,
		&run.Summary.LowCount,
		&run.Summary.InfoCount,
		&coverageRaw,
		&issuesRaw,
		&rawResultsRaw,
		&signalsRaw,
	)
	if err != nil {
		return scanhub.ScanRun{}, err
	}

	run.OverallStatus = scanhub.RunStatus(statusRaw)
	run.SeverityThreshold = scanhub.Severity(thresholdRaw)
	if run.StartedAt, err = parseTime(startedRaw); err != nil {
		return scanhub.ScanRun{}, err
	}
	if run.FinishedAt, err = parseTime(finishedRaw); err != nil {
		return scanhub.ScanRun{}, err
	}
	if err := json.Unmarshal([]byte(coverageRaw), &run.Coverage); err != nil {
		return scanhub.ScanRun{}, fmt.Errorf("decoding coverage: %w", err)
	}
	if err := json.Unmarshal([]byte(issuesRaw), &run.Issues); err != nil {
		return scanhub.ScanRun{}, fmt.Errorf("decoding issues: %w", err)
	}
	if rawResultsRaw.Valid && rawResultsRaw.String != "" && rawResultsRaw.String != "null" {
		if err := json.Unmarshal([]byte(rawResultsRaw.String), &run.AdapterResults); err != nil {
			return scanhub.ScanRun{}, fmt.Errorf("decoding raw adapter results: %w", err)
		}
	}
	if signalsRaw.Valid && signalsRaw.String != "" && signalsRaw.String != "null" {
		if err := json.Unmarshal([]byte(signalsRaw.String), &run.FinancialSignals); err != nil {
			return scanhub.ScanRun{}, fmt.Errorf("decoding financial signals: %w", err)
		}
	}
	return run, nil
}

func scanStatus(row rowScanner) (scanhub.ComplianceStatus, error) {
	var status scanhub.ComplianceStatus
	var statusRaw, lastScanRaw string
	err := row.Scan(&status.RepositoryID, &statusRaw, &status.ComplianceRatePct, &status.WindowRuns, &lastScanRaw)
	if err != nil {
		return scanhub.ComplianceStatus{}, err
	}
	status.CurrentStatus = scanhub.RunStatus(statusRaw)
	if status.LastScanAt, err = parseTime(lastScanRaw); err != nil {
		return scanhub.ComplianceStatus{}, err
	}
	return status, nil
}
