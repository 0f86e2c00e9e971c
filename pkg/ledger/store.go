// Package ledger is the durable, append-only source of truth for scan runs,
// issues, audit log entries and the state derived from them. Historical runs
// are never updated or deleted; corrections require a new run.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	_ "modernc.org/sqlite"

	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateRun is returned when a run id has already been recorded.
// Recorded runs are immutable, so a second write with the same id is always
// a caller bug, never an update.
var ErrDuplicateRun = errors.New("scan run already recorded")

// Store is the SQLite-backed audit ledger. Writes for one repository are
// serialized so the derived compliance status is recomputed race-free;
// writes for different repositories proceed concurrently, and readers never
// take the write lock (WAL mode).
type Store struct {
	db         *sql.DB
	log        logr.Logger
	clock      ext.Clock
	ids        ext.IDGenerator
	windowDays int
	slaDays    int

	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
}

// NewStore opens the ledger database at the given path and applies schema
// migrations.
func NewStore(path string, log logr.Logger, clock ext.Clock, ids ext.IDGenerator, windowDays, slaDays int) (*Store, error) {
	dbPath := strings.TrimSpace(path)
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:         db,
		log:        log,
		clock:      clock,
		ids:        ids,
		windowDays: windowDays,
		slaDays:    slaDays,
		repoLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the storage layer is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			id TEXT PRIMARY KEY,
			repository_id TEXT NOT NULL,
			branch TEXT,
			commit_sha TEXT,
			mode TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			overall_status TEXT NOT NULL,
			severity_threshold TEXT NOT NULL,
			critical_count INTEGER NOT NULL,
			high_count INTEGER NOT NULL,
			medium_count INTEGER NOT NULL,
			low_count INTEGER NOT NULL,
			info_count INTEGER NOT NULL,
			coverage TEXT NOT NULL,
			issues TEXT NOT NULL,
			raw_results TEXT,
			financial_signals TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scan_runs_repo_finished ON scan_runs(repository_id, finished_at DESC);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			repository_id TEXT,
			actor_id TEXT,
			metadata TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);`,
		`CREATE TABLE IF NOT EXISTS compliance_status (
			repository_id TEXT PRIMARY KEY,
			current_status TEXT NOT NULL,
			compliance_rate_pct REAL NOT NULL,
			window_runs INTEGER NOT NULL,
			last_scan_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS remediation_tasks (
			id TEXT PRIMARY KEY,
			scan_run_id TEXT NOT NULL,
			repository_id TEXT NOT NULL,
			priority TEXT NOT NULL,
			due_date TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating ledger schema: %w", err)
		}
	}
	return nil
}

func (s *Store) lockRepository(repositoryID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.repoLocks[repositoryID]
	if !ok {
		lock = &sync.Mutex{}
		s.repoLocks[repositoryID] = lock
	}
	return lock
}

// RecordScanRun atomically persists a completed run, its issues, exactly one
// scan_run_recorded audit entry, any auto-created remediation task, and the
// recomputed compliance status for the repository. On any error nothing is
// persisted and the caller must retry the whole call.
//
// The run id is assigned here when blank. The returned id identifies the
// immutable record.
func (s *Store) RecordScanRun(ctx context.Context, run scanhub.ScanRun) (string, error) {
	if strings.TrimSpace(run.RepositoryID) == "" {
		return "", errors.New("scan run is missing repositoryId")
	}
	if run.OverallStatus == "" {
		return "", errors.New("scan run is missing overallStatus")
	}
	if run.FinishedAt.IsZero() {
		return "", errors.New("scan run is missing finishedAt")
	}
	if run.ID == "" {
		run.ID = s.ids.GenerateID()
	}

	lock := s.lockRepository(run.RepositoryID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.insertRun(ctx, tx, run, now); err != nil {
		return "", err
	}
	if err := insertAuditEntry(ctx, tx, scanhub.AuditLogEntry{
		Timestamp:    now,
		Action:       scanhub.ActionScanRunRecorded,
		RepositoryID: run.RepositoryID,
		Metadata: map[string]string{
			"runId":         run.ID,
			"overallStatus": string(run.OverallStatus),
		},
	}); err != nil {
		return "", err
	}
	if run.OverallStatus == scanhub.RunStatusNonCompliant {
		if err := s.insertRemediationTask(ctx, tx, run, now); err != nil {
			return "", err
		}
	}
	if err := s.recomputeComplianceStatus(ctx, tx, run.RepositoryID, now); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing scan run: %w", err)
	}
	return run.ID, nil
}

func (s *Store) insertRun(ctx context.Context, tx *sql.Tx, run scanhub.ScanRun, now time.Time) error {
	coverage, err := json.Marshal(run.Coverage)
	if err != nil {
		return err
	}
	issues, err := json.Marshal(run.Issues)
	if err != nil {
		return err
	}
	rawResults, err := json.Marshal(run.AdapterResults)
	if err != nil {
		return err
	}
	signals, err := json.Marshal(run.FinancialSignals)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scan_runs (
			id, repository_id, branch, commit_sha, mode,
			started_at, finished_at, overall_status, severity_threshold,
			critical_count, high_count, medium_count, low_count, info_count,
			coverage, issues, raw_results, financial_signals, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.RepositoryID,
		run.Branch,
		run.CommitSHA,
		run.Mode,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		string(run.OverallStatus),
		string(run.SeverityThreshold),
		run.Summary.CriticalCount,
		run.Summary.HighCount,
		run.Summary.MediumCount,
		run.Summary.LowCount,
		run.Summary.InfoCount,
		string(coverage),
		string(issues),
		string(rawResults),
		string(signals),
		formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}
		return fmt.Errorf("inserting scan run: %w", err)
	}
	return nil
}

// AppendAuditLog appends a single immutable audit trail entry.
func (s *Store) AppendAuditLog(ctx context.Context, entry scanhub.AuditLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendAuditLogWith appends an audit entry and invokes emit inside the same
// transaction boundary: the entry is committed only if emit succeeds, so the
// audit trail stays consistent with actually-emitted side effects.
func (s *Store) AppendAuditLogWith(ctx context.Context, entry scanhub.AuditLogEntry, emit func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := emit(); err != nil {
		return err
	}
	return tx.Commit()
}

func insertAuditEntry(ctx context.Context, tx *sql.Tx, entry scanhub.AuditLogEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, action, repository_id, actor_id, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		formatTime(entry.Timestamp),
		entry.Action,
		entry.RepositoryID,
		entry.ActorID,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("appending audit log entry: %w", err)
	}
	return nil
}

func (s *Store) insertRemediationTask(ctx context.Context, tx *sql.Tx, run scanhub.ScanRun, now time.Time) error {
	task := scanhub.RemediationTask{
		ID:           s.ids.GenerateID(),
		ScanRunID:    run.ID,
		RepositoryID: run.RepositoryID,
		Priority:     TaskPriorityForIssueCount(run.Summary.Total()),
		DueDate:      now.AddDate(0, 0, s.slaDays),
		Status:       scanhub.TaskStatusOpen,
		CreatedAt:    now,
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO remediation_tasks (id, scan_run_id, repository_id, priority, due_date, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.ScanRunID,
		task.RepositoryID,
		string(task.Priority),
		formatTime(task.DueDate),
		string(task.Status),
		formatTime(task.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting remediation task: %w", err)
	}
	return nil
}

// TaskPriorityForIssueCount derives a remediation priority from the total
// issue volume of a non-compliant run.
func TaskPriorityForIssueCount(total int) scanhub.TaskPriority {
	switch {
	case total > 50:
		return scanhub.TaskPriorityCritical
	case total > 20:
		return scanhub.TaskPriorityHigh
	case total > 5:
		return scanhub.TaskPriorityMedium
	default:
		return scanhub.TaskPriorityLow
	}
}

// recomputeComplianceStatus rebuilds the derived per-repository status from
// the committed run history within the rolling window. Cancelled runs are
// excluded from the rate.
func (s *Store) recomputeComplianceStatus(ctx context.Context, tx *sql.Tx, repositoryID string, now time.Time) error {
	windowStart := now.AddDate(0, 0, -s.windowDays)
	rows, err := tx.QueryContext(ctx,
		`SELECT overall_status, finished_at FROM scan_runs
		 WHERE repository_id = ? AND finished_at >= ?
		 ORDER BY finished_at DESC`,
		repositoryID,
		formatTime(windowStart),
	)
	if err != nil {
		return fmt.Errorf("reading run window: %w", err)
	}
	defer rows.Close()

	var total, compliant int
	var currentStatus scanhub.RunStatus
	var lastScanAt time.Time
	for rows.Next() {
		var statusRaw, finishedRaw string
		if err := rows.Scan(&statusRaw, &finishedRaw); err != nil {
			return err
		}
		finishedAt, err := parseTime(finishedRaw)
		if err != nil {
			return err
		}
		if finishedAt.After(lastScanAt) {
			lastScanAt = finishedAt
		}
		status := scanhub.RunStatus(statusRaw)
		if status == scanhub.RunStatusCancelled {
			continue
		}
		if currentStatus == "" {
			currentStatus = status
		}
		total++
		if status == scanhub.RunStatusCompliant {
			compliant++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ratePct := 0.0
	if total > 0 {
		ratePct = float64(compliant) / float64(total) * 100
	}
	if currentStatus == "" {
		currentStatus = scanhub.RunStatusCancelled
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO compliance_status (repository_id, current_status, compliance_rate_pct, window_runs, last_scan_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repository_id) DO UPDATE SET
		   current_status=excluded.current_status,
		   compliance_rate_pct=excluded.compliance_rate_pct,
		   window_runs=excluded.window_runs,
		   last_scan_at=excluded.last_scan_at`,
		repositoryID,
		string(currentStatus),
		ratePct,
		total,
		formatTime(lastScanAt),
	)
	if err != nil {
		return fmt.Errorf("upserting compliance status: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
