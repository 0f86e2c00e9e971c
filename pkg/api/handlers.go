package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/scanhub/scanhub/pkg/ledger"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.clock.Now(),
	})
}

// ingestResponse is returned for an accepted scan run.
type ingestResponse struct {
	RunID            string                   `json:"runId"`
	ComplianceStatus scanhub.ComplianceStatus `json:"complianceStatus"`
	OverallStatus    scanhub.RunStatus        `json:"overallStatus"`
}

// handleIngestScanRun accepts a completed ScanRun envelope, validates it and
// records it atomically. Nothing is persisted on a validation error.
func (s *Server) handleIngestScanRun(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxIngestPayloadSize)
	defer body.Close()

	var run scanhub.ScanRun
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&run); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed scan run payload: "+err.Error())
		return
	}

	if fields := missingRunFields(run); len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "scan run payload is missing required fields", fields...)
		return
	}

	runID, err := s.ledger.RecordScanRun(r.Context(), run)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateRun) {
			writeError(w, http.StatusConflict, "duplicate_run", err.Error())
			return
		}
		s.log.Error(err, "Failed to record scan run", "repositoryId", run.RepositoryID)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to record scan run")
		return
	}

	if run.OverallStatus == scanhub.RunStatusNonCompliant {
		s.log.Info("Non-compliant scan recorded", "repositoryId", run.RepositoryID, "runId", runID,
			"criticalCount", run.Summary.CriticalCount)
	}

	status, err := s.ledger.LatestStatus(r.Context(), run.RepositoryID)
	if err != nil {
		s.log.Error(err, "Failed to read compliance status after ingest", "repositoryId", run.RepositoryID)
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to read compliance status")
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{
		RunID:            runID,
		ComplianceStatus: status,
		OverallStatus:    run.OverallStatus,
	})
}

func missingRunFields(run scanhub.ScanRun) []string {
	var fields []string
	if run.RepositoryID == "" {
		fields = append(fields, "repositoryId")
	}
	if run.FinishedAt.IsZero() {
		fields = append(fields, "finishedAt")
	}
	if run.OverallStatus == "" {
		fields = append(fields, "overallStatus")
	}
	if run.Mode == "" {
		fields = append(fields, "mode")
	}
	return fields
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ledger.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to read scan run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.reports.Dashboard(r.Context(), r.URL.Query().Get("repositoryId"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to build dashboard")
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	repositoryID := r.PathValue("repositoryId")

	to := s.clock.Now()
	from := to.AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 || days > 365 {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "days must be a positive integer up to 365")
			return
		}
		from = to.AddDate(0, 0, -days)
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "from must be an RFC 3339 timestamp")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "to must be an RFC 3339 timestamp")
			return
		}
		to = parsed
	}

	result, err := s.reports.Report(r.Context(), repositoryID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type runsResponse struct {
	RepositoryID string            `json:"repositoryId"`
	Limit        int               `json:"limit"`
	Offset       int               `json:"offset"`
	Runs         []scanhub.ScanRun `json:"runs"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	repositoryID := r.PathValue("repositoryId")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	runs, err := s.ledger.ListRuns(r.Context(), repositoryID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to list scan runs")
		return
	}
	writeJSON(w, http.StatusOK, runsResponse{
		RepositoryID: repositoryID,
		Limit:        limit,
		Offset:       offset,
		Runs:         runs,
	})
}

func (s *Server) handleComplianceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ledger.LatestStatus(r.Context(), r.PathValue("repositoryId"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to read compliance status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
