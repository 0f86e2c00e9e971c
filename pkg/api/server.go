// Package api exposes the ingestion and reporting HTTP surface over the
// ledger. All reads are derived strictly from committed ledger state.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/scanhub/scanhub/pkg/etc"
	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/report"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

// Ledger is the slice of the audit ledger the API consumes.
type Ledger interface {
	Ping(ctx context.Context) error
	RecordScanRun(ctx context.Context, run scanhub.ScanRun) (string, error)
	GetRun(ctx context.Context, id string) (scanhub.ScanRun, error)
	ListRuns(ctx context.Context, repositoryID string, limit, offset int) ([]scanhub.ScanRun, error)
	LatestStatus(ctx context.Context, repositoryID string) (scanhub.ComplianceStatus, error)
}

// Server handles the scan ingestion and compliance reporting endpoints.
type Server struct {
	log     logr.Logger
	config  etc.API
	apiKey  string
	ledger  Ledger
	reports *report.Service
	clock   ext.Clock

	rateMu    sync.Mutex
	rateState map[string]rateWindowCounter
	rateSweep time.Time
}

// NewServer constructs a Server. The API key must be non-empty; every
// endpoint except the health probe requires it.
func NewServer(log logr.Logger, config etc.API, ledger Ledger, reports *report.Service, clock ext.Clock) (*Server, error) {
	apiKey, err := config.GetAPIKey()
	if err != nil {
		return nil, err
	}
	return &Server{
		log:       log,
		config:    config,
		apiKey:    apiKey,
		ledger:    ledger,
		reports:   reports,
		clock:     clock,
		rateState: map[string]rateWindowCounter{},
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /scan-runs", s.authenticated(s.handleIngestScanRun))
	mux.HandleFunc("GET /scan-runs/{id}", s.authenticated(s.handleGetRun))
	mux.HandleFunc("GET /dashboard", s.authenticated(s.handleDashboard))
	mux.HandleFunc("GET /reports/{repositoryId}", s.authenticated(s.handleReport))
	mux.HandleFunc("GET /runs/{repositoryId}", s.authenticated(s.handleListRuns))
	mux.HandleFunc("GET /compliance-status/{repositoryId}", s.authenticated(s.handleComplianceStatus))
	return mux
}

// NewHTTPServer wires the handler into a ready-to-run http.Server.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.config.BindAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allowRequestByRateLimit(w, r) {
			return
		}
		token := bearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			s.log.V(1).Info("Rejecting unauthorized request", "path", r.URL.Path, "remoteAddr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string, fields ...string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Fields:  fields,
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
