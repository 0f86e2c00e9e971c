package alert

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

// Event is the alert payload handed to the delivery channel. Transport and
// formatting are the channel's concern; the dispatcher's contract ends here.
type Event struct {
	RepositoryID  string    `json:"repositoryId"`
	RunID         string    `json:"runId"`
	CriticalCount int       `json:"criticalCount"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink is the interface that wraps the Send method implemented by alert
// delivery channels.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Ledger is the slice of the audit ledger the dispatcher needs: appending
// an audit entry atomically with the event emission.
type Ledger interface {
	AppendAuditLogWith(ctx context.Context, entry scanhub.AuditLogEntry, emit func() error) error
}

// Dispatcher evaluates each freshly recorded run against the alert policy
// and emits at most one alert event per run. The event and its
// alert_dispatched audit entry are recorded atomically: either both happen
// or neither does.
type Dispatcher struct {
	log    logr.Logger
	policy *Policy
	sink   Sink
	ledger Ledger
	clock  ext.Clock
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(log logr.Logger, policy *Policy, sink Sink, ledger Ledger, clock ext.Clock) *Dispatcher {
	return &Dispatcher{
		log:    log,
		policy: policy,
		sink:   sink,
		ledger: ledger,
		clock:  clock,
	}
}

// Dispatch returns true when an alert event was emitted and recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, run scanhub.ScanRun) (bool, error) {
	shouldAlert, err := d.policy.ShouldAlert(ctx, run)
	if err != nil {
		return false, err
	}
	if !shouldAlert {
		return false, nil
	}

	event := Event{
		RepositoryID:  run.RepositoryID,
		RunID:         run.ID,
		CriticalCount: run.Summary.CriticalCount,
		Timestamp:     d.clock.Now(),
	}
	entry := scanhub.AuditLogEntry{
		Timestamp:    event.Timestamp,
		Action:       scanhub.ActionAlertDispatched,
		RepositoryID: run.RepositoryID,
		Metadata: map[string]string{
			"runId": run.ID,
		},
	}

	err = d.ledger.AppendAuditLogWith(ctx, entry, func() error {
		return d.sink.Send(ctx, event)
	})
	if err != nil {
		return false, err
	}
	d.log.Info("Alert dispatched", "repositoryId", run.RepositoryID, "runId", run.ID,
		"criticalCount", event.CriticalCount)
	return true, nil
}

// NewLogSink constructs a Sink that only logs the event. Used when no
// delivery channel is wired in.
func NewLogSink(log logr.Logger) Sink {
	return &logSink{log: log}
}

type logSink struct {
	log logr.Logger
}

func (s *logSink) Send(_ context.Context, event Event) error {
	s.log.Info("Alert event", "repositoryId", event.RepositoryID, "runId", event.RunID,
		"criticalCount", event.CriticalCount)
	return nil
}

// NewMemorySink constructs a Sink that records events in memory. Used in
// tests.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// MemorySink collects emitted events.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

// FailWith makes every subsequent Send return the given error.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemorySink) Send(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the events sent so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
