package runner

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
)

// ErrTimeout is returned when Runner's Run method fails due to a timeout event.
var ErrTimeout = errors.New("runner received timeout")

// Runnable is the interface that wraps the basic Run method.
//
// Run should be implemented by any task intended to be executed by the Runner.
type Runnable interface {
	Run(ctx context.Context) error
}

// The RunnableFunc type is an adapter to allow the use of ordinary functions
// as Runnable tasks. If f is a function with the appropriate signature,
// RunnableFunc(f) is a Runnable that calls f.
type RunnableFunc func(ctx context.Context) error

// Run calls f()
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Runner is the interface that wraps the basic Run method.
//
// Run executes submitted Runnable tasks.
type Runner interface {
	Run(ctx context.Context, task Runnable) error
}

// New constructs a new ready-to-use Runner for running a Runnable task.
func New(log logr.Logger) Runner {
	return &runner{
		log: log,
	}
}

// NewWithTimeout constructs a new ready-to-use Runner with the specified
// timeout for running a Runnable task.
func NewWithTimeout(log logr.Logger, d time.Duration) Runner {
	return &runner{
		log:             log,
		timeoutDuration: d,
	}
}

type runner struct {
	log             logr.Logger
	timeoutDuration time.Duration
}

// Run runs the specified task and monitors channel events. A task that does
// not complete within the runner's timeout is abandoned; the buffered
// completion channel lets it finish in the background without leaking.
func (r *runner) Run(ctx context.Context, task Runnable) error {
	complete := make(chan error, 1)
	go func() {
		complete <- task.Run(ctx)
	}()

	var timeout <-chan time.Time
	if r.timeoutDuration > 0 {
		r.log.V(1).Info("Running task with timeout", "timeout", r.timeoutDuration)
		timer := time.NewTimer(r.timeoutDuration)
		defer timer.Stop()
		timeout = timer.C
	} else {
		r.log.V(1).Info("Running task without timeout")
	}

	select {
	// Signaled when processing is done.
	case err := <-complete:
		r.log.V(1).Info("Stopping runner on task completion", "error", err)
		return err
	// Signaled when we run out of time.
	case <-timeout:
		r.log.V(1).Info("Stopping runner on timeout")
		return ErrTimeout
	// Signaled when the surrounding run is cancelled.
	case <-ctx.Done():
		r.log.V(1).Info("Stopping runner on context cancellation")
		return ctx.Err()
	}
}
