// Package coordinator fans a scan request out to every enabled scanner
// adapter and collects their results with failure isolation.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/scanhub/scanhub/pkg/runner"
	"github.com/scanhub/scanhub/pkg/scanhub"
	"github.com/scanhub/scanhub/pkg/scanner"
)

// ErrCancelled is returned when a scan request is cancelled before fan-out.
var ErrCancelled = errors.New("scan request cancelled before fan-out")

// Coordinator invokes all enabled adapters for a run. One adapter's failure
// never cancels or blocks the others; a run with zero successful categories
// is still a reportable fact, not an error.
type Coordinator struct {
	log            logr.Logger
	adapters       map[scanhub.Category]scanner.Adapter
	defaultTimeout time.Duration
}

// New constructs a Coordinator over the given adapters. Adapters whose
// category is never enabled are simply never invoked.
func New(log logr.Logger, adapters map[scanhub.Category]scanner.Adapter, defaultTimeout time.Duration) *Coordinator {
	return &Coordinator{
		log:            log,
		adapters:       adapters,
		defaultTimeout: defaultTimeout,
	}
}

// Run executes every adapter for the enabled categories concurrently and
// blocks at the final join point until each reaches a terminal state. The
// returned results cover exactly the enabled set, in canonical order.
//
// Cancellation before fan-out returns ErrCancelled. Cancellation after
// fan-out does not kill already-started adapters; each runs on to its own
// timeout.
func (c *Coordinator) Run(ctx context.Context, request scanhub.ScanRequest, categories []scanhub.Category) ([]scanhub.AdapterResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	results := make([]scanhub.AdapterResult, len(categories))
	var wg sync.WaitGroup

	// Adapters own their timeouts from here on; detach from the caller's
	// cancellation so an in-flight engine is never force-killed.
	execCtx := context.WithoutCancel(ctx)

	for i, category := range categories {
		wg.Add(1)
		go func(i int, category scanhub.Category) {
			defer wg.Done()
			results[i] = c.runAdapter(execCtx, request, category)
		}(i, category)
	}
	wg.Wait()

	return results, nil
}

func (c *Coordinator) runAdapter(ctx context.Context, request scanhub.ScanRequest, category scanhub.Category) scanhub.AdapterResult {
	adapter, ok := c.adapters[category]
	if !ok {
		return scanhub.AdapterResult{
			Category:    category,
			Outcome:     scanhub.OutcomeFailure,
			ErrorDetail: "no adapter registered for category",
		}
	}

	timeout := adapter.Timeout()
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	log := c.log.WithValues("category", category)
	var result scanhub.AdapterResult
	err := runner.NewWithTimeout(log, timeout).Run(ctx, runner.RunnableFunc(func(ctx context.Context) error {
		result = adapter.Execute(ctx, request)
		return nil
	}))
	if errors.Is(err, runner.ErrTimeout) {
		log.Info("Adapter timed out", "timeout", timeout)
		return scanhub.AdapterResult{
			Category:    category,
			Outcome:     scanhub.OutcomeFailure,
			ErrorDetail: "adapter timed out after " + timeout.String(),
			DurationMs:  timeout.Milliseconds(),
		}
	}
	if err != nil {
		return scanhub.AdapterResult{
			Category:    category,
			Outcome:     scanhub.OutcomeFailure,
			ErrorDetail: err.Error(),
		}
	}
	return result
}
