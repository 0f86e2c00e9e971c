package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanhub/scanhub/pkg/coordinator"
	"github.com/scanhub/scanhub/pkg/scanhub"
	"github.com/scanhub/scanhub/pkg/scanner"
)

type fakeAdapter struct {
	category scanhub.Category
	timeout  time.Duration
	delay    time.Duration
	result   scanhub.AdapterResult
}

func (a *fakeAdapter) Category() scanhub.Category {
	return a.category
}

func (a *fakeAdapter) Timeout() time.Duration {
	return a.timeout
}

func (a *fakeAdapter) Execute(_ context.Context, _ scanhub.ScanRequest) scanhub.AdapterResult {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.result
}

func success(category scanhub.Category) *fakeAdapter {
	return &fakeAdapter{
		category: category,
		result: scanhub.AdapterResult{
			Category: category,
			Outcome:  scanhub.OutcomeSuccess,
		},
	}
}

func TestCoordinatorRun(t *testing.T) {
	request := scanhub.ScanRequest{RepositoryID: "acme/payments-api", Mode: "all"}

	t.Run("Should collect results from all adapters in plan order", func(t *testing.T) {
		adapters := map[scanhub.Category]scanner.Adapter{
			scanhub.CategorySecrets:        success(scanhub.CategorySecrets),
			scanhub.CategoryStaticAnalysis: success(scanhub.CategoryStaticAnalysis),
		}
		categories := []scanhub.Category{scanhub.CategorySecrets, scanhub.CategoryStaticAnalysis}

		results, err := coordinator.New(logr.Discard(), adapters, time.Minute).
			Run(context.Background(), request, categories)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, scanhub.CategorySecrets, results[0].Category)
		assert.Equal(t, scanhub.CategoryStaticAnalysis, results[1].Category)
	})

	t.Run("Should isolate one adapter's failure from the others", func(t *testing.T) {
		adapters := map[scanhub.Category]scanner.Adapter{
			scanhub.CategorySecrets: success(scanhub.CategorySecrets),
			scanhub.CategoryStaticAnalysis: &fakeAdapter{
				category: scanhub.CategoryStaticAnalysis,
				result: scanhub.AdapterResult{
					Category:    scanhub.CategoryStaticAnalysis,
					Outcome:     scanhub.OutcomeFailure,
					ErrorDetail: "engine crashed",
				},
			},
			scanhub.CategoryLicenseCompliance: success(scanhub.CategoryLicenseCompliance),
		}
		categories := []scanhub.Category{
			scanhub.CategorySecrets,
			scanhub.CategoryStaticAnalysis,
			scanhub.CategoryLicenseCompliance,
		}

		results, err := coordinator.New(logr.Discard(), adapters, time.Minute).
			Run(context.Background(), request, categories)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, scanhub.OutcomeSuccess, results[0].Outcome)
		assert.Equal(t, scanhub.OutcomeFailure, results[1].Outcome)
		assert.Equal(t, "engine crashed", results[1].ErrorDetail)
		assert.Equal(t, scanhub.OutcomeSuccess, results[2].Outcome)
	})

	t.Run("Should record a failure when no adapter is registered for a category", func(t *testing.T) {
		results, err := coordinator.New(logr.Discard(), map[scanhub.Category]scanner.Adapter{}, time.Minute).
			Run(context.Background(), request, []scanhub.Category{scanhub.CategorySecrets})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, scanhub.OutcomeFailure, results[0].Outcome)
		assert.Equal(t, "no adapter registered for category", results[0].ErrorDetail)
	})

	t.Run("Should time out a hanging adapter without affecting the others", func(t *testing.T) {
		adapters := map[scanhub.Category]scanner.Adapter{
			scanhub.CategorySecrets: success(scanhub.CategorySecrets),
			scanhub.CategoryDynamicAnalysis: &fakeAdapter{
				category: scanhub.CategoryDynamicAnalysis,
				timeout:  20 * time.Millisecond,
				delay:    500 * time.Millisecond,
				result: scanhub.AdapterResult{
					Category: scanhub.CategoryDynamicAnalysis,
					Outcome:  scanhub.OutcomeSuccess,
				},
			},
		}
		categories := []scanhub.Category{scanhub.CategorySecrets, scanhub.CategoryDynamicAnalysis}

		results, err := coordinator.New(logr.Discard(), adapters, time.Minute).
			Run(context.Background(), request, categories)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, scanhub.OutcomeSuccess, results[0].Outcome)
		assert.Equal(t, scanhub.OutcomeFailure, results[1].Outcome)
		assert.Contains(t, results[1].ErrorDetail, "adapter timed out after")
	})

	t.Run("Should return ErrCancelled when the request is cancelled before fan-out", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		adapters := map[scanhub.Category]scanner.Adapter{
			scanhub.CategorySecrets: success(scanhub.CategorySecrets),
		}
		results, err := coordinator.New(logr.Discard(), adapters, time.Minute).
			Run(ctx, request, []scanhub.Category{scanhub.CategorySecrets})
		assert.ErrorIs(t, err, coordinator.ErrCancelled)
		assert.Nil(t, results)
	})

	t.Run("Should let started adapters finish after cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		adapters := map[scanhub.Category]scanner.Adapter{
			scanhub.CategorySecrets: &fakeAdapter{
				category: scanhub.CategorySecrets,
				delay:    30 * time.Millisecond,
				result: scanhub.AdapterResult{
					Category: scanhub.CategorySecrets,
					Outcome:  scanhub.OutcomeSuccess,
				},
			},
		}

		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()
		results, err := coordinator.New(logr.Discard(), adapters, time.Minute).
			Run(ctx, request, []scanhub.Category{scanhub.CategorySecrets})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, scanhub.OutcomeSuccess, results[0].Outcome)
	})
}
