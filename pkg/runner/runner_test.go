package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanhub/scanhub/pkg/runner"
)

func TestRunnerRun(t *testing.T) {
	t.Run("Should return the task's result", func(t *testing.T) {
		err := runner.New(logr.Discard()).Run(context.Background(), runner.RunnableFunc(func(_ context.Context) error {
			return nil
		}))
		require.NoError(t, err)
	})

	t.Run("Should propagate the task's error", func(t *testing.T) {
		boom := errors.New("boom")
		err := runner.New(logr.Discard()).Run(context.Background(), runner.RunnableFunc(func(_ context.Context) error {
			return boom
		}))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Should return ErrTimeout when the task overruns", func(t *testing.T) {
		err := runner.NewWithTimeout(logr.Discard(), 10*time.Millisecond).
			Run(context.Background(), runner.RunnableFunc(func(_ context.Context) error {
				time.Sleep(500 * time.Millisecond)
				return nil
			}))
		assert.ErrorIs(t, err, runner.ErrTimeout)
	})

	t.Run("Should complete within the timeout", func(t *testing.T) {
		err := runner.NewWithTimeout(logr.Discard(), time.Minute).
			Run(context.Background(), runner.RunnableFunc(func(_ context.Context) error {
				return nil
			}))
		require.NoError(t, err)
	})

	t.Run("Should stop on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()
		err := runner.New(logr.Discard()).Run(ctx, runner.RunnableFunc(func(_ context.Context) error {
			time.Sleep(500 * time.Millisecond)
			return nil
		}))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
