package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSupervisor stands in for the supervisor: it runs until cancelled and
// then takes drain to finish its in-flight batch.
func blockingSupervisor(drain time.Duration, finished *atomic.Bool) func(context.Context) error {
	return func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(drain)
		finished.Store(true)
		return ctx.Err()
	}
}

func TestRunServices_ServerFailureDrainsSupervisor(t *testing.T) {
	var finished atomic.Bool
	listenErr := errors.New("listen tcp :8080: address already in use")

	err := runServices(context.Background(), 2*time.Second,
		blockingSupervisor(50*time.Millisecond, &finished),
		func(context.Context) error { return listenErr })

	require.Error(t, err)
	assert.ErrorIs(t, err, listenErr)
	assert.True(t, finished.Load(), "supervisor must finish before runServices returns")
}

func TestRunServices_CancelDrainsSupervisor(t *testing.T) {
	var finished atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runServices(ctx, 2*time.Second,
			blockingSupervisor(50*time.Millisecond, &finished),
			func(ctx context.Context) error { <-ctx.Done(); return nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, finished.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("runServices did not return")
	}
}

func TestRunServices_DrainTimeout(t *testing.T) {
	var finished atomic.Bool
	listenErr := errors.New("bind failed")

	err := runServices(context.Background(), 20*time.Millisecond,
		blockingSupervisor(time.Second, &finished),
		func(context.Context) error { return listenErr })

	require.Error(t, err)
	assert.ErrorIs(t, err, listenErr)
	assert.Contains(t, err.Error(), "pollers still running")
	assert.False(t, finished.Load())
}
