package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRunsImmediatelyAndRepeats(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	require.NoError(t, s.Every("tick", 50*time.Millisecond, true, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestFailingJobKeepsRunning(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	require.NoError(t, s.Every("flaky", 50*time.Millisecond, true, func(context.Context) error {
		runs.Add(1)
		return errors.New("upstream down")
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWaitForScheduleDelaysFirstRun(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	require.NoError(t, s.Every("later", time.Hour, false, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())

	require.NoError(t, s.RunNow("later"))
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.Every("long", time.Hour, true, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	s.Start()
	<-started
	s.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}

func TestRegistration(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Every("bad", 0, true, noop))
	require.NoError(t, s.Every("alerts", time.Hour, false, noop))
	require.NoError(t, s.Daily("prune", "03:00", noop))
	assert.Equal(t, []string{"alerts", "prune"}, s.Jobs())

	s.Start()
	defer s.Stop()
	assert.ErrorIs(t, s.Every("late", time.Hour, false, noop), ErrStarted)
	assert.Error(t, s.RunNow("missing"))
}
