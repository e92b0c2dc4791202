package reconnect

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, delay time.Duration) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Delay = delay
	s, err := NewScheduler(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestSchedule_OnePendingPerID(t *testing.T) {
	s := newTestScheduler(t, 20*time.Millisecond)
	id := uuid.New()

	var calls atomic.Int32
	attempt := func(context.Context) bool {
		calls.Add(1)
		return false
	}

	assert.True(t, s.Schedule(id, attempt))
	assert.False(t, s.Schedule(id, attempt), "second schedule refused while pending")
	assert.True(t, s.Pending(id))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Pending(id) }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	assert.True(t, s.Schedule(id, attempt), "schedulable again after completion")
}

func TestSchedule_RetryRearms(t *testing.T) {
	s := newTestScheduler(t, 10*time.Millisecond)
	id := uuid.New()

	var calls atomic.Int32
	s.Schedule(id, func(context.Context) bool {
		return calls.Add(1) < 3
	})

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Pending(id) }, time.Second, 5*time.Millisecond)
}

func TestSchedule_DelayHonoured(t *testing.T) {
	s := newTestScheduler(t, 80*time.Millisecond)
	fired := make(chan time.Time, 1)
	start := time.Now()

	s.Schedule(uuid.New(), func(context.Context) bool {
		fired <- time.Now()
		return false
	})

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 80*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("attempt never fired")
	}
}

func TestCancel(t *testing.T) {
	s := newTestScheduler(t, 30*time.Millisecond)
	id := uuid.New()

	var calls atomic.Int32
	s.Schedule(id, func(context.Context) bool {
		calls.Add(1)
		return false
	})
	s.Cancel(id)
	s.Cancel(uuid.New())

	assert.False(t, s.Pending(id))
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestStop(t *testing.T) {
	s := newTestScheduler(t, 30*time.Millisecond)

	var calls atomic.Int32
	for range 3 {
		s.Schedule(uuid.New(), func(context.Context) bool {
			calls.Add(1)
			return false
		})
	}
	assert.Equal(t, 3, s.Len())

	s.Stop()
	assert.Zero(t, s.Len())
	assert.False(t, s.Schedule(uuid.New(), func(context.Context) bool { return false }))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestNewPolicy(t *testing.T) {
	constant, err := NewPolicy(Config{Policy: PolicyConstant, Delay: 10 * time.Second})
	require.NoError(t, err)
	b := constant()
	for range 5 {
		assert.Equal(t, 10*time.Second, b.NextBackOff())
	}

	exp, err := NewPolicy(Config{Policy: PolicyExponential, Delay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2})
	require.NoError(t, err)
	b = exp()
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())

	_, err = NewPolicy(Config{Policy: "fibonacci"})
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestSchedule_AcceptedWhileAttemptRuns(t *testing.T) {
	s := newTestScheduler(t, 10*time.Millisecond)
	id := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	s.Schedule(id, func(context.Context) bool {
		close(entered)
		<-release
		return false
	})

	<-entered
	assert.True(t, s.Pending(id), "running attempt counts as pending")

	var second atomic.Int32
	assert.True(t, s.Schedule(id, func(context.Context) bool {
		second.Add(1)
		return false
	}), "new attempt accepted while the previous one runs")

	close(release)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Pending(id) }, time.Second, 5*time.Millisecond)
}

func TestSchedule_RunningRetryYieldsToNewAttempt(t *testing.T) {
	s := newTestScheduler(t, 10*time.Millisecond)
	id := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	var first atomic.Int32
	s.Schedule(id, func(context.Context) bool {
		if first.Add(1) == 1 {
			close(entered)
			<-release
		}
		return true
	})

	<-entered
	var second atomic.Int32
	require.True(t, s.Schedule(id, func(context.Context) bool {
		second.Add(1)
		return false
	}))
	close(release)

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), first.Load(), "retry of the superseded attempt is not re-armed")
}

func TestCancel_WhileAttemptRuns(t *testing.T) {
	s := newTestScheduler(t, 10*time.Millisecond)
	id := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s.Schedule(id, func(context.Context) bool {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return true
	})

	<-entered
	s.Cancel(id)
	assert.False(t, s.Pending(id))
	close(release)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "cancelled attempt is not re-armed")
	assert.False(t, s.Pending(id))
}
