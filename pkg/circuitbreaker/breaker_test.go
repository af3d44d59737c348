package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type recordingObserver struct {
	mu        sync.Mutex
	states    []string
	blocked   int
	failed    int
	succeeded int
}

func (o *recordingObserver) SetBreakerState(_, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) IncBreakerBlocked(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocked++
}

func (o *recordingObserver) IncBreakerFailed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *recordingObserver) IncBreakerSucceeded(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.succeeded++
}

func failing(calls *int) func() (any, error) {
	return func() (any, error) {
		*calls++
		return nil, errBoom
	}
}

func tripped(t *testing.T, threshold uint32, reset time.Duration, obs Observer) *Breaker {
	t.Helper()
	opts := []Option{}
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	b := New("prophet", Config{FailureThreshold: threshold, ResetTimeout: reset}, opts...)
	calls := 0
	for i := uint32(0); i < threshold; i++ {
		_, err := b.Execute(failing(&calls))
		require.ErrorIs(t, err, errBoom)
	}
	require.Equal(t, StateOpen, b.State())
	return b
}

func TestBreakerStartsClosedAndPassesResults(t *testing.T) {
	b := New("prophet", Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	assert.Equal(t, StateClosed, b.State())

	v, err := Run(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBreakerPropagatesOriginalError(t *testing.T) {
	b := New("prophet", Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	calls := 0
	_, err := b.Execute(failing(&calls))
	assert.Same(t, errBoom, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOpensAfterThresholdAndFailsFast(t *testing.T) {
	obs := &recordingObserver{}
	b := tripped(t, 3, time.Minute, obs)

	invoked := 0
	_, err := b.Execute(func() (any, error) {
		invoked++
		return "never", nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, invoked, "operation must not run while open")
	assert.Equal(t, 1, obs.blocked)
	assert.Equal(t, 3, obs.failed)
	assert.Contains(t, obs.states, "open")
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := New("prophet", Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	calls := 0
	_, _ = b.Execute(failing(&calls))
	_, _ = b.Execute(failing(&calls))
	_, err := b.Execute(func() (any, error) { return 1, nil })
	require.NoError(t, err)
	assert.Zero(t, b.Counts().ConsecutiveFailures)

	_, _ = b.Execute(failing(&calls))
	_, _ = b.Execute(failing(&calls))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresCancelledCalls(t *testing.T) {
	obs := &recordingObserver{}
	b := New("prophet", Config{FailureThreshold: 1, ResetTimeout: time.Minute}, WithObserver(obs))

	cancelled := fmt.Errorf("post /forecast: %w", context.Canceled)
	for i := 0; i < 3; i++ {
		_, err := b.Execute(func() (any, error) { return nil, cancelled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, obs.failed)

	_, err := b.Execute(func() (any, error) { return nil, context.DeadlineExceeded })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenProbeRunsOnceAndCloses(t *testing.T) {
	obs := &recordingObserver{}
	b := tripped(t, 2, 30*time.Millisecond, obs)

	time.Sleep(50 * time.Millisecond)

	invoked := 0
	_, err := b.Execute(func() (any, error) {
		invoked++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, invoked)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().ConsecutiveFailures)
	assert.Contains(t, obs.states, "half-open")
}

// A failed half-open trial reopens immediately rather than waiting for the
// failure counter to reach the threshold again.
func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := tripped(t, 5, 30*time.Millisecond, nil)

	time.Sleep(50 * time.Millisecond)

	calls := 0
	_, err := b.Execute(failing(&calls))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateOpen, b.State())

	_, err = b.Execute(failing(&calls))
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 1, calls)
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	b := tripped(t, 1, 20*time.Millisecond, nil)
	time.Sleep(40 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = b.Execute(func() (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	_, err := b.Execute(func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestBreakerReset(t *testing.T) {
	b := tripped(t, 1, time.Hour, nil)
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	_, err := b.Execute(func() (any, error) { return nil, nil })
	assert.NoError(t, err)
}

func TestStateChangeListener(t *testing.T) {
	var got []State
	b := New("spot", Config{FailureThreshold: 1, ResetTimeout: time.Hour},
		WithStateChangeListener(func(_ string, _, to State) { got = append(got, to) }))
	calls := 0
	_, _ = b.Execute(failing(&calls))
	assert.Equal(t, []State{StateOpen}, got)
}

func TestDefaultsApplied(t *testing.T) {
	b := New("x", Config{})
	assert.Equal(t, DefaultConfig(), b.Config())
}
