package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func failing(ctx context.Context) (int, error)    { return 0, eris.New("service down") }
func succeeding(ctx context.Context) (int, error) { return 7, nil }

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ExecuteVal(ctx, cb, failing)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := ExecuteVal(ctx, cb, succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	failures, state := cb.Counters()
	assert.Equal(t, 3, failures)
	assert.Equal(t, CircuitOpen, state)
}

func TestCircuit_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing)
	_, _ = ExecuteVal(ctx, cb, failing)

	got, err := ExecuteVal(ctx, cb, succeeding)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	failures, state := cb.Counters()
	assert.Zero(t, failures)
	assert.Equal(t, CircuitClosed, state)
}

func TestCircuit_HalfOpenAfterResetTimeout(t *testing.T) {
	cb, now := testBreaker(1, time.Minute)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing)
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A successful probe closes the circuit.
	got, err := ExecuteVal(ctx, cb, succeeding)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuit_HalfOpenFailureReopens(t *testing.T) {
	cb, now := testBreaker(1, time.Minute)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing)
	*now = now.Add(2 * time.Minute)

	_, err := ExecuteVal(ctx, cb, failing)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)

	// Reopened: before the next reset window, calls are rejected.
	*now = now.Add(time.Second)
	_, err = ExecuteVal(ctx, cb, succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuit_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})
	ctx := context.Background()

	// A permanent error does not trip the breaker.
	_, err := ExecuteVal(ctx, cb, failing)
	require.Error(t, err)
	assert.Equal(t, CircuitClosed, cb.State())

	_, err = ExecuteVal(ctx, cb, func(ctx context.Context) (int, error) {
		return 0, NewTransientError(eris.New("overloaded"), 529)
	})
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuit_Reset(t *testing.T) {
	cb, _ := testBreaker(1, time.Hour)
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failing)
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())

	got, err := ExecuteVal(ctx, cb, succeeding)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestCircuit_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_, _ = ExecuteVal(context.Background(), cb, failing)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
