package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaude_HaikuPricing(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	// 1M input at $0.80 + 1M output at $4.00.
	got := calc.Claude("claude-haiku-4-5-20251001", 1_000_000, 1_000_000, 0, 0)
	assert.InDelta(t, 4.80, got, 1e-9)
}

func TestClaude_CacheMultipliers(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	// 1M cache write at 1.25x input, 1M cache read at 0.1x input.
	got := calc.Claude("claude-haiku-4-5-20251001", 0, 0, 1_000_000, 1_000_000)
	assert.InDelta(t, 0.80*1.25+0.80*0.1, got, 1e-9)
}

func TestClaude_UnknownModel(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	assert.Zero(t, calc.Claude("claude-nonexistent", 1_000_000, 1_000_000, 0, 0))
}

func TestClaude_ZeroTokens(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	assert.Zero(t, calc.Claude("claude-sonnet-4-5-20250929", 0, 0, 0, 0))
}

func TestTracker_Accumulates(t *testing.T) {
	tr := NewTracker(nil, 0)

	first := tr.Record("claude-haiku-4-5-20251001", 1_000_000, 0, 0, 0)
	assert.InDelta(t, 0.80, first, 1e-9)

	tr.Record("claude-haiku-4-5-20251001", 0, 1_000_000, 0, 0)

	spent, calls := tr.Spent()
	assert.InDelta(t, 4.80, spent, 1e-9)
	assert.Equal(t, 2, calls)
}

func TestTracker_BudgetGate(t *testing.T) {
	tr := NewTracker(nil, 1.00)
	require.NoError(t, tr.Check())

	tr.Record("claude-haiku-4-5-20251001", 2_000_000, 0, 0, 0) // $1.60

	err := tr.Check()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestTracker_ZeroLimitIsUnlimited(t *testing.T) {
	tr := NewTracker(nil, 0)
	tr.Record("claude-opus-4-6", 10_000_000, 10_000_000, 0, 0)
	assert.NoError(t, tr.Check())
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := NewTracker(nil, 0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record("claude-haiku-4-5-20251001", 1000, 1000, 0, 0)
			}
		}()
	}
	wg.Wait()

	_, calls := tr.Spent()
	assert.Equal(t, 1000, calls)
}
