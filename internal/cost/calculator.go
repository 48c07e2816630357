// Package cost prices LLM arbitration calls and tracks cumulative spend
// against an optional budget ceiling.
package cost

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Rates holds per-model pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// ErrBudgetExhausted is returned by Tracker.Check once spend reaches the limit.
var ErrBudgetExhausted = eris.New("cost: arbitration budget exhausted")

// Tracker accumulates spend across calls. A zero limit means unlimited.
// Safe for concurrent use.
type Tracker struct {
	calc  *Calculator
	limit float64

	mu    sync.Mutex
	spent float64
	calls int
}

// NewTracker creates a tracker with the given calculator and budget limit in
// USD. A nil calculator gets default rates.
func NewTracker(calc *Calculator, limitUSD float64) *Tracker {
	if calc == nil {
		calc = NewCalculator(DefaultRates())
	}
	return &Tracker{calc: calc, limit: limitUSD}
}

// Check returns ErrBudgetExhausted when the accumulated spend has reached the
// limit. Callers gate new calls on it.
func (t *Tracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && t.spent >= t.limit {
		return ErrBudgetExhausted
	}
	return nil
}

// Record prices one call and adds it to the running total, returning the cost
// of that call.
func (t *Tracker) Record(model string, input, output, cacheWrite, cacheRead int) float64 {
	c := t.calc.Claude(model, input, output, cacheWrite, cacheRead)
	t.mu.Lock()
	t.spent += c
	t.calls++
	t.mu.Unlock()
	return c
}

// Spent returns the accumulated spend and call count.
func (t *Tracker) Spent() (usd float64, calls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent, t.calls
}
