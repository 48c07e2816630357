// Package disambig is the cost-gated LLM arbitration tier. It decides when a
// group is ambiguous enough to be worth an oracle call, memoizes answers by
// content hash, and converts every oracle failure into a safe low-confidence
// fallback instead of an error.
package disambig

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/contentcache"
	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// ErrUnavailable is returned by TryDisambiguate when no oracle is configured.
var ErrUnavailable = eris.New("disambig: no oracle configured")

// DefaultTimeout bounds a single oracle call.
const DefaultTimeout = 30 * time.Second

// Decision is the oracle's verdict on a candidate set. A nil ChosenIndex
// means the oracle declined to pick (or the call fell back).
type Decision struct {
	ChosenIndex *int    `json:"chosen_index,omitempty"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	Cached      bool    `json:"cached"`
}

// Oracle is the external LLM collaborator contract: given candidates and
// free-text context, pick the matching candidate or decline.
type Oracle interface {
	Disambiguate(ctx context.Context, candidates []model.SourceRecord, contextText string) (Decision, error)
}

// AmbiguityBand is the score interval in which cheaper signals are considered
// inconclusive.
type AmbiguityBand struct {
	Low  float64
	High float64
}

// DefaultAmbiguityBand covers scores where neither merge nor reject is safe.
var DefaultAmbiguityBand = AmbiguityBand{Low: 0.4, High: 0.7}

// SignalScores carries the cheap-tier scores the cost gate inspects. Nil
// means the signal was never computed.
type SignalScores struct {
	String    *float64
	Embedding *float64
	Graph     *float64
}

// Disambiguator gates and memoizes oracle calls.
type Disambiguator struct {
	oracle  Oracle
	cache   *contentcache.Cache[Decision]
	band    AmbiguityBand
	timeout time.Duration
}

// Option configures a Disambiguator.
type Option func(*Disambiguator)

// WithBand overrides the ambiguity band.
func WithBand(band AmbiguityBand) Option {
	return func(d *Disambiguator) { d.band = band }
}

// WithTimeout overrides the per-call oracle timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Disambiguator) { d.timeout = timeout }
}

// WithCacheStore injects a backing store for the decision cache.
func WithCacheStore(store contentcache.Store[Decision]) Option {
	return func(d *Disambiguator) { d.cache = contentcache.New(store) }
}

// New creates a Disambiguator. A nil oracle is allowed; the gate then reports
// unavailability instead of inventing answers.
func New(oracle Oracle, opts ...Option) *Disambiguator {
	d := &Disambiguator{
		oracle:  oracle,
		cache:   contentcache.New[Decision](nil),
		band:    DefaultAmbiguityBand,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldInvoke reports whether the oracle is worth calling: the best cheap
// signal sits inside the ambiguity band, or no cheap signal exists at all.
func (d *Disambiguator) ShouldInvoke(scores SignalScores) bool {
	var best *float64
	for _, s := range []*float64{scores.String, scores.Embedding, scores.Graph} {
		if s == nil {
			continue
		}
		if best == nil || *s > *best {
			best = s
		}
	}
	if best == nil {
		return true
	}
	return *best >= d.band.Low && *best <= d.band.High
}

// CacheKey derives the content hash for a candidate set and context: the
// sorted "source:source_id:name" tuples concatenated with the context text.
func CacheKey(candidates []model.SourceRecord, contextText string) string {
	tuples := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tuples = append(tuples, string(c.Source)+":"+c.SourceID+":"+c.Name)
	}
	sort.Strings(tuples)
	return contentcache.Key(append(tuples, contextText)...)
}

// TryDisambiguate consults the cache, then the oracle. It returns
// ErrUnavailable when no oracle is configured and wraps genuine oracle
// failures; callers wanting the fail-closed behavior use Disambiguate.
func (d *Disambiguator) TryDisambiguate(ctx context.Context, candidates []model.SourceRecord, contextText string) (Decision, error) {
	key := CacheKey(candidates, contextText)
	if dec, ok := d.cache.Get(key); ok {
		dec.Cached = true
		return dec, nil
	}

	if d.oracle == nil {
		return Decision{}, ErrUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	dec, err := d.oracle.Disambiguate(callCtx, candidates, contextText)
	if err != nil {
		return Decision{}, eris.Wrap(err, "disambig: oracle call")
	}
	dec.Cached = false
	d.cache.Put(key, dec)
	return dec, nil
}

// Disambiguate never fails: unavailability, timeouts, and oracle errors all
// map to a zero-confidence fallback whose reasoning names the cause.
func (d *Disambiguator) Disambiguate(ctx context.Context, candidates []model.SourceRecord, contextText string) Decision {
	dec, err := d.TryDisambiguate(ctx, candidates, contextText)
	if err == nil {
		return dec
	}

	reason := "oracle error: " + err.Error()
	switch {
	case errors.Is(err, ErrUnavailable):
		reason = "oracle unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "oracle timeout after " + d.timeout.String()
	}

	zap.L().Warn("disambig: falling back",
		zap.Int("candidates", len(candidates)),
		zap.String("reason", reason),
	)
	return Decision{ChosenIndex: nil, Confidence: 0.0, Reasoning: reason}
}
