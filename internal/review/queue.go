// Package review ranks attribution records for human attention using a
// weighted blend of uncertainty, disagreement, ambiguity, novelty and
// staleness factors.
package review

import (
	"math"
	"sort"
	"time"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// FactorWeights distributes priority across the five factors. They are
// expected to sum to 1.0; Normalize rescales when they do not.
type FactorWeights struct {
	Boundary      float64 `yaml:"boundary" mapstructure:"boundary"`
	Disagreement  float64 `yaml:"disagreement" mapstructure:"disagreement"`
	Ambiguity     float64 `yaml:"ambiguity" mapstructure:"ambiguity"`
	NeverReviewed float64 `yaml:"never_reviewed" mapstructure:"never_reviewed"`
	Staleness     float64 `yaml:"staleness" mapstructure:"staleness"`
}

// DefaultFactorWeights returns the standard distribution.
func DefaultFactorWeights() FactorWeights {
	return FactorWeights{
		Boundary:      0.30,
		Disagreement:  0.25,
		Ambiguity:     0.15,
		NeverReviewed: 0.15,
		Staleness:     0.15,
	}
}

// Normalize rescales the weights to sum to 1.0. All-zero weights fall back
// to the defaults.
func (w FactorWeights) Normalize() FactorWeights {
	sum := w.Boundary + w.Disagreement + w.Ambiguity + w.NeverReviewed + w.Staleness
	if sum == 0 {
		return DefaultFactorWeights()
	}
	return FactorWeights{
		Boundary:      w.Boundary / sum,
		Disagreement:  w.Disagreement / sum,
		Ambiguity:     w.Ambiguity / sum,
		NeverReviewed: w.NeverReviewed / sum,
		Staleness:     w.Staleness / sum,
	}
}

// ambiguityCeiling is the conformal set size at which ambiguity saturates.
const ambiguityCeiling = 5.0

// stalenessCeilingDays is the record age at which staleness saturates.
const stalenessCeilingDays = 30.0

// Queue computes review priorities and serves the top of the queue.
type Queue struct {
	weights FactorWeights
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithWeights overrides the factor weights.
func WithWeights(w FactorWeights) Option {
	return func(q *Queue) { q.weights = w.Normalize() }
}

// WithClock injects the clock (tests use a fixed time).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a review queue with default weights.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		weights: DefaultFactorWeights(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Factors breaks a priority down into its independently normalized inputs,
// each in [0,1].
type Factors struct {
	Boundary      float64 `json:"boundary"`
	Disagreement  float64 `json:"disagreement"`
	Ambiguity     float64 `json:"ambiguity"`
	NeverReviewed float64 `json:"never_reviewed"`
	Staleness     float64 `json:"staleness"`
}

// ComputeFactors derives the five factors for a record.
func (q *Queue) ComputeFactors(record model.AttributionRecord) Factors {
	f := Factors{
		Boundary:     1 - 2*math.Abs(record.ConfidenceScore-0.5),
		Disagreement: 1 - record.SourceAgreement,
	}

	setSize := 0
	for _, labels := range record.Conformal.Sets {
		setSize += len(labels)
	}
	f.Ambiguity = math.Min(float64(setSize)/ambiguityCeiling, 1.0)

	if record.Version == 1 {
		f.NeverReviewed = 1.0
	} else {
		f.NeverReviewed = math.Max(0, 1-0.25*float64(record.Version-1))
	}

	days := q.now().Sub(record.UpdatedAt).Hours() / 24
	f.Staleness = math.Min(math.Max(days, 0)/stalenessCeilingDays, 1.0)

	return f
}

// ComputePriority folds the factors into a single [0,1] priority.
func (q *Queue) ComputePriority(record model.AttributionRecord) float64 {
	f := q.ComputeFactors(record)
	p := q.weights.Boundary*f.Boundary +
		q.weights.Disagreement*f.Disagreement +
		q.weights.Ambiguity*f.Ambiguity +
		q.weights.NeverReviewed*f.NeverReviewed +
		q.weights.Staleness*f.Staleness
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Ranked pairs a record with its computed priority.
type Ranked struct {
	Record   model.AttributionRecord
	Priority float64
}

// NextForReview returns the limit highest-priority records, descending. It
// deliberately does not filter by needs_review: quietly stale high-confidence
// records still deserve eventual eyes.
func (q *Queue) NextForReview(records []model.AttributionRecord, limit int) []Ranked {
	ranked := make([]Ranked, 0, len(records))
	for _, r := range records {
		ranked = append(ranked, Ranked{Record: r, Priority: q.ComputePriority(r)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	if limit >= 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}
