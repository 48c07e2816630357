// Package credit turns resolved entities into attribution records via
// reliability-weighted voting across sources.
package credit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// SourceWeights is the per-source reliability table. Sources missing from
// the table fall back to DefaultUnknownSourceWeight.
type SourceWeights map[model.Source]float64

// DefaultUnknownSourceWeight covers sources absent from the table.
const DefaultUnknownSourceWeight = 0.5

// DefaultSourceWeights returns the standard reliability table: editorial
// catalogs high, fingerprint-derived medium, embedded file tags low.
func DefaultSourceWeights() SourceWeights {
	return SourceWeights{
		model.SourceMusicBrainz:  1.0,
		model.SourceArtistInput:  0.95,
		model.SourceDiscogs:      0.8,
		model.SourceAcoustID:     0.7,
		model.SourceFileMetadata: 0.4,
	}
}

// Weight returns the reliability weight for a source.
func (w SourceWeights) Weight(s model.Source) float64 {
	if v, ok := w[s]; ok {
		return v
	}
	return DefaultUnknownSourceWeight
}

// RoleAssignment is one entry of the roles map handed to Aggregate.
type RoleAssignment struct {
	Role   model.Role
	Detail string
}

// Aggregator compiles attribution records from resolved entities.
type Aggregator struct {
	weights         SourceWeights
	reviewThreshold float64
	coverageLevel   float64
	now             func() time.Time
	newID           func() string
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithSourceWeights overrides the reliability table.
func WithSourceWeights(w SourceWeights) AggregatorOption {
	return func(a *Aggregator) { a.weights = w }
}

// WithReviewThreshold overrides the needs-review confidence threshold.
func WithReviewThreshold(t float64) AggregatorOption {
	return func(a *Aggregator) { a.reviewThreshold = t }
}

// WithCoverageLevel sets the target coverage recorded on the placeholder
// conformal set.
func WithCoverageLevel(level float64) AggregatorOption {
	return func(a *Aggregator) { a.coverageLevel = level }
}

// WithClock injects the clock (tests use a fixed time).
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithIDGenerator injects the record id generator.
func WithIDGenerator(fn func() string) AggregatorOption {
	return func(a *Aggregator) { a.newID = fn }
}

// NewAggregator creates an aggregator with the default reliability table.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		weights:         DefaultSourceWeights(),
		reviewThreshold: 0.5,
		coverageLevel:   0.9,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds a version-1 AttributionRecord for a work from its resolved
// contributors. Contributors missing from roles default to PERFORMER.
func (a *Aggregator) Aggregate(work model.ResolvedEntity, contributors []model.ResolvedEntity, roles map[string]RoleAssignment) model.AttributionRecord {
	now := a.now()

	record := model.AttributionRecord{
		ID:           a.newID(),
		WorkEntityID: work.ID,
		Assurance:    model.AssuranceLevel0,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var confidenceSum float64
	sourceSet := make(map[model.Source]struct{})
	for i, contributor := range contributors {
		assignment, ok := roles[contributor.ID]
		if !ok {
			assignment = RoleAssignment{Role: model.RolePerformer}
		}

		cred := model.Credit{
			EntityID:   contributor.ID,
			Role:       assignment.Role,
			RoleDetail: assignment.Detail,
			Confidence: a.creditConfidence(contributor),
			Sources:    distinctSources(contributor),
			Assurance:  contributor.Assurance,
		}
		record.Credits = append(record.Credits, cred)
		confidenceSum += cred.Confidence
		for _, s := range cred.Sources {
			sourceSet[s] = struct{}{}
		}

		if i == 0 {
			record.Assurance = contributor.Assurance
		} else {
			record.Assurance = model.MinAssurance(record.Assurance, contributor.Assurance)
		}
	}

	if len(record.Credits) > 0 {
		record.ConfidenceScore = confidenceSum / float64(len(record.Credits))
	}
	record.SourceAgreement = sourceAgreement(contributors)

	// Conformal calibration happens downstream; record the target so the
	// placeholder still satisfies the calibration-error invariant.
	record.Conformal = model.ConformalSet{
		CoverageLevel:    a.coverageLevel,
		MarginalCoverage: 0,
		CalibrationError: a.coverageLevel,
		Method:           "pending",
	}

	if record.ConfidenceScore < a.reviewThreshold {
		record.NeedsReview = true
		record.ReviewReason = fmt.Sprintf("attribution confidence %.2f below threshold %.2f", record.ConfidenceScore, a.reviewThreshold)
		record.ReviewPriority = 1 - record.ConfidenceScore
	}

	sources := make([]model.Source, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	record.Provenance = append(record.Provenance,
		model.NewCreateEvent(now, model.CreateDetail{
			EntityCount: len(contributors),
			Sources:     sources,
		}),
		model.NewScoreEvent(now, model.ScoreDetail{
			Confidence:      record.ConfidenceScore,
			SourceAgreement: record.SourceAgreement,
			Scorer:          "credit_aggregator",
		}),
	)

	zap.L().Debug("aggregated attribution",
		zap.String("work_entity_id", work.ID),
		zap.Int("credits", len(record.Credits)),
		zap.Float64("confidence", record.ConfidenceScore),
		zap.Bool("needs_review", record.NeedsReview),
	)
	return record
}

// creditConfidence is the reliability-weighted vote over the entity's
// distinct sources. With no sources the raw resolution confidence stands.
func (a *Aggregator) creditConfidence(entity model.ResolvedEntity) float64 {
	sources := distinctSources(entity)
	if len(sources) == 0 {
		return entity.Confidence
	}
	var num, den float64
	for _, s := range sources {
		w := a.weights.Weight(s)
		num += entity.Confidence * w
		den += w
	}
	if den == 0 {
		return entity.Confidence
	}
	return num / den
}

// sourceAgreement is a simplified agreement proxy: a lone contributor's own
// confidence, otherwise the mean resolution confidence capped at 1.0. It is
// not a pairwise agreement measure.
func sourceAgreement(contributors []model.ResolvedEntity) float64 {
	switch len(contributors) {
	case 0:
		return 0
	case 1:
		return contributors[0].Confidence
	}
	var sum float64
	for _, c := range contributors {
		sum += c.Confidence
	}
	mean := sum / float64(len(contributors))
	if mean > 1.0 {
		return 1.0
	}
	return mean
}

func distinctSources(entity model.ResolvedEntity) []model.Source {
	seen := make(map[model.Source]struct{})
	var out []model.Source
	for _, ref := range entity.Sources {
		if _, ok := seen[ref.Source]; ok {
			continue
		}
		seen[ref.Source] = struct{}{}
		out = append(out, ref.Source)
	}
	return out
}
