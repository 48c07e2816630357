package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/troubadour-labs/attribution-cli/internal/disambig"
	"github.com/troubadour-labs/attribution-cli/internal/embedding"
	"github.com/troubadour-labs/attribution-cli/internal/linkage"
	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// SignalWeights are the per-method weights used when combining populated
// signals into one confidence number.
type SignalWeights struct {
	Identifier float64 `yaml:"identifier" mapstructure:"identifier"`
	Splink     float64 `yaml:"splink" mapstructure:"splink"`
	String     float64 `yaml:"string" mapstructure:"string"`
	Embedding  float64 `yaml:"embedding" mapstructure:"embedding"`
	Graph      float64 `yaml:"graph" mapstructure:"graph"`
	LLM        float64 `yaml:"llm" mapstructure:"llm"`
}

// DefaultSignalWeights returns the standard weighting.
func DefaultSignalWeights() SignalWeights {
	return SignalWeights{
		Identifier: 1.0,
		Splink:     0.8,
		String:     0.6,
		Embedding:  0.7,
		Graph:      0.75,
		LLM:        0.85,
	}
}

const (
	// DefaultStringThreshold gates tier-2 fuzzy grouping.
	DefaultStringThreshold = 0.85
	// DefaultEmbeddingThreshold is the floor for embedding to count as the
	// dominant method.
	DefaultEmbeddingThreshold = 0.7
	// DefaultReviewThreshold flags entities for human review below it.
	DefaultReviewThreshold = 0.5
	// defaultConcurrency bounds parallel group resolution.
	defaultConcurrency = 8
	// singletonConfidence is the default for a record with no signals at all.
	singletonConfidence = 0.5
)

// defaultLinkageColumns are the comparison columns handed to the linkage
// collaborator (and its exact-match fallback).
var defaultLinkageColumns = []string{"name", "artist", "album", "year"}

// Orchestrator runs the resolution cascade: exact identifiers, then fuzzy
// strings, then singletons, consulting the optional linkage, embedding and
// LLM collaborators per group.
type Orchestrator struct {
	identifiers *IdentifierMatcher
	similarity  *StringSimilarityMatcher

	linker        linkage.Linker
	embedder      embedding.Provider
	disambiguator *disambig.Disambiguator

	weights            SignalWeights
	stringThreshold    float64
	embeddingThreshold float64
	reviewThreshold    float64
	linkageColumns     []string
	concurrency        int
	newID              func() string

	log *zap.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLinker attaches a probabilistic-linkage collaborator.
func WithLinker(l linkage.Linker) OrchestratorOption {
	return func(o *Orchestrator) { o.linker = l }
}

// WithEmbedder attaches an embedding collaborator.
func WithEmbedder(p embedding.Provider) OrchestratorOption {
	return func(o *Orchestrator) { o.embedder = p }
}

// WithDisambiguator attaches the LLM arbitration tier.
func WithDisambiguator(d *disambig.Disambiguator) OrchestratorOption {
	return func(o *Orchestrator) { o.disambiguator = d }
}

// WithSignalWeights overrides the per-method signal weights.
func WithSignalWeights(w SignalWeights) OrchestratorOption {
	return func(o *Orchestrator) { o.weights = w }
}

// WithStringThreshold overrides the tier-2 similarity threshold.
func WithStringThreshold(t float64) OrchestratorOption {
	return func(o *Orchestrator) { o.stringThreshold = t }
}

// WithReviewThreshold overrides the needs-review confidence threshold.
func WithReviewThreshold(t float64) OrchestratorOption {
	return func(o *Orchestrator) { o.reviewThreshold = t }
}

// WithConcurrency bounds how many groups resolve in parallel.
func WithConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithIDGenerator injects the entity id generator (tests use a counter).
func WithIDGenerator(fn func() string) OrchestratorOption {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewOrchestrator creates an orchestrator with default thresholds and weights.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		identifiers:        NewIdentifierMatcher(),
		weights:            DefaultSignalWeights(),
		stringThreshold:    DefaultStringThreshold,
		embeddingThreshold: DefaultEmbeddingThreshold,
		reviewThreshold:    DefaultReviewThreshold,
		linkageColumns:     defaultLinkageColumns,
		concurrency:        defaultConcurrency,
		newID:              uuid.NewString,
		log:                zap.L().With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.similarity = NewStringSimilarityMatcher(o.stringThreshold)
	return o
}

// Resolve runs the full cascade over a batch and returns a disjoint set of
// resolved entities. Degraded collaborators never fail the batch; affected
// groups fail closed to low confidence and needs_review instead.
func (o *Orchestrator) Resolve(ctx context.Context, records []model.SourceRecord) ([]model.ResolvedEntity, error) {
	if len(records) == 0 {
		return nil, nil
	}

	// Tier 1: exact-identifier groups of size >= 2.
	var groups [][]model.SourceRecord
	var remaining []model.SourceRecord
	for _, g := range o.identifiers.Match(records) {
		if len(g.Records) >= 2 {
			groups = append(groups, g.Records)
		} else {
			remaining = append(remaining, g.Records...)
		}
	}
	tier1 := len(groups)

	// Tier 2: pairwise string similarity over what's left.
	var singles []model.SourceRecord
	for _, g := range o.stringGroups(remaining) {
		if len(g) >= 2 {
			groups = append(groups, g)
		} else {
			singles = append(singles, g...)
		}
	}
	tier2 := len(groups) - tier1

	// Tier 3: everything ungrouped becomes a singleton.
	for _, rec := range singles {
		groups = append(groups, []model.SourceRecord{rec})
	}

	o.log.Info("cascade grouping complete",
		zap.Int("records", len(records)),
		zap.Int("identifier_groups", tier1),
		zap.Int("string_groups", tier2),
		zap.Int("singletons", len(singles)),
	)

	// Per-group resolution is read-only and independent; resolve in parallel.
	entities := make([]model.ResolvedEntity, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.concurrency)
	for i, group := range groups {
		eg.Go(func() error {
			entities[i] = o.ResolveGroup(egCtx, group)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return entities, nil
}

// stringGroups unions records whose names score at or above the threshold.
func (o *Orchestrator) stringGroups(records []model.SourceRecord) [][]model.SourceRecord {
	if len(records) == 0 {
		return nil
	}
	uf := newUnionFind(len(records))
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if o.similarity.Score(records[i].Name, records[j].Name) >= o.stringThreshold {
				uf.union(i, j)
			}
		}
	}
	var out [][]model.SourceRecord
	for _, members := range uf.groups() {
		group := make([]model.SourceRecord, 0, len(members))
		for _, idx := range members {
			group = append(group, records[idx])
		}
		out = append(out, group)
	}
	return out
}

// ResolveGroup compiles one group into a ResolvedEntity. It panics when
// handed zero records: that is a programming error, not bad data.
func (o *Orchestrator) ResolveGroup(ctx context.Context, records []model.SourceRecord) model.ResolvedEntity {
	if len(records) == 0 {
		panic("resolve: ResolveGroup called with zero records")
	}

	details, llmReasoning := o.collectSignals(ctx, records)
	matched := len(details.MatchedIdentifiers)

	entity := model.ResolvedEntity{
		ID:            o.newID(),
		Type:          records[0].Type,
		CanonicalName: mostFrequentName(records),
		Identifiers:   mergeIdentifiers(records),
		Details:       details,
		Method:        dominantMethod(details, o.stringThreshold, o.embeddingThreshold),
		Confidence:    o.combineSignals(details, records),
	}

	for _, rec := range records {
		entity.Sources = append(entity.Sources, model.SourceReference{
			RecordID:       rec.Key(),
			Source:         rec.Source,
			AgreementScore: clamp01(rec.SourceConfidence),
		})
		entity.MergedFrom = append(entity.MergedFrom, rec.Key())
	}

	entity.Assurance = AssuranceFor(records, entity.DistinctSources(), matched)

	if conflict := canonicalNameConflict(records); conflict != nil {
		entity.Conflicts = append(entity.Conflicts, *conflict)
	}

	if entity.Confidence < o.reviewThreshold {
		entity.NeedsReview = true
		entity.ReviewReason = fmt.Sprintf("resolution confidence %.2f below threshold %.2f", entity.Confidence, o.reviewThreshold)
		if llmReasoning != "" {
			entity.ReviewReason += "; arbiter: " + llmReasoning
		}
	}

	return entity
}

// collectSignals computes the per-method evidence for a group, consulting
// collaborators where configured. Collaborator failures are logged and leave
// the corresponding signal unset.
func (o *Orchestrator) collectSignals(ctx context.Context, records []model.SourceRecord) (model.ResolutionDetails, string) {
	var details model.ResolutionDetails

	details.MatchedIdentifiers = sharedIdentifierFields(records)

	if len(records) >= 2 {
		if s := o.maxPairwiseStringScore(records); s >= 0 {
			details.StringScore = &s
		}
		o.linkageSignal(ctx, records, &details)
		o.embeddingSignal(ctx, records, &details)
	}

	var llmReasoning string
	if o.disambiguator != nil {
		scores := disambig.SignalScores{
			String:    details.StringScore,
			Embedding: details.EmbeddingScore,
			Graph:     details.GraphScore,
		}
		if len(records) >= 2 && o.disambiguator.ShouldInvoke(scores) {
			decision := o.disambiguator.Disambiguate(ctx, records, groupContext(records))
			llmReasoning = decision.Reasoning
			if decision.ChosenIndex != nil {
				score := clamp01(decision.Confidence)
				details.LLMScore = &score
			}
		}
	}

	return details, llmReasoning
}

// linkageSignal asks the linkage collaborator for pairwise probabilities,
// falling back to the exact-match-fraction heuristic when it is absent or
// erroring.
func (o *Orchestrator) linkageSignal(ctx context.Context, records []model.SourceRecord, details *model.ResolutionDetails) {
	if o.linker != nil {
		probs, err := o.linker.MatchProbabilities(ctx, records, o.linkageColumns)
		if err == nil {
			score := clamp01(linkage.GroupScore(probs))
			details.SplinkScore = &score
			return
		}
		o.log.Warn("linkage collaborator failed, using exact-match fallback", zap.Error(err))
	}
	score := linkage.ExactMatchFraction(records, o.linkageColumns)
	details.SplinkScore = &score
}

// embeddingSignal computes the max pairwise cosine similarity of name
// embeddings. Absent or failing providers leave the signal unset.
func (o *Orchestrator) embeddingSignal(ctx context.Context, records []model.SourceRecord, details *model.ResolutionDetails) {
	if o.embedder == nil {
		return
	}
	vectors := make([][]float32, 0, len(records))
	for _, rec := range records {
		vec, err := o.embedder.Embed(ctx, rec.Name)
		if err != nil {
			o.log.Warn("embedding collaborator failed, skipping signal", zap.Error(err))
			return
		}
		vectors = append(vectors, vec)
	}
	best := -1.0
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			if sim := embedding.CosineSimilarity(vectors[i], vectors[j]); sim > best {
				best = sim
			}
		}
	}
	if best >= 0 {
		details.EmbeddingScore = &best
	}
}

// maxPairwiseStringScore returns the best name similarity in the group, or -1
// when nothing is comparable.
func (o *Orchestrator) maxPairwiseStringScore(records []model.SourceRecord) float64 {
	best := -1.0
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if s := o.similarity.Score(records[i].Name, records[j].Name); s > best {
				best = s
			}
		}
	}
	return best
}

// combineSignals takes the weighted average over every populated signal.
// A group with no signals at all defaults to 0.5.
func (o *Orchestrator) combineSignals(details model.ResolutionDetails, records []model.SourceRecord) float64 {
	type signal struct {
		value  float64
		weight float64
	}
	var signals []signal

	if n := len(details.MatchedIdentifiers); n > 0 {
		signals = append(signals, signal{
			value:  identifierConfidence(distinctSourceCount(records), n),
			weight: o.weights.Identifier,
		})
	}
	if details.SplinkScore != nil {
		signals = append(signals, signal{*details.SplinkScore, o.weights.Splink})
	}
	if details.StringScore != nil {
		signals = append(signals, signal{*details.StringScore, o.weights.String})
	}
	if details.EmbeddingScore != nil {
		signals = append(signals, signal{*details.EmbeddingScore, o.weights.Embedding})
	}
	if details.GraphScore != nil {
		signals = append(signals, signal{*details.GraphScore, o.weights.Graph})
	}
	if details.LLMScore != nil {
		signals = append(signals, signal{*details.LLMScore, o.weights.LLM})
	}

	if len(signals) == 0 {
		return singletonConfidence
	}

	var num, den float64
	for _, s := range signals {
		num += s.value * s.weight
		den += s.weight
	}
	if den == 0 {
		return singletonConfidence
	}
	return clamp01(num / den)
}

// dominantMethod picks the resolution method by tier priority.
func dominantMethod(details model.ResolutionDetails, stringThreshold, embeddingThreshold float64) model.ResolutionMethod {
	switch {
	case len(details.MatchedIdentifiers) > 0:
		return model.MethodExactIdentifier
	case details.StringScore != nil && *details.StringScore >= stringThreshold:
		return model.MethodFuzzyString
	case details.EmbeddingScore != nil && *details.EmbeddingScore >= embeddingThreshold:
		return model.MethodEmbedding
	default:
		return model.MethodUnverified
	}
}

// sharedIdentifierFields lists the fields for which at least two records in
// the group carry the same non-empty value, in priority order.
func sharedIdentifierFields(records []model.SourceRecord) []model.IdentifierField {
	var out []model.IdentifierField
	for _, field := range model.MatchableIdentifierFields {
		counts := make(map[string]int)
		for _, rec := range records {
			if v := rec.Identifiers.Get(field); v != "" {
				counts[v]++
			}
		}
		for _, n := range counts {
			if n >= 2 {
				out = append(out, field)
				break
			}
		}
	}
	return out
}

func distinctSourceCount(records []model.SourceRecord) int {
	seen := make(map[model.Source]struct{}, len(records))
	for _, rec := range records {
		seen[rec.Source] = struct{}{}
	}
	return len(seen)
}

// mostFrequentName returns the modal name; ties keep the first seen.
func mostFrequentName(records []model.SourceRecord) string {
	counts := make(map[string]int)
	var order []string
	for _, rec := range records {
		if counts[rec.Name] == 0 {
			order = append(order, rec.Name)
		}
		counts[rec.Name]++
	}
	best, bestCount := "", 0
	for _, name := range order {
		if counts[name] > bestCount {
			best, bestCount = name, counts[name]
		}
	}
	return best
}

// groupContext builds the free-text context handed to the LLM oracle.
func groupContext(records []model.SourceRecord) string {
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Name)
	}
	sort.Strings(names)
	return fmt.Sprintf("entity_type=%s; candidate_names=%s", records[0].Type, strings.Join(names, " | "))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
