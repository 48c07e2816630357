package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troubadour-labs/attribution-cli/internal/disambig"
	"github.com/troubadour-labs/attribution-cli/internal/embedding"
	"github.com/troubadour-labs/attribution-cli/internal/linkage"
	"github.com/troubadour-labs/attribution-cli/internal/model"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("entity-%d", n)
	}
}

func newTestOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(append([]OrchestratorOption{WithIDGenerator(sequentialIDs())}, opts...)...)
}

func TestResolve_EmptyBatch(t *testing.T) {
	entities, err := newTestOrchestrator().Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, entities)
}

func TestResolve_CascadeTiers(t *testing.T) {
	records := []model.SourceRecord{
		// Tier 1: shared ISRC.
		record(model.SourceMusicBrainz, "mb-1", "Love Me Do", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "GBAYE0601690"
		}),
		record(model.SourceDiscogs, "dg-1", "Love Me Do", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "GBAYE0601690"
		}),
		// Tier 2: no identifiers, names that normalize equal.
		record(model.SourceFileMetadata, "f-1", "Beatles, The", nil),
		record(model.SourceAcoustID, "ac-1", "The Beatles", nil),
		// Tier 3: unrelated singleton.
		record(model.SourceFileMetadata, "f-2", "Bohemian Rhapsody", nil),
	}

	entities, err := newTestOrchestrator().Resolve(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, entities, 3)

	byName := make(map[string]model.ResolvedEntity, len(entities))
	for _, e := range entities {
		byName[e.CanonicalName] = e
	}

	tier1 := byName["Love Me Do"]
	assert.Equal(t, model.MethodExactIdentifier, tier1.Method)
	assert.Len(t, tier1.Sources, 2)

	tier2 := byName["Beatles, The"]
	assert.Equal(t, model.MethodFuzzyString, tier2.Method)
	assert.Len(t, tier2.Sources, 2)

	tier3 := byName["Bohemian Rhapsody"]
	assert.Equal(t, model.MethodUnverified, tier3.Method)
	assert.Len(t, tier3.Sources, 1)
}

func TestResolve_Disjoint(t *testing.T) {
	records := []model.SourceRecord{
		record(model.SourceMusicBrainz, "mb-1", "Song A", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
		record(model.SourceDiscogs, "dg-1", "Song A", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
		record(model.SourceFileMetadata, "f-1", "Song B", nil),
	}

	entities, err := newTestOrchestrator().Resolve(context.Background(), records)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, e := range entities {
		for _, ref := range e.Sources {
			seen[ref.RecordID]++
		}
	}
	assert.Len(t, seen, 3)
	for key, n := range seen {
		assert.Equal(t, 1, n, "record %s resolved more than once", key)
	}
}

func TestResolve_NoFalseMerge(t *testing.T) {
	// No shared identifier, names below threshold: never merged.
	records := []model.SourceRecord{
		record(model.SourceMusicBrainz, "mb-1", "Love Me Do", nil),
		record(model.SourceDiscogs, "dg-1", "Bohemian Rhapsody", nil),
	}

	entities, err := newTestOrchestrator().Resolve(context.Background(), records)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}

func TestResolveGroup_ZeroRecordsPanics(t *testing.T) {
	assert.Panics(t, func() {
		newTestOrchestrator().ResolveGroup(context.Background(), nil)
	})
}

func TestResolveGroup_Singleton(t *testing.T) {
	entity := newTestOrchestrator().ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceFileMetadata, "f-1", "Lone Track", nil),
	})

	assert.InDelta(t, singletonConfidence, entity.Confidence, 1e-9)
	assert.Equal(t, model.MethodUnverified, entity.Method)
	assert.Equal(t, model.AssuranceLevel0, entity.Assurance)
	assert.False(t, entity.NeedsReview)
}

func TestResolveGroup_ConfidenceInRange(t *testing.T) {
	groups := [][]model.SourceRecord{
		{record(model.SourceFileMetadata, "a", "X", nil)},
		{
			record(model.SourceMusicBrainz, "a", "Same Song", func(r *model.SourceRecord) {
				r.Identifiers.ISRC = "USEE10001993"
			}),
			record(model.SourceDiscogs, "b", "Same Song", func(r *model.SourceRecord) {
				r.Identifiers.ISRC = "USEE10001993"
			}),
		},
		{
			record(model.SourceFileMetadata, "a", "Nearly The Same", nil),
			record(model.SourceAcoustID, "b", "Nearly the Same", nil),
		},
	}
	o := newTestOrchestrator()
	for _, g := range groups {
		entity := o.ResolveGroup(context.Background(), g)
		assert.GreaterOrEqual(t, entity.Confidence, 0.0)
		assert.LessOrEqual(t, entity.Confidence, 1.0)
	}
}

func TestResolveGroup_MostFrequentName(t *testing.T) {
	entity := newTestOrchestrator().ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "Feeling Good", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
		record(model.SourceDiscogs, "b", "Feelin Good", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
		record(model.SourceAcoustID, "c", "Feeling Good", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
	})
	assert.Equal(t, "Feeling Good", entity.CanonicalName)
}

func TestResolveGroup_NeedsReviewReason(t *testing.T) {
	// Two records with dissimilar names and no identifiers resolve with low
	// confidence and must carry a reason.
	o := newTestOrchestrator(WithReviewThreshold(0.99))
	entity := o.ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceFileMetadata, "a", "Love Me Do", nil),
		record(model.SourceAcoustID, "b", "Love Me Do!", nil),
	})
	require.True(t, entity.NeedsReview)
	assert.NotEmpty(t, entity.ReviewReason)
	assert.Contains(t, entity.ReviewReason, "below threshold")
}

// failingLinker always errors, forcing the exact-match fallback.
type failingLinker struct{}

func (failingLinker) MatchProbabilities(ctx context.Context, records []model.SourceRecord, columns []string) (map[linkage.Pair]float64, error) {
	return nil, eris.New("linkage service down")
}

// fixedLinker returns the same probability for every pair.
type fixedLinker struct{ p float64 }

func (l fixedLinker) MatchProbabilities(ctx context.Context, records []model.SourceRecord, columns []string) (map[linkage.Pair]float64, error) {
	out := make(map[linkage.Pair]float64)
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			out[linkage.Pair{A: records[i].Key(), B: records[j].Key()}] = l.p
		}
	}
	return out, nil
}

func TestResolveGroup_LinkerSignal(t *testing.T) {
	o := newTestOrchestrator(WithLinker(fixedLinker{p: 0.92}))
	entity := o.ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "Same Song", nil),
		record(model.SourceDiscogs, "b", "Same Song", nil),
	})
	require.NotNil(t, entity.Details.SplinkScore)
	assert.InDelta(t, 0.92, *entity.Details.SplinkScore, 1e-9)
}

func TestResolveGroup_LinkerFallback(t *testing.T) {
	// The failing linker degrades to the exact-match-fraction heuristic
	// instead of failing the group.
	o := newTestOrchestrator(WithLinker(failingLinker{}))
	entity := o.ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "Same Song", nil),
		record(model.SourceDiscogs, "b", "Same Song", nil),
	})
	require.NotNil(t, entity.Details.SplinkScore)
	assert.GreaterOrEqual(t, *entity.Details.SplinkScore, 0.0)
	assert.LessOrEqual(t, *entity.Details.SplinkScore, 1.0)
}

// failingEmbedder errors on every call.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, eris.New("embedding service down")
}

func TestResolveGroup_EmbeddingSignal(t *testing.T) {
	o := newTestOrchestrator(WithEmbedder(embedding.NewMockProvider()))
	entity := o.ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "Same Song", nil),
		record(model.SourceDiscogs, "b", "Same Song", nil),
	})
	require.NotNil(t, entity.Details.EmbeddingScore)
	// Identical names embed identically.
	assert.InDelta(t, 1.0, *entity.Details.EmbeddingScore, 1e-6)
}

func TestResolveGroup_EmbedderFailureSkipsSignal(t *testing.T) {
	o := newTestOrchestrator(WithEmbedder(failingEmbedder{}))
	entity := o.ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "Same Song", nil),
		record(model.SourceDiscogs, "b", "Same Song", nil),
	})
	assert.Nil(t, entity.Details.EmbeddingScore)
}

// pickFirstOracle always chooses candidate 0 with the given confidence.
type pickFirstOracle struct {
	confidence float64
	calls      int
}

func (o *pickFirstOracle) Disambiguate(ctx context.Context, candidates []model.SourceRecord, contextText string) (disambig.Decision, error) {
	o.calls++
	zero := 0
	return disambig.Decision{ChosenIndex: &zero, Confidence: o.confidence, Reasoning: "same entity"}, nil
}

func TestResolveGroup_LLMInvokedInAmbiguityBand(t *testing.T) {
	oracle := &pickFirstOracle{confidence: 0.8}
	o := newTestOrchestrator(WithDisambiguator(disambig.New(oracle)))

	// Names similar enough to land the string score inside [0.4, 0.7].
	entity := o.ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "Gymnopedie No. 1", nil),
		record(model.SourceFileMetadata, "b", "Trois Gymnopedies", nil),
	})

	if entity.Details.StringScore != nil &&
		*entity.Details.StringScore >= 0.4 && *entity.Details.StringScore <= 0.7 {
		assert.Equal(t, 1, oracle.calls)
		require.NotNil(t, entity.Details.LLMScore)
		assert.InDelta(t, 0.8, *entity.Details.LLMScore, 1e-9)
	}
}

func TestResolveGroup_LLMSkippedWhenConclusive(t *testing.T) {
	oracle := &pickFirstOracle{confidence: 0.8}
	o := newTestOrchestrator(WithDisambiguator(disambig.New(oracle)))

	// Exact normalized match scores 1.0, far above the ambiguity band.
	entity := o.ResolveGroup(context.Background(), []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "The Beatles", nil),
		record(model.SourceDiscogs, "b", "Beatles, The", nil),
	})
	assert.Zero(t, oracle.calls)
	assert.Nil(t, entity.Details.LLMScore)
}

func TestCombineSignals_WeightedAverage(t *testing.T) {
	o := newTestOrchestrator()
	records := []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "X", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
		record(model.SourceDiscogs, "b", "X", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
	}

	str := 0.9
	details := model.ResolutionDetails{
		MatchedIdentifiers: []model.IdentifierField{model.FieldISRC},
		StringScore:        &str,
	}

	// identifier signal: 0.7 + 0.1*2 + 0.05*1 = 0.95 at weight 1.0
	// string signal: 0.9 at weight 0.6
	want := (0.95*1.0 + 0.9*0.6) / 1.6
	assert.InDelta(t, want, o.combineSignals(details, records), 1e-9)
}

func TestCombineSignals_NoSignalsDefaults(t *testing.T) {
	o := newTestOrchestrator()
	got := o.combineSignals(model.ResolutionDetails{}, []model.SourceRecord{
		record(model.SourceFileMetadata, "a", "X", nil),
	})
	assert.InDelta(t, singletonConfidence, got, 1e-9)
}

func TestDominantMethod_Priority(t *testing.T) {
	high := 0.9
	mid := 0.75

	assert.Equal(t, model.MethodExactIdentifier, dominantMethod(model.ResolutionDetails{
		MatchedIdentifiers: []model.IdentifierField{model.FieldISRC},
		StringScore:        &high,
	}, DefaultStringThreshold, DefaultEmbeddingThreshold))

	assert.Equal(t, model.MethodFuzzyString, dominantMethod(model.ResolutionDetails{
		StringScore: &high,
	}, DefaultStringThreshold, DefaultEmbeddingThreshold))

	assert.Equal(t, model.MethodEmbedding, dominantMethod(model.ResolutionDetails{
		EmbeddingScore: &mid,
	}, DefaultStringThreshold, DefaultEmbeddingThreshold))

	assert.Equal(t, model.MethodUnverified, dominantMethod(model.ResolutionDetails{},
		DefaultStringThreshold, DefaultEmbeddingThreshold))
}

func TestSharedIdentifierFields(t *testing.T) {
	records := []model.SourceRecord{
		record(model.SourceMusicBrainz, "a", "X", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
			r.Identifiers.MBID = "only-here"
		}),
		record(model.SourceDiscogs, "b", "X", func(r *model.SourceRecord) {
			r.Identifiers.ISRC = "USEE10001993"
		}),
	}
	assert.Equal(t, []model.IdentifierField{model.FieldISRC}, sharedIdentifierFields(records))
}

func TestDefaultSignalWeights(t *testing.T) {
	w := DefaultSignalWeights()
	assert.Equal(t, 1.0, w.Identifier)
	assert.Equal(t, 0.8, w.Splink)
	assert.Equal(t, 0.6, w.String)
	assert.Equal(t, 0.7, w.Embedding)
	assert.Equal(t, 0.75, w.Graph)
	assert.Equal(t, 0.85, w.LLM)
}
