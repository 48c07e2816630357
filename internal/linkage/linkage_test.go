package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

func rec(source model.Source, id, name string, meta map[string]string) model.SourceRecord {
	return model.SourceRecord{
		Source:   source,
		SourceID: id,
		Type:     model.EntityWork,
		Name:     name,
		Metadata: meta,
	}
}

func TestGroupScore(t *testing.T) {
	probs := map[Pair]float64{
		{A: "a", B: "b"}: 0.9,
		{A: "a", B: "c"}: 0.7,
		{A: "b", B: "c"}: 0.8,
	}
	assert.InDelta(t, 0.8, GroupScore(probs), 1e-9)
}

func TestGroupScore_Empty(t *testing.T) {
	assert.Zero(t, GroupScore(nil))
	assert.Zero(t, GroupScore(map[Pair]float64{}))
}

func TestExactMatchFraction_AllAgree(t *testing.T) {
	records := []model.SourceRecord{
		rec(model.SourceMusicBrainz, "a", "Love Me Do", map[string]string{"artist": "The Beatles", "year": "1962"}),
		rec(model.SourceDiscogs, "b", "Love Me Do", map[string]string{"artist": "The Beatles", "year": "1962"}),
	}
	got := ExactMatchFraction(records, []string{"name", "artist", "year"})
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestExactMatchFraction_PartialAgreement(t *testing.T) {
	records := []model.SourceRecord{
		rec(model.SourceMusicBrainz, "a", "Love Me Do", map[string]string{"artist": "The Beatles"}),
		rec(model.SourceDiscogs, "b", "Love Me Do", map[string]string{"artist": "Beatles"}),
	}
	// name agrees, artist disagrees: 1 of 2 comparisons.
	got := ExactMatchFraction(records, []string{"name", "artist"})
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestExactMatchFraction_SkipsMissingColumns(t *testing.T) {
	records := []model.SourceRecord{
		rec(model.SourceMusicBrainz, "a", "Love Me Do", map[string]string{"year": "1962"}),
		rec(model.SourceFileMetadata, "b", "Love Me Do", nil),
	}
	// "year" absent on one side is skipped, leaving only the name comparison.
	got := ExactMatchFraction(records, []string{"name", "year", "album"})
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestExactMatchFraction_NothingComparable(t *testing.T) {
	records := []model.SourceRecord{
		rec(model.SourceMusicBrainz, "a", "", nil),
		rec(model.SourceDiscogs, "b", "", nil),
	}
	assert.Zero(t, ExactMatchFraction(records, []string{"name", "artist"}))
}

func TestExactMatchFraction_SingleRecord(t *testing.T) {
	records := []model.SourceRecord{
		rec(model.SourceMusicBrainz, "a", "Love Me Do", nil),
	}
	assert.Zero(t, ExactMatchFraction(records, []string{"name"}))
}

func TestExactMatchFraction_ThreeWay(t *testing.T) {
	records := []model.SourceRecord{
		rec(model.SourceMusicBrainz, "a", "Song", nil),
		rec(model.SourceDiscogs, "b", "Song", nil),
		rec(model.SourceFileMetadata, "c", "Other Song", nil),
	}
	// Pairs: a-b agree, a-c and b-c disagree.
	got := ExactMatchFraction(records, []string{"name"})
	assert.InDelta(t, 1.0/3.0, got, 1e-9)
}
