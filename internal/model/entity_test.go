package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssuranceLevel_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "LEVEL_0", AssuranceLevel0.String())
	assert.Equal(t, "LEVEL_3", AssuranceLevel3.String())
	assert.Equal(t, "LEVEL_0", AssuranceLevel(42).String())
}

func TestAssuranceLevel_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	for _, lvl := range []AssuranceLevel{AssuranceLevel0, AssuranceLevel1, AssuranceLevel2, AssuranceLevel3} {
		data, err := json.Marshal(lvl)
		require.NoError(t, err)

		var decoded AssuranceLevel
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, lvl, decoded)
	}
}

func TestAssuranceLevel_MarshalSymbolic(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(AssuranceLevel2)
	require.NoError(t, err)
	assert.Equal(t, `"LEVEL_2"`, string(data))
}

func TestAssuranceLevel_UnmarshalRejectsUnknown(t *testing.T) {
	t.Parallel()

	var lvl AssuranceLevel
	err := json.Unmarshal([]byte(`"LEVEL_9"`), &lvl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown assurance level")

	err = json.Unmarshal([]byte(`2`), &lvl)
	require.Error(t, err)
}

func TestMinAssurance(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AssuranceLevel1, MinAssurance(AssuranceLevel3, AssuranceLevel1))
	assert.Equal(t, AssuranceLevel1, MinAssurance(AssuranceLevel1, AssuranceLevel3))
	assert.Equal(t, AssuranceLevel2, MinAssurance(AssuranceLevel2, AssuranceLevel2))
}

func TestResolvedEntity_DistinctSources(t *testing.T) {
	t.Parallel()

	e := ResolvedEntity{
		Sources: []SourceReference{
			{RecordID: "musicbrainz:a", Source: SourceMusicBrainz},
			{RecordID: "musicbrainz:b", Source: SourceMusicBrainz},
			{RecordID: "discogs:c", Source: SourceDiscogs},
		},
	}
	assert.Equal(t, 2, e.DistinctSources())
	assert.Zero(t, ResolvedEntity{}.DistinctSources())
}

func TestResolvedEntity_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	score := 0.91
	original := ResolvedEntity{
		ID:            "entity-1",
		Type:          EntityArtist,
		CanonicalName: "Nina Simone",
		Identifiers:   IdentifierBundle{ISNI: "0000000121174585"},
		Sources: []SourceReference{
			{RecordID: "musicbrainz:mb-1", Source: SourceMusicBrainz, AgreementScore: 1.0},
		},
		Method:     MethodExactIdentifier,
		Confidence: 0.95,
		Details:    ResolutionDetails{StringScore: &score},
		Assurance:  AssuranceLevel3,
		Conflicts: []Conflict{
			{Field: "canonical_name", Values: map[string]string{"discogs:d-1": "N. Simone"}, Severity: SeverityLow},
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ResolvedEntity
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Identifiers, decoded.Identifiers)
	assert.Equal(t, AssuranceLevel3, decoded.Assurance)
	assert.Equal(t, MethodExactIdentifier, decoded.Method)
	require.NotNil(t, decoded.Details.StringScore)
	assert.InDelta(t, 0.91, *decoded.Details.StringScore, 1e-9)
	require.Len(t, decoded.Conflicts, 1)
	assert.Equal(t, SeverityLow, decoded.Conflicts[0].Severity)
}
