package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// AssuranceLevel is the tiered trust classification for a resolution, from
// no data (Level0) to multi-source identity-verified (Level3). Levels are
// strictly ordered so records can be compared and demoted.
type AssuranceLevel int

const (
	AssuranceLevel0 AssuranceLevel = iota
	AssuranceLevel1
	AssuranceLevel2
	AssuranceLevel3
)

var assuranceNames = map[AssuranceLevel]string{
	AssuranceLevel0: "LEVEL_0",
	AssuranceLevel1: "LEVEL_1",
	AssuranceLevel2: "LEVEL_2",
	AssuranceLevel3: "LEVEL_3",
}

var assuranceByName = map[string]AssuranceLevel{
	"LEVEL_0": AssuranceLevel0,
	"LEVEL_1": AssuranceLevel1,
	"LEVEL_2": AssuranceLevel2,
	"LEVEL_3": AssuranceLevel3,
}

func (a AssuranceLevel) String() string {
	if s, ok := assuranceNames[a]; ok {
		return s
	}
	return "LEVEL_0"
}

// MarshalJSON encodes the level as its symbolic name.
func (a AssuranceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a symbolic level name, rejecting unknown values.
func (a *AssuranceLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "model: assurance level")
	}
	lvl, ok := assuranceByName[s]
	if !ok {
		return eris.Errorf("model: unknown assurance level %q", s)
	}
	*a = lvl
	return nil
}

// MinAssurance returns the lower of two levels (weakest link).
func MinAssurance(a, b AssuranceLevel) AssuranceLevel {
	if b < a {
		return b
	}
	return a
}

// ResolutionMethod names the dominant signal that produced a resolution.
type ResolutionMethod string

const (
	MethodExactIdentifier ResolutionMethod = "exact_identifier"
	MethodFuzzyString     ResolutionMethod = "fuzzy_string"
	MethodEmbedding       ResolutionMethod = "embedding"
	MethodSplink          ResolutionMethod = "splink"
	MethodGraph           ResolutionMethod = "graph"
	MethodLLM             ResolutionMethod = "llm"
	MethodUnverified      ResolutionMethod = "unverified"
)

// ConflictSeverity grades how serious a cross-source disagreement is.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// Conflict records a field whose value disagrees across the sources that were
// merged into one entity.
type Conflict struct {
	Field    string            `json:"field"`
	Values   map[string]string `json:"values"` // record key -> observed value
	Severity ConflictSeverity  `json:"severity"`
}

// SourceReference links a resolved entity back to one contributing record.
type SourceReference struct {
	RecordID       string  `json:"record_id"`
	Source         Source  `json:"source"`
	AgreementScore float64 `json:"agreement_score"`
}

// ResolutionDetails carries the per-method evidence behind a resolution.
// Nil score pointers mean the signal was never consulted.
type ResolutionDetails struct {
	MatchedIdentifiers []IdentifierField `json:"matched_identifiers,omitempty"`
	StringScore        *float64          `json:"string_score,omitempty"`
	EmbeddingScore     *float64          `json:"embedding_score,omitempty"`
	GraphScore         *float64          `json:"graph_score,omitempty"`
	SplinkScore        *float64          `json:"splink_score,omitempty"`
	LLMScore           *float64          `json:"llm_score,omitempty"`
}

// ResolvedEntity is the engine's verdict that a set of source records
// describe one real-world entity.
type ResolvedEntity struct {
	ID            string            `json:"id"`
	Type          EntityType        `json:"entity_type"`
	CanonicalName string            `json:"canonical_name"`
	Identifiers   IdentifierBundle  `json:"identifiers"`
	Sources       []SourceReference `json:"sources"`
	Method        ResolutionMethod  `json:"resolution_method"`
	Confidence    float64           `json:"resolution_confidence"`
	Details       ResolutionDetails `json:"resolution_details"`
	Assurance     AssuranceLevel    `json:"assurance_level"`
	Conflicts     []Conflict        `json:"conflicts,omitempty"`
	NeedsReview   bool              `json:"needs_review"`
	ReviewReason  string            `json:"review_reason,omitempty"`
	MergedFrom    []string          `json:"merged_from,omitempty"`
}

// DistinctSources counts how many different upstream sources contributed.
func (e ResolvedEntity) DistinctSources() int {
	seen := make(map[Source]struct{}, len(e.Sources))
	for _, ref := range e.Sources {
		seen[ref.Source] = struct{}{}
	}
	return len(seen)
}
