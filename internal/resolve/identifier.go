package resolve

import (
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// IdentifierMatcher groups source records that share any exact identifier
// (ISRC, ISWC, ISNI, MBID, AcoustID). Sharing is transitive: if A shares an
// ISRC with B and B shares an MBID with C, all three land in one group.
type IdentifierMatcher struct{}

// NewIdentifierMatcher creates an identifier matcher.
func NewIdentifierMatcher() *IdentifierMatcher {
	return &IdentifierMatcher{}
}

// IdentifierGroup is one union-find component with the evidence that formed it.
type IdentifierGroup struct {
	Records            []model.SourceRecord
	MatchedIdentifiers []model.IdentifierField
}

// Match partitions records into groups via an inverted index over the
// matchable identifier fields. Singleton groups pass through unchanged.
func (m *IdentifierMatcher) Match(records []model.SourceRecord) []IdentifierGroup {
	if len(records) == 0 {
		return nil
	}

	uf := newUnionFind(len(records))

	// Inverted index: field+value -> first record index carrying it.
	type indexKey struct {
		field model.IdentifierField
		value string
	}
	firstSeen := make(map[indexKey]int)
	matchedFields := make(map[int]map[model.IdentifierField]struct{}) // root-agnostic, per record

	for i, rec := range records {
		for _, field := range model.MatchableIdentifierFields {
			value := rec.Identifiers.Get(field)
			if value == "" {
				continue
			}
			key := indexKey{field: field, value: value}
			if j, ok := firstSeen[key]; ok {
				uf.union(i, j)
				for _, idx := range []int{i, j} {
					if matchedFields[idx] == nil {
						matchedFields[idx] = make(map[model.IdentifierField]struct{})
					}
					matchedFields[idx][field] = struct{}{}
				}
			} else {
				firstSeen[key] = i
			}
		}
	}

	var out []IdentifierGroup
	for _, members := range uf.groups() {
		group := IdentifierGroup{Records: make([]model.SourceRecord, 0, len(members))}
		fields := make(map[model.IdentifierField]struct{})
		for _, idx := range members {
			group.Records = append(group.Records, records[idx])
			for f := range matchedFields[idx] {
				fields[f] = struct{}{}
			}
		}
		// Report matched fields in priority order for determinism.
		for _, f := range model.MatchableIdentifierFields {
			if _, ok := fields[f]; ok {
				group.MatchedIdentifiers = append(group.MatchedIdentifiers, f)
			}
		}
		out = append(out, group)
	}

	zap.L().Debug("identifier match complete",
		zap.Int("records", len(records)),
		zap.Int("groups", len(out)),
	)
	return out
}

// Compile turns one identifier group into a ResolvedEntity. It picks the
// canonical name from the highest-confidence member, merges identifiers by
// field priority, and applies the assurance decision table.
func (m *IdentifierMatcher) Compile(group IdentifierGroup, entityID string) model.ResolvedEntity {
	if len(group.Records) == 0 {
		panic("resolve: identifier group compiled from zero records")
	}

	entity := model.ResolvedEntity{
		ID:            entityID,
		Type:          group.Records[0].Type,
		CanonicalName: canonicalByConfidence(group.Records),
		Identifiers:   mergeIdentifiers(group.Records),
		Method:        model.MethodExactIdentifier,
		Details: model.ResolutionDetails{
			MatchedIdentifiers: group.MatchedIdentifiers,
		},
	}

	for _, rec := range group.Records {
		entity.Sources = append(entity.Sources, model.SourceReference{
			RecordID:       rec.Key(),
			Source:         rec.Source,
			AgreementScore: rec.SourceConfidence,
		})
		entity.MergedFrom = append(entity.MergedFrom, rec.Key())
	}

	distinct := entity.DistinctSources()
	entity.Confidence = identifierConfidence(distinct, len(group.MatchedIdentifiers))
	entity.Assurance = AssuranceFor(group.Records, distinct, len(group.MatchedIdentifiers))

	if conflict := canonicalNameConflict(group.Records); conflict != nil {
		entity.Conflicts = append(entity.Conflicts, *conflict)
	}

	return entity
}

// identifierConfidence implements the fixed formula
// min(1.0, 0.7 + 0.1*sources + 0.05*matchedIdentifiers).
func identifierConfidence(distinctSources, matchedIdentifiers int) float64 {
	c := 0.7 + 0.1*float64(distinctSources) + 0.05*float64(matchedIdentifiers)
	if c > 1.0 {
		return 1.0
	}
	return c
}

// AssuranceFor applies the assurance decision table to a group of records.
// First matching row wins:
//
//	ISNI present and >1 distinct source  -> LEVEL_3
//	>1 distinct source and any match     -> LEVEL_2
//	any identifier present               -> LEVEL_1
//	otherwise                            -> LEVEL_0
func AssuranceFor(records []model.SourceRecord, distinctSources, matchedIdentifiers int) model.AssuranceLevel {
	hasISNI := false
	hasAnyIdentifier := false
	for _, rec := range records {
		if rec.Identifiers.ISNI != "" {
			hasISNI = true
		}
		if !rec.Identifiers.IsEmpty() {
			hasAnyIdentifier = true
		}
	}

	switch {
	case hasISNI && distinctSources > 1:
		return model.AssuranceLevel3
	case distinctSources > 1 && matchedIdentifiers > 0:
		return model.AssuranceLevel2
	case hasAnyIdentifier:
		return model.AssuranceLevel1
	default:
		return model.AssuranceLevel0
	}
}

// canonicalByConfidence returns the name of the highest source-confidence
// member; ties keep the first seen.
func canonicalByConfidence(records []model.SourceRecord) string {
	best := records[0]
	for _, rec := range records[1:] {
		if rec.SourceConfidence > best.SourceConfidence {
			best = rec
		}
	}
	return best.Name
}

// mergeIdentifiers takes the first non-empty value per field in priority
// order, walking records in input order.
func mergeIdentifiers(records []model.SourceRecord) model.IdentifierBundle {
	var merged model.IdentifierBundle
	fields := append([]model.IdentifierField{}, model.MatchableIdentifierFields...)
	fields = append(fields, model.FieldDiscogsID)
	for _, field := range fields {
		for _, rec := range records {
			if v := rec.Identifiers.Get(field); v != "" {
				merged.Set(field, v)
				break
			}
		}
	}
	return merged
}

// canonicalNameConflict reports a LOW-severity conflict when the group holds
// more than one distinct canonical name.
func canonicalNameConflict(records []model.SourceRecord) *model.Conflict {
	values := make(map[string]string, len(records))
	distinct := make(map[string]struct{})
	for _, rec := range records {
		values[rec.Key()] = rec.Name
		distinct[rec.Name] = struct{}{}
	}
	if len(distinct) <= 1 {
		return nil
	}
	return &model.Conflict{
		Field:    "canonical_name",
		Values:   values,
		Severity: model.SeverityLow,
	}
}
