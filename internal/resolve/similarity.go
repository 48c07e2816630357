package resolve

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/xrash/smetrics"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// abbreviations maps tokens that sources spell inconsistently to one
// canonical expansion. Applied after lowercasing, token by token.
var abbreviations = map[string]string{
	"feat.": "featuring",
	"feat":  "featuring",
	"ft.":   "featuring",
	"vs.":   "versus",
	"vs":    "versus",
	"w/":    "with",
	"pt.":   "part",
	"no.":   "number",
}

// stripDiacritics decomposes to NFD, drops combining marks, recomposes.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StringSimilarityMatcher scores fuzzy name matches over normalized forms.
type StringSimilarityMatcher struct {
	Threshold float64
}

// NewStringSimilarityMatcher creates a matcher with the given score threshold.
func NewStringSimilarityMatcher(threshold float64) *StringSimilarityMatcher {
	return &StringSimilarityMatcher{Threshold: threshold}
}

// Normalize canonicalizes a name for comparison: strip diacritics, lowercase,
// rotate a trailing ", The" to the front, expand abbreviations, collapse
// whitespace. Normalize is idempotent.
func Normalize(name string) string {
	s, _, err := transform.String(stripDiacritics, name)
	if err != nil {
		// Transform failure means malformed input; fall back to the raw name.
		s = name
	}
	s = strings.ToLower(strings.TrimSpace(s))

	// "Beatles, The" -> "The Beatles".
	if trimmed, ok := strings.CutSuffix(s, ", the"); ok {
		s = "the " + trimmed
	}

	tokens := strings.Fields(s)
	for i, tok := range tokens {
		if expanded, ok := abbreviations[tok]; ok {
			tokens[i] = expanded
		}
	}
	return strings.Join(tokens, " ")
}

// Score returns a similarity in [0,1] between two names. Equal normalized
// forms are an exact 1.0; otherwise the better of Jaro-Winkler and
// token-sort-ratio wins.
func (m *StringSimilarityMatcher) Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	jw := smetrics.JaroWinkler(na, nb, 0.1, 4)
	ts := tokenSortRatio(na, nb)
	if ts > jw {
		return ts
	}
	return jw
}

// tokenSortRatio sorts tokens alphabetically on both sides before taking a
// Levenshtein similarity ratio, so word order never penalizes a match.
func tokenSortRatio(a, b string) float64 {
	return levenshtein.Similarity(sortTokens(a), sortTokens(b), nil)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Candidate is one corpus entry scored against a query name.
type Candidate struct {
	Name  string
	Score float64
}

// FindCandidates returns corpus entries scoring at or above threshold,
// sorted by descending score with corpus order breaking ties.
func (m *StringSimilarityMatcher) FindCandidates(name string, corpus []string, threshold float64) []Candidate {
	var out []Candidate
	for _, entry := range corpus {
		if score := m.Score(name, entry); score >= threshold {
			out = append(out, Candidate{Name: entry, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
