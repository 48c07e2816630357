// Package linkage defines the probabilistic record-linkage collaborator
// contract and the deterministic heuristic used when no linkage model is
// configured.
package linkage

import (
	"context"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// Pair identifies an unordered record pair by record keys.
type Pair struct {
	A string
	B string
}

// Linker is a pairwise match-probability oracle (e.g. a Fellegi-Sunter model
// such as Splink running out of process). Probabilities are in [0,1].
type Linker interface {
	MatchProbabilities(ctx context.Context, records []model.SourceRecord, columns []string) (map[Pair]float64, error)
}

// GroupScore collapses pairwise probabilities into one group-level signal by
// taking the mean over all pairs present in the map.
func GroupScore(probs map[Pair]float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	return sum / float64(len(probs))
}

// ExactMatchFraction is the fallback heuristic used when no Linker is
// available: the fraction of pairwise column comparisons that agree exactly.
// Columns absent on either side of a pair are skipped; a group with nothing
// comparable scores 0.
func ExactMatchFraction(records []model.SourceRecord, columns []string) float64 {
	if len(records) < 2 {
		return 0
	}

	var compared, agreed int
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			for _, col := range columns {
				a, aok := columnValue(records[i], col)
				b, bok := columnValue(records[j], col)
				if !aok || !bok {
					continue
				}
				compared++
				if a == b {
					agreed++
				}
			}
		}
	}
	if compared == 0 {
		return 0
	}
	return float64(agreed) / float64(compared)
}

// columnValue pulls a comparison column from a record: "name" is special-cased,
// everything else reads free-form metadata.
func columnValue(rec model.SourceRecord, column string) (string, bool) {
	if column == "name" {
		if rec.Name == "" {
			return "", false
		}
		return rec.Name, true
	}
	v, ok := rec.Metadata[column]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
