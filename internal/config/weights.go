package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/troubadour-labs/attribution-cli/internal/credit"
	"github.com/troubadour-labs/attribution-cli/internal/model"
	"github.com/troubadour-labs/attribution-cli/internal/resolve"
	"github.com/troubadour-labs/attribution-cli/internal/review"
)

// Weights bundles every tunable weight table: per-source reliability,
// per-method signal weights, and review factor weights.
type Weights struct {
	Sources map[string]float64    `yaml:"sources"`
	Signals resolve.SignalWeights `yaml:"signals"`
	Review  review.FactorWeights  `yaml:"review"`
}

// DefaultWeights returns the built-in tables.
func DefaultWeights() Weights {
	sources := make(map[string]float64)
	for s, w := range credit.DefaultSourceWeights() {
		sources[string(s)] = w
	}
	return Weights{
		Sources: sources,
		Signals: resolve.DefaultSignalWeights(),
		Review:  review.DefaultFactorWeights(),
	}
}

// LoadWeights reads a weights YAML file, filling omitted sections with the
// defaults. The file has a top-level "weights" key.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read weights %s", path)
	}

	var wrapper struct {
		Weights Weights `yaml:"weights"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse weights")
	}

	w := wrapper.Weights
	defaults := DefaultWeights()
	if len(w.Sources) == 0 {
		w.Sources = defaults.Sources
	}
	if (w.Signals == resolve.SignalWeights{}) {
		w.Signals = defaults.Signals
	}
	if (w.Review == review.FactorWeights{}) {
		w.Review = defaults.Review
	}
	w.Review = w.Review.Normalize()

	return &w, nil
}

// SourceWeights converts the string-keyed source table to the typed one the
// credit aggregator consumes.
func (w Weights) SourceWeights() credit.SourceWeights {
	out := make(credit.SourceWeights, len(w.Sources))
	for s, weight := range w.Sources {
		out[model.Source(s)] = weight
	}
	return out
}
