// Package conformal produces coverage-guaranteed prediction sets (Adaptive
// Prediction Sets) and measures calibration quality (Expected Calibration
// Error). Both operations are pure and deterministic.
package conformal

import (
	"math"
	"sort"

	"github.com/troubadour-labs/attribution-cli/internal/model"
)

// MethodAPS names the prediction-set construction used by Score.
const MethodAPS = "adaptive_prediction_sets"

// DefaultSetKey is the key Score files its prediction set under.
const DefaultSetKey = "credits"

// calibrationBins is the fixed histogram resolution for Calibrate.
const calibrationBins = 10

// Prediction is one labeled confidence from an upstream scorer.
type Prediction struct {
	Label      string
	Confidence float64
}

// Scorer computes conformal sets and calibration reports.
type Scorer struct{}

// NewScorer creates a conformal scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score builds an adaptive prediction set: labels are taken in descending
// confidence order until the cumulative confidence reaches the coverage
// target. If the target is unreachable every label is included. The returned
// set always satisfies CalibrationError == |MarginalCoverage - CoverageLevel|.
func (s *Scorer) Score(predictions []Prediction, coverage float64) model.ConformalSet {
	sorted := make([]Prediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var total float64
	for _, p := range sorted {
		total += p.Confidence
	}

	var cumulative float64
	var labels []string
	for _, p := range sorted {
		labels = append(labels, p.Label)
		cumulative += p.Confidence
		if cumulative >= coverage {
			break
		}
	}

	marginal := 0.0
	if total > 0 {
		marginal = math.Min(cumulative/total, 1.0)
	}

	set := model.ConformalSet{
		CoverageLevel:    coverage,
		MarginalCoverage: marginal,
		CalibrationError: math.Abs(marginal - coverage),
		Method:           MethodAPS,
		CalibrationSize:  len(predictions),
	}
	if len(labels) > 0 {
		set.Sets = map[string][]string{DefaultSetKey: labels}
	}
	return set
}

// ScoreRecord replaces a record's placeholder conformal set with one computed
// from its credits, using the credit role as the prediction label.
func (s *Scorer) ScoreRecord(record *model.AttributionRecord, coverage float64) {
	predictions := make([]Prediction, 0, len(record.Credits))
	for _, c := range record.Credits {
		predictions = append(predictions, Prediction{
			Label:      string(c.Role),
			Confidence: c.Confidence,
		})
	}
	record.Conformal = s.Score(predictions, coverage)
}

// CalibrationPoint pairs a stated probability with the observed outcome.
type CalibrationPoint struct {
	Probability float64
	Actual      bool
}

// Bin is one cell of the calibration histogram.
type Bin struct {
	Low            float64
	High           float64
	Count          int
	Accuracy       float64
	MeanConfidence float64
}

// CalibrationReport summarizes how well stated confidences track reality.
type CalibrationReport struct {
	ECE      float64
	Accuracy float64
	Bins     []Bin
	Size     int
}

// Calibrate bins predictions into a 10-cell histogram and computes the
// Expected Calibration Error: the count-weighted mean gap between each bin's
// accuracy and its mean stated confidence. Empirical accuracy doubles as the
// marginal coverage estimate.
func (s *Scorer) Calibrate(points []CalibrationPoint) CalibrationReport {
	report := CalibrationReport{Size: len(points)}
	if len(points) == 0 {
		return report
	}

	type acc struct {
		count   int
		correct int
		confSum float64
	}
	cells := make([]acc, calibrationBins)

	var totalCorrect int
	for _, p := range points {
		idx := int(p.Probability * calibrationBins)
		if idx >= calibrationBins {
			idx = calibrationBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		cells[idx].count++
		cells[idx].confSum += p.Probability
		if p.Actual {
			cells[idx].correct++
			totalCorrect++
		}
	}

	total := float64(len(points))
	report.Accuracy = float64(totalCorrect) / total

	for i, c := range cells {
		bin := Bin{
			Low:  float64(i) / calibrationBins,
			High: float64(i+1) / calibrationBins,
		}
		if c.count > 0 {
			bin.Count = c.count
			bin.Accuracy = float64(c.correct) / float64(c.count)
			bin.MeanConfidence = c.confSum / float64(c.count)
			report.ECE += (float64(c.count) / total) * math.Abs(bin.Accuracy-bin.MeanConfidence)
		}
		report.Bins = append(report.Bins, bin)
	}
	return report
}
