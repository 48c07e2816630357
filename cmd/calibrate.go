package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/conformal"
)

var calibrateInput string

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure confidence calibration against labeled outcomes",
	Long:  "Reads probability/outcome pairs, bins them into a 10-cell reliability histogram and reports the Expected Calibration Error.",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(calibrateInput)
		if err != nil {
			return eris.Wrapf(err, "read calibration points %s", calibrateInput)
		}

		var points []conformal.CalibrationPoint
		if err := json.Unmarshal(data, &points); err != nil {
			return eris.Wrap(err, "parse calibration points")
		}

		report := conformal.NewScorer().Calibrate(points)

		zap.L().Info("calibration complete",
			zap.Int("points", report.Size),
			zap.Float64("ece", report.ECE),
			zap.Float64("accuracy", report.Accuracy),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateInput, "input", "", "path to calibration points JSON (required)")
	_ = calibrateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(calibrateCmd)
}
