package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/review"
)

var reviewLimit int

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List attribution records ranked by review priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		limit := reviewLimit
		if limit == 0 {
			limit = cfg.Review.Limit
		}

		records, err := st.FindNeedsReview(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "load review queue")
		}

		weights, err := loadWeights()
		if err != nil {
			return err
		}

		queue := review.NewQueue(review.WithWeights(weights.Review))
		ranked := queue.NextForReview(records, limit)

		zap.L().Info("review queue ranked", zap.Int("records", len(ranked)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ranked)
	},
}

func init() {
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 0, "max records to list (default from config)")
	rootCmd.AddCommand(reviewCmd)
}
