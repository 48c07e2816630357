package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/conformal"
	"github.com/troubadour-labs/attribution-cli/internal/credit"
	"github.com/troubadour-labs/attribution-cli/internal/model"
	"github.com/troubadour-labs/attribution-cli/internal/review"
)

var (
	attributeWorkID  string
	attributeCredits []string
)

var attributeCmd = &cobra.Command{
	Use:   "attribute",
	Short: "Compile an attribution record for a resolved work",
	Long:  "Loads the work and contributor entities from the store, aggregates reliability-weighted credits, computes the conformal prediction set and review priority, and appends the record (superseding any prior version).",
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

		work, err := st.FindEntity(ctx, attributeWorkID)
		if err != nil {
			return eris.Wrapf(err, "load work entity %s", attributeWorkID)
		}

		roles := make(map[string]credit.RoleAssignment, len(attributeCredits))
		var contributors []model.ResolvedEntity
		for _, spec := range attributeCredits {
			id, role, err := parseCreditFlag(spec)
			if err != nil {
				return err
			}
			entity, err := st.FindEntity(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "load contributor entity %s", id)
			}
			contributors = append(contributors, *entity)
			roles[id] = credit.RoleAssignment{Role: role}
		}

		weights, err := loadWeights()
		if err != nil {
			return err
		}

		aggregator := credit.NewAggregator(
			credit.WithSourceWeights(weights.SourceWeights()),
			credit.WithReviewThreshold(cfg.Resolve.ReviewThreshold),
			credit.WithCoverageLevel(cfg.Conformal.CoverageLevel),
		)
		record := aggregator.Aggregate(*work, contributors, roles)

		conformal.NewScorer().ScoreRecord(&record, cfg.Conformal.CoverageLevel)

		queue := review.NewQueue(review.WithWeights(weights.Review))
		record.ReviewPriority = queue.ComputePriority(record)

		if err := st.StoreAttribution(ctx, &record); err != nil {
			return eris.Wrap(err, "store attribution")
		}

		zap.L().Info("attribution stored",
			zap.String("work_entity_id", record.WorkEntityID),
			zap.Int("version", record.Version),
			zap.Float64("confidence", record.ConfidenceScore),
			zap.Float64("review_priority", record.ReviewPriority),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

// parseCreditFlag splits an "entity-id:role" pair.
func parseCreditFlag(spec string) (string, model.Role, error) {
	id, role, ok := strings.Cut(spec, ":")
	if !ok || id == "" || role == "" {
		return "", "", eris.Errorf("malformed credit %q, expected entity-id:role", spec)
	}
	return id, model.Role(role), nil
}

func init() {
	attributeCmd.Flags().StringVar(&attributeWorkID, "work", "", "resolved work entity id (required)")
	attributeCmd.Flags().StringArrayVar(&attributeCredits, "credit", nil, "contributor as entity-id:role (repeatable)")
	_ = attributeCmd.MarkFlagRequired("work")
	rootCmd.AddCommand(attributeCmd)
}
