package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/config"
	"github.com/troubadour-labs/attribution-cli/internal/cost"
	"github.com/troubadour-labs/attribution-cli/internal/disambig"
	"github.com/troubadour-labs/attribution-cli/internal/embedding"
	"github.com/troubadour-labs/attribution-cli/internal/model"
	"github.com/troubadour-labs/attribution-cli/internal/resilience"
	"github.com/troubadour-labs/attribution-cli/internal/resolve"
	anthropicpkg "github.com/troubadour-labs/attribution-cli/pkg/anthropic"
)

var (
	resolveInput   string
	resolveNoStore bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve source records into canonical entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, err := loadRecords(resolveInput)
		if err != nil {
			return err
		}

		weights, err := loadWeights()
		if err != nil {
			return err
		}

		orch := buildOrchestrator(ctx, weights)

		entities, err := orch.Resolve(ctx, records)
		if err != nil {
			return eris.Wrap(err, "resolve batch")
		}

		needsReview := 0
		for _, e := range entities {
			if e.NeedsReview {
				needsReview++
			}
		}
		zap.L().Info("resolution complete",
			zap.Int("records", len(records)),
			zap.Int("entities", len(entities)),
			zap.Int("needs_review", needsReview),
		)

		if !resolveNoStore {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
			if err := st.StoreEntities(ctx, entities); err != nil {
				return eris.Wrap(err, "store entities")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entities)
	},
}

func loadRecords(path string) ([]model.SourceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read records %s", path)
	}
	var records []model.SourceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrap(err, "parse records")
	}
	return records, nil
}

func loadWeights() (*config.Weights, error) {
	if cfg.Resolve.WeightsFile == "" {
		w := config.DefaultWeights()
		return &w, nil
	}
	return config.LoadWeights(cfg.Resolve.WeightsFile)
}

func buildOrchestrator(ctx context.Context, weights *config.Weights) *resolve.Orchestrator {
	opts := []resolve.OrchestratorOption{
		resolve.WithSignalWeights(weights.Signals),
		resolve.WithStringThreshold(cfg.Resolve.StringThreshold),
		resolve.WithReviewThreshold(cfg.Resolve.ReviewThreshold),
		resolve.WithConcurrency(cfg.Resolve.Concurrency),
		resolve.WithEmbedder(embedding.NewMockProvider()),
	}

	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewRateLimited(
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			float64(cfg.Anthropic.RequestsPerMin)/60.0,
			1,
		)
		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.OnRetry = resilience.RetryLogger("anthropic", "disambiguate")
		arbiter := disambig.NewArbiter(client, cfg.Anthropic.Model,
			disambig.WithRetry(retryCfg),
			disambig.WithBreaker(resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())),
			disambig.WithBudget(cost.NewTracker(nil, cfg.Anthropic.BudgetUSD)),
		)
		arbiter.Warm(ctx)

		opts = append(opts, resolve.WithDisambiguator(disambig.New(arbiter,
			disambig.WithBand(disambig.AmbiguityBand{
				Low:  cfg.Resolve.AmbiguityLow,
				High: cfg.Resolve.AmbiguityHigh,
			}),
			disambig.WithTimeout(time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second),
		)))
	}

	return resolve.NewOrchestrator(opts...)
}

func init() {
	resolveCmd.Flags().StringVar(&resolveInput, "input", "", "path to source records JSON (required)")
	resolveCmd.Flags().BoolVar(&resolveNoStore, "no-store", false, "skip persisting resolved entities")
	_ = resolveCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(resolveCmd)
}
