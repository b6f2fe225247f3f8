package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/coordinator"
	"github.com/praxislabs/concord/internal/eval"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/streaming"
)

func newEvalCmd() *cobra.Command {
	var (
		corpusPath   string
		strategyName string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score the swarm against a labeled corpus",
		Long: "Runs every document in the corpus through the pipeline, grades the " +
			"reports against the expected outcomes and updates each agent's " +
			"tracked historical accuracy.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			corpus, err := eval.OpenCorpus(corpusPath)
			if err != nil {
				return err
			}
			defer corpus.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Tracked accuracies supersede the static roster values, so an
			// evaluated swarm votes with earned weights.
			for i := range cfg.Roster {
				acc, err := corpus.Accuracy(ctx, cfg.Roster[i].ID)
				if err != nil {
					return err
				}
				cfg.Roster[i].HistoricalAccuracy = acc
			}

			client := llm.NewHTTPClient(cfg.Backend.BaseURL, llm.Options{
				Timeout:    cfg.Backend.Timeout,
				MaxRetries: cfg.Backend.MaxRetries,
				APIKey:     cfg.Backend.APIKey,
			}, logger)
			coord := coordinator.New(cfg, client, streaming.NewManager(0), nil, logger)

			summary, err := eval.NewHarness(corpus, coord, strategyName, logger).Run(ctx)
			if err != nil {
				return err
			}

			logger.Info("Evaluation finished",
				zap.Int("documents", summary.Documents),
				zap.Int("failed", summary.Failed),
				zap.Float64("directional_accuracy", summary.DirectionalAccuracy),
				zap.Float64("calibration", summary.Calibration),
			)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&corpusPath, "corpus", "eval.db", "path to the SQLite evaluation corpus")
	cmd.Flags().StringVar(&strategyName, "strategy", "parallel", "execution strategy for evaluation runs")
	return cmd
}
