package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itsAdnan16/jira-llm-pipeline/internal/metrics"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/transform"
)

func newTransformCommand() *cobra.Command {
	var (
		output   string
		inputDir string
		projects []string
	)

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Build the JSONL corpus from stored raw issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if inputDir != "" {
				cfg.RawDir = inputDir
				cfg.RawBackend = "fs"
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			records, err := newRecordStore(ctx, cfg, logger)
			if err != nil {
				return err
			}

			builder := transform.NewBuilder(records, nil, metrics.New(), logger)
			count, err := builder.Build(ctx, output, projects)
			if err != nil {
				return err
			}
			logger.Info("transform complete",
				zap.Int("entries", count),
				zap.String("output", output),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "data/corpus/jira_corpus.jsonl", "corpus output path")
	cmd.Flags().StringVar(&inputDir, "input-dir", "", "local raw record directory (overrides RAW_DIR/RAW_BACKEND)")
	cmd.Flags().StringSliceVar(&projects, "projects", nil, "restrict transform to these project keys")
	return cmd
}
