package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itsAdnan16/jira-llm-pipeline/internal/checkpoint"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/config"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/fetch"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/jira"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/metrics"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/scraper"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/store"
)

func newScrapeCommand() *cobra.Command {
	var (
		projects  []string
		startDate string
		maxIssues int
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch issues from Jira into the raw record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if len(projects) > 0 {
				cfg.Projects = projects
			}

			var since time.Time
			if startDate != "" {
				since, err = time.Parse("2006-01-02", startDate)
				if err != nil {
					return fmt.Errorf("invalid --start-date %q, want YYYY-MM-DD: %w", startDate, err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runScrape(ctx, cfg, logger, scraper.Options{
				Projects:  cfg.Projects,
				StartDate: since,
				MaxIssues: maxIssues,
				Strict:    cfg.StrictValidation,
			})
		},
	}

	cmd.Flags().StringSliceVar(&projects, "projects", nil, "project keys to scrape (default from JIRA_PROJECTS)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "lower bound on issue update date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&maxIssues, "max-issues", 0, "maximum issues to walk per project (0 = unlimited)")
	return cmd
}

func runScrape(ctx context.Context, cfg config.Config, logger *zap.Logger, opts scraper.Options) error {
	m := metrics.New()
	if cfg.MetricsEnabled {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	fetcher := fetch.NewFetcher(cfg.Fetch, logger)
	client, err := jira.NewClient(cfg.JiraBaseURL, fetcher, cfg.PageSize, logger)
	if err != nil {
		return err
	}

	checkpoints, err := checkpoint.NewStore(cfg.StateDir, logger)
	if err != nil {
		return err
	}

	records, err := newRecordStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	orchestrator := scraper.NewOrchestrator(client, checkpoints, records, m, logger)
	runErr := orchestrator.Run(ctx, opts)

	// Persist whatever progress was made even on failure paths.
	if err := checkpoints.FlushAll(); err != nil {
		logger.Error("final checkpoint flush failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func newRecordStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.RawBackend == "s3" {
		return store.NewS3Store(ctx, cfg.S3, logger)
	}
	return store.NewFSStore(cfg.RawDir, logger)
}
