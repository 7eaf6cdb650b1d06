package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itsAdnan16/jira-llm-pipeline/internal/checkpoint"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/jira"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/metrics"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/store"
	"github.com/itsAdnan16/jira-llm-pipeline/pkg/types"
)

// Options configures one ingestion run.
type Options struct {
	Projects []string
	// StartDate is an explicit lower bound on issue update time; it is
	// combined with each project's checkpoint watermark, whichever is later.
	StartDate time.Time
	// MaxIssues caps how many search hits are walked per project; zero
	// means unlimited.
	MaxIssues int
	// Strict aborts a project on the first validation error instead of
	// skipping the issue.
	Strict bool
}

// Orchestrator drives per-project pagination, consults the checkpoint
// store for resume and dedup, and writes validated raw records to durable
// storage. A single orchestrator owns both stores for the duration of a
// run; running two against the same storage is not supported.
type Orchestrator struct {
	client      *jira.Client
	checkpoints *checkpoint.Store
	records     store.Store
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewOrchestrator creates an ingestion orchestrator.
func NewOrchestrator(
	client *jira.Client,
	checkpoints *checkpoint.Store,
	records store.Store,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		client:      client,
		checkpoints: checkpoints,
		records:     records,
		metrics:     m,
		logger:      logger,
	}
}

// Run ingests every project in opts sequentially. A project that fails is
// logged and does not stop the remaining projects; the first error is
// returned once all projects have been attempted.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	logger := o.logger.With(zap.String("run_id", uuid.NewString()))

	var firstErr error
	for _, project := range opts.Projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runProject(ctx, project, opts, logger); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error("project ingestion failed",
				zap.String("project", project),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (o *Orchestrator) runProject(ctx context.Context, project string, opts Options, logger *zap.Logger) error {
	cp := o.checkpoints.Load(project)

	since := cp.LastUpdate
	if opts.StartDate.After(since) {
		since = opts.StartDate
	}

	logger.Info("starting project ingestion",
		zap.String("project", project),
		zap.Time("updated_since", since),
		zap.Int("already_processed", len(cp.Processed)),
	)

	var (
		startAt    int
		seen       int
		stored     int
		maxUpdated time.Time
		dirty      bool
	)

	for {
		page, err := o.client.SearchPage(ctx, project, since, startAt)
		if err != nil {
			o.metrics.APIRequests.WithLabelValues(project, "error").Inc()
			return fmt.Errorf("search page at offset %d: %w", startAt, err)
		}
		o.metrics.APIRequests.WithLabelValues(project, "ok").Inc()

		for _, key := range page.Keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			seen++
			if opts.MaxIssues > 0 && seen > opts.MaxIssues {
				break
			}

			if o.checkpoints.IsProcessed(project, key) {
				continue
			}

			updated, err := o.ingestIssue(ctx, project, key, logger)
			if err != nil {
				var verr *types.ValidationError
				if errors.As(err, &verr) {
					o.metrics.ValidationErrors.WithLabelValues(project).Inc()
					if opts.Strict {
						return fmt.Errorf("strict mode: %w", err)
					}
					logger.Warn("skipping invalid issue",
						zap.String("issue", key),
						zap.Error(err),
					)
					continue
				}
				var serr *storageError
				if errors.As(err, &serr) {
					return err
				}
				// Fetch error for one issue: skip it, continue the project.
				logger.Warn("skipping issue after fetch failure",
					zap.String("issue", key),
					zap.Error(err),
				)
				continue
			}

			o.checkpoints.MarkProcessed(project, key)
			if updated.After(maxUpdated) {
				maxUpdated = updated
			}
			stored++
			dirty = true
			o.metrics.IssuesScraped.WithLabelValues(project).Inc()
		}

		// Checkpoint after every page so a crash re-does at most one page.
		if dirty {
			o.checkpoints.AdvanceWatermark(project, maxUpdated)
			if err := o.checkpoints.Flush(project); err != nil {
				return fmt.Errorf("flush checkpoint: %w", err)
			}
			dirty = false
		}

		if opts.MaxIssues > 0 && seen >= opts.MaxIssues {
			logger.Info("reached max issue limit",
				zap.String("project", project),
				zap.Int("max_issues", opts.MaxIssues),
			)
			break
		}

		startAt += len(page.Keys)
		if len(page.Keys) == 0 || startAt >= page.Total {
			break
		}
	}

	logger.Info("finished project ingestion",
		zap.String("project", project),
		zap.Int("seen", seen),
		zap.Int("stored", stored),
	)
	return nil
}

// ingestIssue fetches, validates and durably stores one issue, returning
// its update timestamp.
func (o *Orchestrator) ingestIssue(ctx context.Context, project, key string, logger *zap.Logger) (time.Time, error) {
	issue, err := o.client.GetIssue(ctx, key)
	if err != nil {
		return time.Time{}, err
	}

	data, err := json.MarshalIndent(issue, "", "  ")
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal issue %s: %w", key, err)
	}

	if err := o.records.Put(ctx, project, key, data); err != nil {
		logger.Warn("raw store write failed, retrying once",
			zap.String("issue", key),
			zap.Error(err),
		)
		if err := o.records.Put(ctx, project, key, data); err != nil {
			return time.Time{}, &storageError{key: key, err: err}
		}
	}

	logger.Debug("stored issue", zap.String("issue", key))
	return issue.Updated, nil
}

// storageError aborts the current project after the single write retry.
type storageError struct {
	key string
	err error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("storage failure for %s: %v", e.key, e.err)
}

func (e *storageError) Unwrap() error { return e.err }
