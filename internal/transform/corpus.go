package transform

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/itsAdnan16/jira-llm-pipeline/internal/metrics"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/store"
	"github.com/itsAdnan16/jira-llm-pipeline/pkg/types"
)

// Builder reads the raw record store and writes newline-delimited corpus
// entries. It never mutates checkpoint or raw storage state.
type Builder struct {
	records   store.Store
	inferType TypeInferrer
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewBuilder creates a corpus builder. A nil inferType falls back to the
// keyword rule.
func NewBuilder(records store.Store, inferType TypeInferrer, m *metrics.Metrics, logger *zap.Logger) *Builder {
	if inferType == nil {
		inferType = InferTypeByKeywords
	}
	return &Builder{
		records:   records,
		inferType: inferType,
		metrics:   m,
		logger:    logger,
	}
}

// Build transforms every stored raw issue (optionally filtered to
// projects) into one corpus entry per line at outputPath. It returns the
// number of entries written, which always equals the number of emitted
// lines. Raw records that fail to parse are logged and skipped.
func (b *Builder) Build(ctx context.Context, outputPath string, projects []string) (int, error) {
	refs, err := b.records.List(ctx, projects)
	if err != nil {
		return 0, err
	}
	b.logger.Info("building corpus",
		zap.Int("raw_records", len(refs)),
		zap.String("output", outputPath),
	)

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create corpus output %s: %w", outputPath, err)
	}
	defer out.Close()
	writer := bufio.NewWriter(out)

	count := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		data, err := b.records.Get(ctx, ref.Project, ref.Key)
		if err != nil {
			b.logger.Warn("skipping unreadable raw record",
				zap.String("issue", ref.Key),
				zap.Error(err),
			)
			continue
		}

		var issue types.Issue
		if err := json.Unmarshal(data, &issue); err != nil {
			b.logger.Warn("skipping unparseable raw record",
				zap.String("issue", ref.Key),
				zap.Error(err),
			)
			continue
		}

		line, err := json.Marshal(b.BuildEntry(&issue))
		if err != nil {
			b.logger.Warn("skipping unserializable entry",
				zap.String("issue", ref.Key),
				zap.Error(err),
			)
			continue
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return count, fmt.Errorf("write corpus entry %s: %w", ref.Key, err)
		}
		count++
		b.metrics.CorpusEntries.Inc()
	}

	if err := writer.Flush(); err != nil {
		return count, fmt.Errorf("flush corpus output: %w", err)
	}

	b.logger.Info("corpus built", zap.Int("entries", count))
	return count, nil
}

// BuildEntry normalizes one issue into a corpus entry with its derived
// sub-tasks. A null description becomes an empty string, never a dropped
// entry.
func (b *Builder) BuildEntry(issue *types.Issue) types.CorpusEntry {
	comments := make([]types.CorpusComment, 0, len(issue.Comments))
	for _, c := range issue.Comments {
		comments = append(comments, types.CorpusComment{
			Author:  c.Author,
			Body:    CleanText(c.Body),
			Created: formatTime(c.Created),
		})
	}

	return types.CorpusEntry{
		Metadata: types.Metadata{
			IssueKey:   issue.Key,
			Project:    issue.Project,
			Title:      issue.Title,
			Status:     issue.Status,
			Priority:   issue.Priority,
			Reporter:   issue.Reporter,
			Assignee:   issue.Assignee,
			Resolution: issue.Resolution,
			Created:    formatTime(issue.Created),
			Updated:    formatTime(issue.Updated),
		},
		Description: CleanText(issue.Description),
		Comments:    comments,
		Tasks: types.Tasks{
			Summarization:  buildSummarization(issue),
			Classification: buildClassification(issue, b.inferType),
			QA:             buildQA(issue),
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
