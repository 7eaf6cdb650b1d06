package transform

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/itsAdnan16/jira-llm-pipeline/internal/metrics"
	"github.com/itsAdnan16/jira-llm-pipeline/internal/store"
	"github.com/itsAdnan16/jira-llm-pipeline/pkg/types"
)

func newTestBuilder(t *testing.T) (*Builder, *store.FSStore) {
	t.Helper()
	records, err := store.NewFSStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("create raw store: %v", err)
	}
	return NewBuilder(records, nil, metrics.New(), zap.NewNop()), records
}

func storeIssue(t *testing.T, records *store.FSStore, issue types.Issue) {
	t.Helper()
	data, err := json.Marshal(issue)
	if err != nil {
		t.Fatalf("marshal issue: %v", err)
	}
	if err := records.Put(context.Background(), issue.Project, issue.Key, data); err != nil {
		t.Fatalf("store issue: %v", err)
	}
}

func sampleIssue(key string) types.Issue {
	return types.Issue{
		Key:         key,
		Project:     strings.SplitN(key, "-", 2)[0],
		Title:       "NameNode crash on restart",
		Description: "The NameNode crashes with an NPE during restart.",
		Status:      "Resolved",
		Priority:    "Major",
		Reporter:    "Dev One",
		Resolution:  "Fixed",
		Created:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		Updated:     time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		Comments: []types.Comment{
			{Author: "Dev Two", Body: "Looks like a race.", Created: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
			{Author: "Dev Three", Body: "The fix is in PR 42.", Created: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open corpus: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan corpus: %v", err)
	}
	return lines
}

func TestBuildCountMatchesEmittedLines(t *testing.T) {
	b, records := newTestBuilder(t)

	storeIssue(t, records, sampleIssue("HADOOP-1"))
	storeIssue(t, records, sampleIssue("HADOOP-2"))
	// A malformed raw file is skipped, not counted.
	if err := records.Put(context.Background(), "HADOOP", "HADOOP-3", []byte("{broken")); err != nil {
		t.Fatalf("store malformed record: %v", err)
	}

	out := filepath.Join(t.TempDir(), "corpus.jsonl")
	count, err := b.Build(context.Background(), out, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	lines := readLines(t, out)
	if count != 2 {
		t.Fatalf("count = %d, want 2 valid issues", count)
	}
	if len(lines) != count {
		t.Fatalf("emitted %d lines but counted %d", len(lines), count)
	}
}

func TestBuildEntryRoundTripsIssueKey(t *testing.T) {
	b, records := newTestBuilder(t)
	storeIssue(t, records, sampleIssue("SPARK-77"))

	out := filepath.Join(t.TempDir(), "corpus.jsonl")
	if _, err := b.Build(context.Background(), out, nil); err != nil {
		t.Fatalf("build: %v", err)
	}

	lines := readLines(t, out)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	var entry types.CorpusEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("parse entry: %v", err)
	}
	if entry.Metadata.IssueKey != "SPARK-77" {
		t.Fatalf("metadata.issue_key = %q, want SPARK-77", entry.Metadata.IssueKey)
	}
	if entry.Metadata.Project != "SPARK" {
		t.Fatalf("metadata.project = %q, want SPARK", entry.Metadata.Project)
	}
}

func TestBuildNullDescriptionBecomesEmptyString(t *testing.T) {
	b, records := newTestBuilder(t)

	// A raw record with an explicit null description is still a valid issue.
	raw := `{
		"key": "HADOOP-9",
		"project": "HADOOP",
		"title": "X",
		"description": null,
		"status": "Open",
		"priority": "Minor",
		"reporter": "Dev",
		"created": "2024-01-01T00:00:00Z",
		"updated": "2024-01-02T00:00:00Z"
	}`
	if err := records.Put(context.Background(), "HADOOP", "HADOOP-9", []byte(raw)); err != nil {
		t.Fatalf("store record: %v", err)
	}

	out := filepath.Join(t.TempDir(), "corpus.jsonl")
	count, err := b.Build(context.Background(), out, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (null description is not a drop)", count)
	}

	var entry types.CorpusEntry
	if err := json.Unmarshal([]byte(readLines(t, out)[0]), &entry); err != nil {
		t.Fatalf("parse entry: %v", err)
	}
	if entry.Description != "" {
		t.Fatalf("description = %q, want empty string", entry.Description)
	}
}

func TestBuildProjectFilter(t *testing.T) {
	b, records := newTestBuilder(t)
	storeIssue(t, records, sampleIssue("HADOOP-1"))
	storeIssue(t, records, sampleIssue("SPARK-1"))

	out := filepath.Join(t.TempDir(), "corpus.jsonl")
	count, err := b.Build(context.Background(), out, []string{"SPARK"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 SPARK entry", count)
	}
}

func TestSummarizationTask(t *testing.T) {
	issue := sampleIssue("HADOOP-1")
	task := buildSummarization(&issue)

	if task.Output != "NameNode crash on restart - Resolved: Fixed" {
		t.Fatalf("summary output = %q", task.Output)
	}
	if !strings.Contains(task.Input, "NPE during restart") {
		t.Fatalf("summary input missing description: %q", task.Input)
	}
	if !strings.Contains(task.Input, "Looks like a race.") {
		t.Fatalf("summary input missing comments: %q", task.Input)
	}
}

func TestSummarizationEmptyResolution(t *testing.T) {
	issue := sampleIssue("HADOOP-1")
	issue.Resolution = ""
	issue.Status = "Open"

	task := buildSummarization(&issue)
	if task.Output != "NameNode crash on restart - Open: " {
		t.Fatalf("summary output = %q, want empty resolution suffix", task.Output)
	}
}

func TestClassificationTask(t *testing.T) {
	issue := sampleIssue("HADOOP-1")
	task := buildClassification(&issue, InferTypeByKeywords)

	want := "Type: Bug | Priority: Major | Status: Resolved | Resolution: Fixed"
	if task.Output != want {
		t.Fatalf("classification label = %q, want %q", task.Output, want)
	}
	if !strings.HasPrefix(task.Input, "Title: NameNode crash on restart") {
		t.Fatalf("classification input = %q", task.Input)
	}
}

func TestQATaskAnswerFromResolutionComment(t *testing.T) {
	issue := sampleIssue("HADOOP-1")
	task := buildQA(&issue)

	if !strings.Contains(task.Question, "NameNode crash on restart") {
		t.Fatalf("question = %q", task.Question)
	}
	if !strings.Contains(task.Context, "Description:") {
		t.Fatalf("context missing description: %q", task.Context)
	}
	// "The fix is in PR 42." carries resolution keywords.
	if !strings.Contains(task.Answer, "PR 42") {
		t.Fatalf("answer = %q, want resolution comment text", task.Answer)
	}
}

func TestQATaskPlaceholderWithoutResolution(t *testing.T) {
	issue := sampleIssue("HADOOP-1")
	issue.Resolution = ""
	issue.Comments = []types.Comment{
		{Author: "Dev", Body: "Any updates?", Created: time.Now()},
	}

	task := buildQA(&issue)
	if task.Answer != "The issue status and resolution details are not available." {
		t.Fatalf("answer = %q, want placeholder", task.Answer)
	}
}

func TestInferTypeByKeywords(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"NameNode crash on restart", "Bug"},
		{"Add support for zstd compression", "New Feature"},
		{"Improve shuffle performance", "Improvement"},
		{"Update quarterly roadmap", "Task"},
	}
	for _, tc := range cases {
		if got := InferTypeByKeywords(tc.title, ""); got != tc.want {
			t.Errorf("InferTypeByKeywords(%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}

func TestCleanTextStripsMarkup(t *testing.T) {
	in := "<p>Hello&nbsp;   <b>world</b></p>\n\n  again"
	if got := CleanText(in); got != "Hello world again" {
		t.Fatalf("CleanText = %q", got)
	}
}
