package transform

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/itsAdnan16/jira-llm-pipeline/pkg/types"
)

const (
	maxInputLen  = 2000
	maxAnswerLen = 1000

	// summaryComments caps how many comment bodies feed the summarization
	// input.
	summaryComments = 5
	// answerComments caps how many resolution comments feed the Q&A answer.
	answerComments = 2
)

// TypeInferrer deduces an issue type label from title and description.
type TypeInferrer func(title, description string) string

// InferTypeByKeywords is the default type rule: first keyword family that
// matches wins, scanning title before description.
func InferTypeByKeywords(title, description string) string {
	text := strings.ToLower(title + " " + description)
	switch {
	case containsAny(text, "bug", "error", "crash", "fail", "broken", "exception", "npe", "regression"):
		return "Bug"
	case containsAny(text, "add ", "support ", "new feature", "implement", "introduce"):
		return "New Feature"
	case containsAny(text, "improve", "upgrade", "refactor", "optimiz", "performance", "cleanup"):
		return "Improvement"
	case containsAny(text, "test", "flaky"):
		return "Test"
	case containsAny(text, "doc", "readme", "javadoc"):
		return "Documentation"
	default:
		return "Task"
	}
}

// buildSummarization derives the summarization pair: the issue's text as
// input, a one-line status summary as output.
func buildSummarization(issue *types.Issue) types.TextTask {
	var bodies []string
	for i, c := range issue.Comments {
		if i == summaryComments {
			break
		}
		if body := CleanText(c.Body); body != "" {
			bodies = append(bodies, body)
		}
	}

	input := CleanText(issue.Description)
	if len(bodies) > 0 {
		input = strings.TrimSpace(input + "\n\nComments:\n" + strings.Join(bodies, "\n\n"))
	}

	return types.TextTask{
		Task:   "summarization",
		Input:  truncate(input, maxInputLen),
		Output: fmt.Sprintf("%s - %s: %s", issue.Title, issue.Status, issue.Resolution),
	}
}

// buildClassification derives the classification pair. The type segment
// comes from the inferrer, the rest from the issue fields.
func buildClassification(issue *types.Issue, inferType TypeInferrer) types.TextTask {
	description := CleanText(issue.Description)
	input := strings.TrimSpace(fmt.Sprintf("Title: %s\n\nDescription: %s", issue.Title, description))

	label := fmt.Sprintf("Type: %s | Priority: %s | Status: %s | Resolution: %s",
		inferType(issue.Title, description), issue.Priority, issue.Status, issue.Resolution)

	return types.TextTask{
		Task:   "classification",
		Input:  truncate(input, maxInputLen),
		Output: label,
	}
}

// buildQA derives the question-answering sample. The answer prefers
// resolution-bearing comments, then the resolution field, then a
// placeholder.
func buildQA(issue *types.Issue) types.QATask {
	question := fmt.Sprintf("What is the issue with '%s' and how was it resolved?", issue.Title)

	context := "Title: " + issue.Title
	if description := CleanText(issue.Description); description != "" {
		context += "\n\nDescription: " + description
	}

	var answer string
	if hits := issue.ResolutionComments(answerComments); len(hits) > 0 {
		var bodies []string
		for _, c := range hits {
			if body := CleanText(c.Body); body != "" {
				bodies = append(bodies, body)
			}
		}
		answer = strings.Join(bodies, "\n\n")
	}
	if answer == "" && issue.Resolution != "" {
		answer = "The issue was resolved as: " + issue.Resolution
	}
	if answer == "" {
		answer = "The issue status and resolution details are not available."
	}

	return types.QATask{
		Task:     "qa",
		Question: question,
		Context:  truncate(context, maxInputLen),
		Answer:   truncate(answer, maxAnswerLen),
	}
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	// \p{Zs} catches the non-breaking spaces HTML entities decode to.
	whitespacePattern = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// CleanText strips markup tags, decodes HTML entities and collapses
// whitespace.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
