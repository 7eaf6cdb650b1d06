package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"
)

// jiraCommentTime is the timestamp layout Jira uses for comment fields.
const jiraCommentTime = "2006-01-02T15:04:05.000-0700"

// resolutionKeywords mark comments that likely describe how an issue was fixed.
var resolutionKeywords = []string{
	"fix", "patch", "cause", "pr", "pull request", "solution", "resolved",
}

// Issue is one validated Jira issue as persisted in the raw record store.
// Key is the stable identifier; re-fetching an updated issue overwrites the
// stored record in place.
type Issue struct {
	Key         string    `json:"key"`
	Project     string    `json:"project"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Reporter    string    `json:"reporter"`
	Assignee    string    `json:"assignee,omitempty"`
	Resolution  string    `json:"resolution,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Comments    []Comment `json:"comments,omitempty"`
}

// Comment is a single issue comment.
type Comment struct {
	Author  string    `json:"author"`
	Body    string    `json:"body"`
	Created time.Time `json:"created"`
}

// ValidationError reports a required field that could not be defaulted.
type ValidationError struct {
	Key   string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("issue %s: missing required field %q", e.Key, e.Field)
}

// Validate checks the fields the pipeline cannot default. Both timestamps
// are required; description, assignee and resolution are nullable and
// default to empty strings.
func (i *Issue) Validate() error {
	switch {
	case i.Key == "":
		return &ValidationError{Key: "(unknown)", Field: "key"}
	case i.Project == "":
		return &ValidationError{Key: i.Key, Field: "project"}
	case i.Title == "":
		return &ValidationError{Key: i.Key, Field: "title"}
	case i.Created.IsZero():
		return &ValidationError{Key: i.Key, Field: "created"}
	case i.Updated.IsZero():
		return &ValidationError{Key: i.Key, Field: "updated"}
	}
	return nil
}

// HasResolutionHints reports whether the comment body mentions any of the
// keywords that usually accompany a fix or root-cause explanation.
func (c Comment) HasResolutionHints() bool {
	body := strings.ToLower(c.Body)
	for _, kw := range resolutionKeywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

// ResolutionComments returns up to limit comments that carry resolution
// hints, newest first.
func (i *Issue) ResolutionComments(limit int) []Comment {
	var hits []Comment
	for _, c := range i.Comments {
		if c.HasResolutionHints() {
			hits = append(hits, c)
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Created.After(hits[b].Created)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// ParseAPIIssue converts a raw Jira REST issue payload into a validated
// Issue. The payload is decoded through the go-jira wire types so Jira's
// timestamp and nested field formats are handled in one place.
func ParseAPIIssue(data []byte) (*Issue, error) {
	var wire jira.Issue
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode issue payload: %w", err)
	}
	return FromAPIIssue(&wire)
}

// FromAPIIssue maps a decoded go-jira issue into the pipeline's Issue model.
func FromAPIIssue(wire *jira.Issue) (*Issue, error) {
	if wire.Fields == nil {
		return nil, &ValidationError{Key: wire.Key, Field: "fields"}
	}

	issue := &Issue{
		Key:         wire.Key,
		Project:     wire.Fields.Project.Key,
		Title:       wire.Fields.Summary,
		Description: wire.Fields.Description,
		Type:        wire.Fields.Type.Name,
		Created:     time.Time(wire.Fields.Created).UTC(),
		Updated:     time.Time(wire.Fields.Updated).UTC(),
	}

	// Apache-style instances omit the project field on some endpoints; the
	// key prefix is authoritative in that case ("HADOOP-125" -> "HADOOP").
	if issue.Project == "" {
		if idx := strings.Index(wire.Key, "-"); idx > 0 {
			issue.Project = wire.Key[:idx]
		}
	}

	if wire.Fields.Status != nil {
		issue.Status = wire.Fields.Status.Name
	}
	if wire.Fields.Priority != nil {
		issue.Priority = wire.Fields.Priority.Name
	}
	if wire.Fields.Reporter != nil {
		issue.Reporter = wire.Fields.Reporter.DisplayName
	}
	if wire.Fields.Assignee != nil {
		issue.Assignee = wire.Fields.Assignee.DisplayName
	}
	if wire.Fields.Resolution != nil {
		issue.Resolution = wire.Fields.Resolution.Name
	}

	if wire.Fields.Comments != nil {
		for _, c := range wire.Fields.Comments.Comments {
			if c == nil {
				continue
			}
			created, err := time.Parse(jiraCommentTime, c.Created)
			if err != nil {
				// Comments with unparseable timestamps keep their text but
				// sort to the epoch.
				created = time.Time{}
			}
			issue.Comments = append(issue.Comments, Comment{
				Author:  c.Author.DisplayName,
				Body:    c.Body,
				Created: created.UTC(),
			})
		}
	}

	if err := issue.Validate(); err != nil {
		return nil, err
	}
	return issue, nil
}
