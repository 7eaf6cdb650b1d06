package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	jirawire "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/itsAdnan16/jira-llm-pipeline/internal/fetch"
	"github.com/itsAdnan16/jira-llm-pipeline/pkg/types"
)

// issueFields is the field set requested on every search and detail call.
var issueFields = strings.Join([]string{
	"summary",
	"description",
	"created",
	"updated",
	"status",
	"priority",
	"assignee",
	"reporter",
	"issuetype",
	"resolution",
	"resolutiondate",
	"comment",
}, ",")

// Client wraps the Jira REST search and issue-detail endpoints.
type Client struct {
	baseURL  string
	fetcher  *fetch.Fetcher
	pageSize int
	logger   *zap.Logger
}

// NewClient creates a Jira client against baseURL, e.g.
// "https://issues.apache.org/jira".
func NewClient(baseURL string, fetcher *fetch.Fetcher, pageSize int, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		fetcher:  fetcher,
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

// SearchResult is one page of search hits. Keys are issue identifiers in
// page order; Total is the server-reported match count.
type SearchResult struct {
	Keys    []string
	StartAt int
	Total   int
}

// searchResponse mirrors the relevant parts of the /search payload.
type searchResponse struct {
	StartAt    int              `json:"startAt"`
	MaxResults int              `json:"maxResults"`
	Total      int              `json:"total"`
	Issues     []jirawire.Issue `json:"issues"`
}

// SearchPage fetches one page of issues for project updated at or after
// updatedSince (zero means no lower bound), ordered by update time
// ascending.
func (c *Client) SearchPage(ctx context.Context, project string, updatedSince time.Time, startAt int) (*SearchResult, error) {
	params := url.Values{
		"jql":        {buildJQL(project, updatedSince)},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(c.pageSize)},
		"fields":     {issueFields},
	}

	body, _, err := c.fetcher.Fetch(ctx, c.baseURL+"/rest/api/2/search", params)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", project, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response for %s: %w", project, err)
	}

	result := &SearchResult{
		StartAt: resp.StartAt,
		Total:   resp.Total,
		Keys:    make([]string, 0, len(resp.Issues)),
	}
	for _, issue := range resp.Issues {
		if issue.Key != "" {
			result.Keys = append(result.Keys, issue.Key)
		}
	}
	return result, nil
}

// GetIssue fetches and validates the full detail record for one issue.
func (c *Client) GetIssue(ctx context.Context, key string) (*types.Issue, error) {
	params := url.Values{"fields": {issueFields}}

	body, _, err := c.fetcher.Fetch(ctx, c.baseURL+"/rest/api/2/issue/"+url.PathEscape(key), params)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	return types.ParseAPIIssue(body)
}

// PageSize returns the configured search page size.
func (c *Client) PageSize() int { return c.pageSize }

func buildJQL(project string, updatedSince time.Time) string {
	jql := fmt.Sprintf("project = %s", project)
	if !updatedSince.IsZero() {
		jql += fmt.Sprintf(" AND updated >= %q", updatedSince.UTC().Format("2006-01-02"))
	}
	return jql + " ORDER BY updated ASC"
}
