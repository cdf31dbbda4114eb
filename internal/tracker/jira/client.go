// Package jira supplies work items from a JIRA project. It only implements
// tracker.WorkItems and is combined with a repository host.
package jira

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	jira "github.com/andygrunwald/go-jira"

	"github.com/danielolaszy/workitems/internal/config"
	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/pkg/models"
)

// textSearchLimit bounds the results of a summary search.
const textSearchLimit = 50

// Client handles interactions with the JIRA API
type Client struct {
	client  *jira.Client
	baseURL string
	project string
	log     *slog.Logger
}

// NewClient creates a JIRA client using basic authentication with an API token.
func NewClient(cfg config.JiraConfig) (*Client, error) {
	logging.Info("jira configuration",
		"url", cfg.URL,
		"username", cfg.Username,
		"project", cfg.Project,
		"token", logging.MaskSensitive(cfg.Token.Value()))

	// Create JIRA authentication transport
	tp := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.Token.Value(),
	}

	client, err := jira.NewClient(tp.Client(), cfg.URL)
	if err != nil {
		logging.Error("failed to create jira client", "url", cfg.URL, "error", err)
		return nil, fmt.Errorf("failed to create JIRA client: %w", err)
	}

	return newWithClient(client, cfg.URL, cfg.Project), nil
}

func newWithClient(client *jira.Client, baseURL, project string) *Client {
	return &Client{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		project: project,
		log:     logging.WithComponent("jira"),
	}
}

// BuildJQL renders q as a JQL statement, optionally scoped to a project.
func BuildJQL(q tracker.Query, project string) string {
	col := "updated"
	if q.SearchField == tracker.SearchCreated {
		col = "created"
	}

	var clauses []string
	if project != "" {
		clauses = append(clauses, fmt.Sprintf("project = %s", quote(project)))
	}

	switch {
	case q.WorkItemID > 0:
		clauses = append(clauses, fmt.Sprintf("id = %d", q.WorkItemID))
		return strings.Join(clauses, " AND ")
	case q.Text != "":
		clauses = append(clauses, fmt.Sprintf("summary ~ %s", quote(q.Text)))
	default:
		clauses = append(clauses, fmt.Sprintf("%s >= -%dd", col, q.Count))
	}

	return strings.Join(clauses, " AND ") + " ORDER BY " + col + " DESC"
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// QueryWorkItems returns the numeric ids of the matching issues.
func (c *Client) QueryWorkItems(ctx context.Context, q tracker.Query) ([]int, error) {
	jql := BuildJQL(q, c.project)
	c.log.Debug("querying jira issues", "jql", jql)

	limit := textSearchLimit
	if q.Text == "" && q.Count > 0 {
		limit = tracker.MaxBatchSize
	}

	issues, resp, err := c.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
		MaxResults: limit,
		Fields:     []string{"id"},
	})
	if err != nil {
		c.log.Error("failed to search jira issues", "jql", jql, "error", err, "status_code", statusCode(resp))
		return nil, tracker.Wrap("query work items", err)
	}

	ids := make([]int, 0, len(issues))
	for _, issue := range issues {
		id, err := strconv.Atoi(issue.ID)
		if err != nil {
			c.log.Warn("skipping jira issue with non-numeric id", "id", issue.ID, "key", issue.Key)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetWorkItems hydrates up to tracker.MaxBatchSize issues with their summary,
// in request order.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]models.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > tracker.MaxBatchSize {
		return nil, tracker.Errorf("get work items", "batch of %d ids exceeds the limit of %d", len(ids), tracker.MaxBatchSize)
	}

	idList := make([]string, len(ids))
	for i, id := range ids {
		idList[i] = strconv.Itoa(id)
	}
	jql := fmt.Sprintf("id in (%s)", strings.Join(idList, ","))

	issues, resp, err := c.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
		MaxResults: len(ids),
		Fields:     []string{"summary"},
	})
	if err != nil {
		c.log.Error("failed to get jira issues", "count", len(ids), "error", err, "status_code", statusCode(resp))
		return nil, tracker.Wrap("get work items", err)
	}

	byID := make(map[int]models.WorkItem, len(issues))
	for _, issue := range issues {
		id, err := strconv.Atoi(issue.ID)
		if err != nil {
			continue
		}
		summary := ""
		if issue.Fields != nil {
			summary = issue.Fields.Summary
		}
		byID[id] = models.WorkItem{
			ID:    id,
			Title: summary,
			URL:   fmt.Sprintf("%s/browse/%s", c.baseURL, issue.Key),
			Fields: map[string]any{
				"System.Id":       id,
				models.TitleField: summary,
				"Key":             issue.Key,
			},
		}
	}

	items := make([]models.WorkItem, 0, len(byID))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func statusCode(resp *jira.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

var _ tracker.WorkItems = (*Client)(nil)
