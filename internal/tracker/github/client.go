// Package github implements the tracker service on top of the GitHub API:
// issues act as work items, and branches and pull requests live in the
// repository behind the local remote.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/danielolaszy/workitems/internal/config"
	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/pkg/models"
)

const (
	// maxRemoteCommits bounds the commit listing of a branch.
	maxRemoteCommits = 1000
	pageSize         = 100
)

var remotePattern = regexp.MustCompile(`^(?:[a-z+]+://)?(?:[^@/]+@)?[^/:]+[:/](.+?)/([^/]+?)(?:\.git)?/?$`)

// Client encapsulates the GitHub API client.
type Client struct {
	client *github.Client
	// repository is "owner/name" and scopes the issue queries
	repository string
	// linkIssues closes the linked issues through "Fixes #<n>" in the PR body
	linkIssues bool
	graphqlURL string
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithIssueLinks makes pull request bodies reference the linked work items as
// issues of the repository.
func WithIssueLinks() Option {
	return func(c *Client) { c.linkIssues = true }
}

// APIURL returns the REST endpoint for a GitHub domain.
func APIURL(domain string) string {
	if domain == "" || domain == "github.com" {
		return "https://api.github.com/"
	}
	return fmt.Sprintf("https://%s/api/v3/", domain)
}

// NewClient creates a GitHub API client authenticated with the configured token.
// GitHub Enterprise is used when the domain is not github.com.
func NewClient(ctx context.Context, cfg config.GitHubConfig, opts ...Option) (*Client, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("github token not found in configuration")
	}

	apiURL := APIURL(cfg.Domain)
	logging.Info("github configuration",
		"domain", cfg.Domain,
		"api_url", apiURL,
		"token", logging.MaskSensitive(cfg.Token.Value()))

	// Create the oauth2 client
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)

	client := github.NewClient(tc)
	if apiURL != "https://api.github.com/" {
		var err error
		client, err = github.NewEnterpriseClient(apiURL, apiURL, tc)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
	}

	return newWithClient(client, cfg.Repository, opts...), nil
}

func newWithClient(client *github.Client, repository string, opts ...Option) *Client {
	c := &Client{
		client:     client,
		repository: repository,
		graphqlURL: graphqlURL(client.BaseURL),
		now:        time.Now,
		log:        logging.WithComponent("github"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphqlURL is relative to the REST base: "graphql" on github.com,
// "../graphql" next to Enterprise's /api/v3/.
func graphqlURL(base *url.URL) string {
	if strings.HasSuffix(base.Path, "/api/v3/") {
		return "../graphql"
	}
	return "graphql"
}

// ExtractOwnerRepo parses "owner" and "repo" out of an HTTPS or SSH clone URL.
func ExtractOwnerRepo(remoteURL string) (string, string, error) {
	m := remotePattern.FindStringSubmatch(strings.TrimSpace(remoteURL))
	if m == nil {
		return "", "", fmt.Errorf("cannot parse owner and repository from %q", remoteURL)
	}
	return m[1], m[2], nil
}

func splitRepository(repository string) (string, string, error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format: %s, expected format: owner/repo", repository)
	}
	return parts[0], parts[1], nil
}

// QueryWorkItems returns open issue numbers. A text filter searches issue
// titles; otherwise the issues changed or created in the last Count days are
// listed, most recent first.
func (c *Client) QueryWorkItems(ctx context.Context, q tracker.Query) ([]int, error) {
	owner, repo, err := splitRepository(c.repository)
	if err != nil {
		return nil, tracker.Wrap("query work items", err)
	}

	sort := "updated"
	if q.SearchField == tracker.SearchCreated {
		sort = "created"
	}

	switch {
	case q.WorkItemID > 0:
		return []int{q.WorkItemID}, nil

	case q.Text != "":
		query := fmt.Sprintf("repo:%s/%s is:issue in:title %s", owner, repo, q.Text)
		result, _, err := c.client.Search.Issues(ctx, query, &github.SearchOptions{
			Sort:        sort,
			Order:       "desc",
			ListOptions: github.ListOptions{PerPage: pageSize},
		})
		if err != nil {
			c.log.Error("failed to search github issues", "query", query, "error", err)
			return nil, tracker.Wrap("query work items", err)
		}
		return issueNumbers(result.Issues, nil), nil
	}

	since := c.now().AddDate(0, 0, -q.Count)
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Sort:        sort,
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	if sort == "updated" {
		opts.Since = since
	}

	var allIssues []*github.Issue
	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			c.log.Error("failed to fetch github issues", "repository", c.repository, "error", err)
			return nil, tracker.Wrap("query work items", err)
		}
		allIssues = append(allIssues, issues...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	keep := func(issue *github.Issue) bool {
		return sort == "updated" || !issue.GetCreatedAt().Before(since)
	}
	return issueNumbers(allIssues, keep), nil
}

func issueNumbers(issues []*github.Issue, keep func(*github.Issue) bool) []int {
	ids := make([]int, 0, len(issues))
	for _, issue := range issues {
		// Skip pull requests (they're also returned by the Issues API)
		if issue.PullRequestLinks != nil {
			continue
		}
		if keep != nil && !keep(issue) {
			continue
		}
		ids = append(ids, issue.GetNumber())
	}
	return ids
}

// GetWorkItems fetches each issue by number. Missing issues and pull
// requests are omitted.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]models.WorkItem, error) {
	if len(ids) > tracker.MaxBatchSize {
		return nil, tracker.Errorf("get work items", "batch of %d ids exceeds the limit of %d", len(ids), tracker.MaxBatchSize)
	}
	owner, repo, err := splitRepository(c.repository)
	if err != nil {
		return nil, tracker.Wrap("get work items", err)
	}

	items := make([]models.WorkItem, 0, len(ids))
	for _, id := range ids {
		issue, resp, err := c.client.Issues.Get(ctx, owner, repo, id)
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			c.log.Debug("github issue not found", "issue_number", id)
			continue
		}
		if err != nil {
			c.log.Error("failed to get github issue", "repository", c.repository, "issue_number", id, "error", err)
			return nil, tracker.Wrap("get work items", err)
		}
		if issue.PullRequestLinks != nil {
			continue
		}

		items = append(items, models.WorkItem{
			ID:    issue.GetNumber(),
			Title: issue.GetTitle(),
			URL:   issue.GetHTMLURL(),
			Fields: map[string]any{
				"System.Id":       issue.GetNumber(),
				models.TitleField: issue.GetTitle(),
				"State":           issue.GetState(),
			},
		})
	}
	return items, nil
}

// Repositories lists the repositories the token can access.
func (c *Client) Repositories(ctx context.Context) ([]models.Repository, error) {
	opts := &github.RepositoryListOptions{ListOptions: github.ListOptions{PerPage: pageSize}}

	var result []models.Repository
	for {
		repos, resp, err := c.client.Repositories.List(ctx, "", opts)
		if err != nil {
			c.log.Error("failed to list github repositories", "error", err)
			return nil, tracker.Wrap("list repositories", err)
		}
		for _, r := range repos {
			result = append(result, convertRepository(r))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return result, nil
}

// FindRepository looks the repository up by the owner and name in url and
// accepts it when one of its clone URLs equals url exactly.
func (c *Client) FindRepository(ctx context.Context, remoteURL string) (*models.Repository, error) {
	owner, name, err := ExtractOwnerRepo(remoteURL)
	if err != nil {
		c.log.Debug("remote url is not a github repository", "url", remoteURL, "error", err)
		return nil, nil
	}

	r, resp, err := c.client.Repositories.Get(ctx, owner, name)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		c.log.Error("failed to get github repository", "owner", owner, "repo", name, "error", err)
		return nil, tracker.Wrap("find repository", err)
	}

	for _, candidate := range []string{r.GetCloneURL(), r.GetSSHURL(), r.GetGitURL(), r.GetHTMLURL()} {
		if candidate == remoteURL {
			repo := convertRepository(r)
			repo.RemoteURL = remoteURL
			return &repo, nil
		}
	}
	return nil, nil
}

func convertRepository(r *github.Repository) models.Repository {
	return models.Repository{
		ID:        r.GetFullName(),
		Name:      r.GetName(),
		RemoteURL: r.GetCloneURL(),
		WebURL:    r.GetHTMLURL(),
	}
}

// ListCommits returns the ids of the most recent commits on branch.
func (c *Client) ListCommits(ctx context.Context, repoID, branch string) ([]string, error) {
	owner, repo, err := splitRepository(repoID)
	if err != nil {
		return nil, tracker.Wrap("list commits", err)
	}

	opts := &github.CommitsListOptions{SHA: branch, ListOptions: github.ListOptions{PerPage: pageSize}}
	var ids []string
	for len(ids) < maxRemoteCommits {
		commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			c.log.Error("failed to list commits", "repository", repoID, "branch", branch, "error", err)
			return nil, tracker.Wrap("list commits", err)
		}
		for _, commit := range commits {
			ids = append(ids, commit.GetSHA())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.log.Debug("listed remote commits", "repository", repoID, "branch", branch, "count", len(ids))
	return ids, nil
}

// ListBranchRefs returns the branch refs starting with refs/heads/<name>.
func (c *Client) ListBranchRefs(ctx context.Context, repoID, name string) ([]models.BranchRef, error) {
	owner, repo, err := splitRepository(repoID)
	if err != nil {
		return nil, tracker.Wrap("list refs", err)
	}

	refs, resp, err := c.client.Git.ListMatchingRefs(ctx, owner, repo, &github.ReferenceListOptions{
		Ref:         "heads/" + name,
		ListOptions: github.ListOptions{PerPage: pageSize},
	})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		c.log.Error("failed to list refs", "repository", repoID, "name", name, "error", err)
		return nil, tracker.Wrap("list refs", err)
	}

	result := make([]models.BranchRef, 0, len(refs))
	for _, ref := range refs {
		result = append(result, models.BranchRef{Name: ref.GetRef(), ObjectID: ref.GetObject().GetSHA()})
	}
	return result, nil
}

// CreateBranch creates name at the tip of the remote source branch.
func (c *Client) CreateBranch(ctx context.Context, repoID, source, name string) (*models.BranchRef, error) {
	owner, repo, err := splitRepository(repoID)
	if err != nil {
		return nil, tracker.Wrap("create branch", err)
	}

	refs, err := c.ListBranchRefs(ctx, repoID, source)
	if err != nil {
		return nil, err
	}
	src := tracker.FindExactBranchRef(refs, source)
	if src == nil {
		return nil, tracker.Errorf("create branch", "source branch %q not found on the remote", source)
	}

	ref := models.BranchRef{Name: tracker.BranchRefName(name), ObjectID: src.ObjectID}
	_, _, err = c.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String(ref.Name),
		Object: &github.GitObject{SHA: github.String(ref.ObjectID)},
	})
	if err != nil {
		c.log.Error("failed to create ref", "repository", repoID, "ref", ref.Name, "error", err)
		return nil, tracker.Wrap("create branch", err)
	}

	c.log.Info("created remote branch", "repository", repoID, "branch", ref.Name, "object_id", ref.ObjectID)
	return &ref, nil
}

// DeleteBranch deletes the branch ref. A branch that no longer exists is not
// an error.
func (c *Client) DeleteBranch(ctx context.Context, repoID, name string) error {
	owner, repo, err := splitRepository(repoID)
	if err != nil {
		return tracker.Wrap("delete branch", err)
	}

	resp, err := c.client.Git.DeleteRef(ctx, owner, repo, "heads/"+name)
	if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity) {
		c.log.Warn("remote branch already gone", "repository", repoID, "branch", name)
		return nil
	}
	if err != nil {
		c.log.Error("failed to delete ref", "repository", repoID, "branch", name, "error", err)
		return tracker.Wrap("delete branch", err)
	}

	c.log.Info("deleted remote branch", "repository", repoID, "branch", name)
	return nil
}

// PullRequestBody renders the description of a check-in pull request.
func PullRequestBody(req models.PullRequestRequest, linkIssues bool) string {
	var b strings.Builder
	if req.Description != "" {
		b.WriteString(req.Description)
		b.WriteString("\n\n")
	}
	for _, wi := range req.WorkItems {
		if linkIssues {
			fmt.Fprintf(&b, "Fixes #%d\n", wi.ID)
		} else if wi.URL != "" {
			fmt.Fprintf(&b, "Work item %d: %s\n", wi.ID, wi.URL)
		} else {
			fmt.Fprintf(&b, "Work item %d\n", wi.ID)
		}
	}
	if len(req.CommitIDs) > 0 {
		b.WriteString("\nCommits:\n")
		for _, h := range req.CommitIDs {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	return b.String()
}

// CreatePullRequest opens a pull request from the source branch into the
// target branch of the same repository.
func (c *Client) CreatePullRequest(ctx context.Context, repoID string, req models.PullRequestRequest) (*models.PullRequest, error) {
	owner, repo, err := splitRepository(repoID)
	if err != nil {
		return nil, tracker.Wrap("create pull request", err)
	}

	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.SourceBranch),
		Base:  github.String(req.TargetBranch),
		Body:  github.String(PullRequestBody(req, c.linkIssues)),
	})
	if err != nil {
		c.log.Error("failed to create pull request", "repository", repoID, "head", req.SourceBranch, "base", req.TargetBranch, "error", err)
		return nil, tracker.Wrap("create pull request", err)
	}

	result := &models.PullRequest{
		ID:           pr.GetNumber(),
		RepositoryID: repoID,
		Status:       pullRequestStatus(pr),
		SourceRef:    tracker.BranchRefName(pr.GetHead().GetRef()),
		TargetRef:    tracker.BranchRefName(pr.GetBase().GetRef()),
		Title:        pr.GetTitle(),
		CommitIDs:    append([]string(nil), req.CommitIDs...),
		CreatedByID:  pr.GetUser().GetLogin(),
		NodeID:       pr.GetNodeID(),
		WebURL:       pr.GetHTMLURL(),
	}
	for _, wi := range req.WorkItems {
		result.WorkItemIDs = append(result.WorkItemIDs, wi.ID)
	}

	c.log.Info("created pull request", "repository", repoID, "pull_request_id", result.ID, "status", result.Status)
	return result, nil
}

const enableAutoMergeMutation = `mutation($pullRequestId: ID!) {
  enablePullRequestAutoMerge(input: {pullRequestId: $pullRequestId, mergeMethod: MERGE}) {
    pullRequest { number }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// EnableAutoComplete turns on auto-merge through the GraphQL API. GitHub has
// no per pull request switch for deleting the head branch, so the repository
// setting decides; bypassing policies is not possible.
func (c *Client) EnableAutoComplete(ctx context.Context, repoID string, pr *models.PullRequest, opts models.AutoCompleteOptions) error {
	if pr.NodeID == "" {
		return tracker.Errorf("enable auto-complete", "pull request %d has no node id", pr.ID)
	}
	if opts.BypassPolicy {
		return tracker.Errorf("enable auto-complete", "bypassing branch protection is not supported")
	}

	req, err := c.client.NewRequest(http.MethodPost, c.graphqlURL, graphqlRequest{
		Query:     enableAutoMergeMutation,
		Variables: map[string]any{"pullRequestId": pr.NodeID},
	})
	if err != nil {
		return tracker.Wrap("enable auto-complete", err)
	}

	var out graphqlResponse
	if _, err := c.client.Do(ctx, req, &out); err != nil {
		c.log.Error("failed to enable auto-merge", "repository", repoID, "pull_request_id", pr.ID, "error", err)
		return tracker.Wrap("enable auto-complete", err)
	}
	if len(out.Errors) > 0 {
		c.log.Error("auto-merge rejected", "repository", repoID, "pull_request_id", pr.ID, "message", out.Errors[0].Message)
		return tracker.Errorf("enable auto-complete", "%s", out.Errors[0].Message)
	}

	pr.AutoComplete = true
	c.log.Info("enabled auto-merge", "repository", repoID, "pull_request_id", pr.ID, "delete_source_branch", opts.DeleteSourceBranch)
	return nil
}

// GetPullRequestStatus maps the pull request state onto a status.
func (c *Client) GetPullRequestStatus(ctx context.Context, repoID string, id int) (models.PullRequestStatus, error) {
	owner, repo, err := splitRepository(repoID)
	if err != nil {
		return models.PullRequestNotSet, tracker.Wrap("get pull request status", err)
	}

	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, id)
	if err != nil {
		c.log.Debug("failed to get pull request", "repository", repoID, "pull_request_id", id, "error", err)
		return models.PullRequestNotSet, tracker.Wrap("get pull request status", err)
	}
	return pullRequestStatus(pr), nil
}

func pullRequestStatus(pr *github.PullRequest) models.PullRequestStatus {
	switch {
	case pr.GetState() == "open":
		return models.PullRequestActive
	case pr.GetMerged():
		return models.PullRequestCompleted
	case pr.GetState() == "closed":
		return models.PullRequestAbandoned
	default:
		return models.PullRequestNotSet
	}
}

var (
	_ tracker.Service          = (*Client)(nil)
	_ tracker.RepositoryFinder = (*Client)(nil)
)
