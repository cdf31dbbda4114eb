// Package azure implements the tracker service on top of Azure DevOps:
// work items through WIQL, repositories, refs and pull requests through the
// Git REST API.
package azure

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/git"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/webapi"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/workitemtracking"

	"github.com/danielolaszy/workitems/internal/config"
	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/pkg/models"
)

// maxRemoteCommits bounds the commit listing of a branch.
const maxRemoteCommits = 1000

// hydrateFields are the work item fields fetched by GetWorkItems.
var hydrateFields = []string{"System.Id", models.TitleField}

// Client talks to one Azure DevOps project.
type Client struct {
	git     git.Client
	wit     workitemtracking.Client
	project string
	log     *slog.Logger
}

// NewClient connects to the organization with a personal access token.
func NewClient(ctx context.Context, cfg config.AzureConfig) (*Client, error) {
	logging.Info("azure devops configuration",
		"organization_url", cfg.OrganizationURL,
		"project", cfg.Project,
		"token", logging.MaskSensitive(cfg.Token.Value()))

	connection := azuredevops.NewPatConnection(cfg.OrganizationURL, cfg.Token.Value())

	gitClient, err := git.NewClient(ctx, connection)
	if err != nil {
		logging.Error("failed to create azure devops git client", "error", err)
		return nil, fmt.Errorf("failed to create azure devops git client: %w", err)
	}

	witClient, err := workitemtracking.NewClient(ctx, connection)
	if err != nil {
		logging.Error("failed to create azure devops work item client", "error", err)
		return nil, fmt.Errorf("failed to create azure devops work item client: %w", err)
	}

	return newWithClients(gitClient, witClient, cfg.Project), nil
}

func newWithClients(gitClient git.Client, witClient workitemtracking.Client, project string) *Client {
	return &Client{
		git:     gitClient,
		wit:     witClient,
		project: project,
		log:     logging.WithComponent("azure"),
	}
}

// BuildWIQL renders q as a WIQL statement.
func BuildWIQL(q tracker.Query) string {
	col := "[System.ChangedDate]"
	if q.SearchField == tracker.SearchCreated {
		col = "[System.CreatedDate]"
	}

	var where string
	switch {
	case q.WorkItemID > 0:
		where = fmt.Sprintf("[System.Id] = %d", q.WorkItemID)
	case q.Text != "":
		where = fmt.Sprintf("[System.Title] contains '%s'", strings.ReplaceAll(q.Text, "'", "''"))
	default:
		where = fmt.Sprintf("%s >= @Today-%d ORDER BY %s DESC", col, q.Count, col)
	}

	return fmt.Sprintf("SELECT [System.Id], %s FROM WorkItems WHERE %s", col, where)
}

// QueryWorkItems runs the WIQL rendering of q and returns the matching ids.
func (c *Client) QueryWorkItems(ctx context.Context, q tracker.Query) ([]int, error) {
	wiql := BuildWIQL(q)
	c.log.Debug("querying work items", "wiql", wiql)

	result, err := c.wit.QueryByWiql(ctx, workitemtracking.QueryByWiqlArgs{
		Wiql:    &workitemtracking.Wiql{Query: &wiql},
		Project: &c.project,
	})
	if err != nil {
		c.log.Error("failed to query work items", "wiql", wiql, "error", err)
		return nil, tracker.Wrap("query work items", err)
	}
	if result == nil || result.WorkItems == nil {
		return nil, nil
	}

	ids := make([]int, 0, len(*result.WorkItems))
	for _, ref := range *result.WorkItems {
		if ref.Id != nil {
			ids = append(ids, *ref.Id)
		}
	}
	return ids, nil
}

// GetWorkItems hydrates up to tracker.MaxBatchSize ids with id and title.
// Ids the service cannot return are omitted.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]models.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > tracker.MaxBatchSize {
		return nil, tracker.Errorf("get work items", "batch of %d ids exceeds the limit of %d", len(ids), tracker.MaxBatchSize)
	}

	fields := append([]string(nil), hydrateFields...)
	batch := append([]int(nil), ids...)
	items, err := c.wit.GetWorkItems(ctx, workitemtracking.GetWorkItemsArgs{
		Ids:         &batch,
		Fields:      &fields,
		Project:     &c.project,
		ErrorPolicy: &workitemtracking.WorkItemErrorPolicyValues.Omit,
	})
	if err != nil {
		c.log.Error("failed to get work items", "count", len(ids), "error", err)
		return nil, tracker.Wrap("get work items", err)
	}
	if items == nil {
		return nil, nil
	}

	result := make([]models.WorkItem, 0, len(*items))
	for _, wi := range *items {
		if wi.Id == nil {
			continue
		}
		item := models.WorkItem{ID: *wi.Id, URL: deref(wi.Url)}
		if wi.Fields != nil {
			item.Fields = *wi.Fields
			if title, ok := item.Fields[models.TitleField].(string); ok {
				item.Title = title
			}
		}
		result = append(result, item)
	}
	return result, nil
}

// Repositories lists the git repositories of the project.
func (c *Client) Repositories(ctx context.Context) ([]models.Repository, error) {
	repos, err := c.git.GetRepositories(ctx, git.GetRepositoriesArgs{Project: &c.project})
	if err != nil {
		c.log.Error("failed to list repositories", "project", c.project, "error", err)
		return nil, tracker.Wrap("list repositories", err)
	}
	if repos == nil {
		return nil, nil
	}

	result := make([]models.Repository, 0, len(*repos))
	for _, r := range *repos {
		repo := models.Repository{
			Name:      deref(r.Name),
			RemoteURL: deref(r.RemoteUrl),
			WebURL:    deref(r.WebUrl),
		}
		if r.Id != nil {
			repo.ID = r.Id.String()
		}
		result = append(result, repo)
	}
	return result, nil
}

// ListCommits returns the ids of the most recent commits on branch.
func (c *Client) ListCommits(ctx context.Context, repoID, branch string) ([]string, error) {
	top := maxRemoteCommits
	commits, err := c.git.GetCommits(ctx, git.GetCommitsArgs{
		RepositoryId: &repoID,
		Project:      &c.project,
		SearchCriteria: &git.GitQueryCommitsCriteria{
			ItemVersion: &git.GitVersionDescriptor{
				Version:     &branch,
				VersionType: &git.GitVersionTypeValues.Branch,
			},
			Top: &top,
		},
	})
	if err != nil {
		c.log.Error("failed to list commits", "repository_id", repoID, "branch", branch, "error", err)
		return nil, tracker.Wrap("list commits", err)
	}
	if commits == nil {
		return nil, nil
	}

	ids := make([]string, 0, len(*commits))
	for _, commit := range *commits {
		if commit.CommitId != nil {
			ids = append(ids, *commit.CommitId)
		}
	}
	c.log.Debug("listed remote commits", "repository_id", repoID, "branch", branch, "count", len(ids))
	return ids, nil
}

// ListBranchRefs returns the branch refs whose name contains name.
func (c *Client) ListBranchRefs(ctx context.Context, repoID, name string) ([]models.BranchRef, error) {
	filter := "heads/"
	resp, err := c.git.GetRefs(ctx, git.GetRefsArgs{
		RepositoryId:   &repoID,
		Project:        &c.project,
		Filter:         &filter,
		FilterContains: &name,
	})
	if err != nil {
		c.log.Error("failed to list refs", "repository_id", repoID, "name", name, "error", err)
		return nil, tracker.Wrap("list refs", err)
	}
	if resp == nil {
		return nil, nil
	}

	refs := make([]models.BranchRef, 0, len(resp.Value))
	for _, ref := range resp.Value {
		refs = append(refs, models.BranchRef{Name: deref(ref.Name), ObjectID: deref(ref.ObjectId)})
	}
	return refs, nil
}

// CreateBranch creates name at the tip of the remote source branch.
func (c *Client) CreateBranch(ctx context.Context, repoID, source, name string) (*models.BranchRef, error) {
	refs, err := c.ListBranchRefs(ctx, repoID, source)
	if err != nil {
		return nil, err
	}
	src := tracker.FindExactBranchRef(refs, source)
	if src == nil {
		return nil, tracker.Errorf("create branch", "source branch %q not found on the remote", source)
	}

	ref := models.BranchRef{Name: tracker.BranchRefName(name), ObjectID: src.ObjectID}
	if err := c.updateRef(ctx, "create branch", repoID, ref.Name, models.ZeroObjectID, ref.ObjectID); err != nil {
		return nil, err
	}

	c.log.Info("created remote branch", "repository_id", repoID, "branch", ref.Name, "object_id", ref.ObjectID)
	return &ref, nil
}

// DeleteBranch moves the branch ref to the zero object id. A branch that no
// longer exists is not an error.
func (c *Client) DeleteBranch(ctx context.Context, repoID, name string) error {
	refs, err := c.ListBranchRefs(ctx, repoID, name)
	if err != nil {
		return err
	}
	ref := tracker.FindExactBranchRef(refs, name)
	if ref == nil {
		c.log.Warn("remote branch already gone", "repository_id", repoID, "branch", name)
		return nil
	}

	if err := c.updateRef(ctx, "delete branch", repoID, ref.Name, ref.ObjectID, models.ZeroObjectID); err != nil {
		return err
	}

	c.log.Info("deleted remote branch", "repository_id", repoID, "branch", ref.Name)
	return nil
}

func (c *Client) updateRef(ctx context.Context, op, repoID, name, oldID, newID string) error {
	results, err := c.git.UpdateRefs(ctx, git.UpdateRefsArgs{
		RefUpdates:   &[]git.GitRefUpdate{{Name: &name, OldObjectId: &oldID, NewObjectId: &newID}},
		RepositoryId: &repoID,
		Project:      &c.project,
	})
	if err != nil {
		c.log.Error("failed to update ref", "ref", name, "error", err)
		return tracker.Wrap(op, err)
	}
	if results == nil {
		return nil
	}

	for _, r := range *results {
		if r.Success != nil && !*r.Success {
			status := ""
			if r.UpdateStatus != nil {
				status = string(*r.UpdateStatus)
			}
			c.log.Error("ref update rejected", "ref", name, "status", status, "message", deref(r.CustomMessage))
			return tracker.Errorf(op, "ref update for %s rejected: %s %s", name, status, deref(r.CustomMessage))
		}
	}
	return nil
}

// CreatePullRequest opens a pull request linking the requested work items
// and carrying the given commit ids.
func (c *Client) CreatePullRequest(ctx context.Context, repoID string, req models.PullRequestRequest) (*models.PullRequest, error) {
	source := tracker.BranchRefName(req.SourceBranch)
	target := tracker.BranchRefName(req.TargetBranch)

	workItemRefs := make([]webapi.ResourceRef, 0, len(req.WorkItems))
	for _, wi := range req.WorkItems {
		id := strconv.Itoa(wi.ID)
		ref := webapi.ResourceRef{Id: &id}
		if wi.URL != "" {
			url := wi.URL
			ref.Url = &url
		}
		workItemRefs = append(workItemRefs, ref)
	}

	commits := make([]git.GitCommitRef, 0, len(req.CommitIDs))
	for _, h := range req.CommitIDs {
		hash := h
		commits = append(commits, git.GitCommitRef{CommitId: &hash})
	}

	toCreate := &git.GitPullRequest{
		SourceRefName: &source,
		TargetRefName: &target,
		Title:         &req.Title,
		WorkItemRefs:  &workItemRefs,
		Commits:       &commits,
	}
	if req.Description != "" {
		toCreate.Description = &req.Description
	}

	pr, err := c.git.CreatePullRequest(ctx, git.CreatePullRequestArgs{
		GitPullRequestToCreate: toCreate,
		RepositoryId:           &repoID,
		Project:                &c.project,
	})
	if err != nil {
		c.log.Error("failed to create pull request", "repository_id", repoID, "source", source, "target", target, "error", err)
		return nil, tracker.Wrap("create pull request", err)
	}
	if pr == nil {
		return nil, tracker.Errorf("create pull request", "service returned no pull request")
	}

	result := convertPullRequest(pr, repoID)
	if len(result.WorkItemIDs) == 0 {
		for _, wi := range req.WorkItems {
			result.WorkItemIDs = append(result.WorkItemIDs, wi.ID)
		}
	}
	if len(result.CommitIDs) == 0 {
		result.CommitIDs = append([]string(nil), req.CommitIDs...)
	}

	c.log.Info("created pull request", "repository_id", repoID, "pull_request_id", result.ID, "status", result.Status)
	return result, nil
}

// EnableAutoComplete sets the pull request to complete automatically on
// behalf of its creator.
func (c *Client) EnableAutoComplete(ctx context.Context, repoID string, pr *models.PullRequest, opts models.AutoCompleteOptions) error {
	if pr.CreatedByID == "" {
		return tracker.Errorf("enable auto-complete", "pull request %d has no creator identity", pr.ID)
	}

	createdBy := pr.CreatedByID
	id := pr.ID
	deleteSource := opts.DeleteSourceBranch
	bypass := opts.BypassPolicy
	_, err := c.git.UpdatePullRequest(ctx, git.UpdatePullRequestArgs{
		GitPullRequestToUpdate: &git.GitPullRequest{
			AutoCompleteSetBy: &webapi.IdentityRef{Id: &createdBy},
			CompletionOptions: &git.GitPullRequestCompletionOptions{
				DeleteSourceBranch: &deleteSource,
				BypassPolicy:       &bypass,
			},
		},
		RepositoryId:  &repoID,
		PullRequestId: &id,
		Project:       &c.project,
	})
	if err != nil {
		c.log.Error("failed to enable auto-complete", "pull_request_id", pr.ID, "error", err)
		return tracker.Wrap("enable auto-complete", err)
	}

	pr.AutoComplete = true
	c.log.Info("enabled auto-complete", "pull_request_id", pr.ID, "delete_source_branch", deleteSource)
	return nil
}

// GetPullRequestStatus fetches the current status of a pull request.
func (c *Client) GetPullRequestStatus(ctx context.Context, _ string, id int) (models.PullRequestStatus, error) {
	pr, err := c.git.GetPullRequestById(ctx, git.GetPullRequestByIdArgs{
		PullRequestId: &id,
		Project:       &c.project,
	})
	if err != nil {
		c.log.Debug("failed to get pull request", "pull_request_id", id, "error", err)
		return models.PullRequestNotSet, tracker.Wrap("get pull request status", err)
	}
	if pr == nil || pr.Status == nil {
		return models.PullRequestNotSet, nil
	}
	return models.ParsePullRequestStatus(string(*pr.Status)), nil
}

func convertPullRequest(pr *git.GitPullRequest, repoID string) *models.PullRequest {
	result := &models.PullRequest{
		RepositoryID: repoID,
		SourceRef:    deref(pr.SourceRefName),
		TargetRef:    deref(pr.TargetRefName),
		Title:        deref(pr.Title),
		Status:       models.PullRequestNotSet,
	}
	if pr.PullRequestId != nil {
		result.ID = *pr.PullRequestId
	}
	if pr.Status != nil {
		result.Status = models.ParsePullRequestStatus(string(*pr.Status))
	}
	if pr.CreatedBy != nil && pr.CreatedBy.Id != nil {
		result.CreatedByID = *pr.CreatedBy.Id
	}
	if pr.AutoCompleteSetBy != nil {
		result.AutoComplete = true
	}
	if pr.WorkItemRefs != nil {
		for _, ref := range *pr.WorkItemRefs {
			if id, err := strconv.Atoi(deref(ref.Id)); err == nil {
				result.WorkItemIDs = append(result.WorkItemIDs, id)
			}
		}
	}
	if pr.Commits != nil {
		for _, commit := range *pr.Commits {
			if commit.CommitId != nil {
				result.CommitIDs = append(result.CommitIDs, *commit.CommitId)
			}
		}
	}
	if pr.Repository != nil && pr.Repository.WebUrl != nil && result.ID > 0 {
		result.WebURL = fmt.Sprintf("%s/pullrequest/%d", *pr.Repository.WebUrl, result.ID)
	}
	return result
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ tracker.Service = (*Client)(nil)
