// Package tracker defines the remote work-tracking and pull request service
// the check-in workflow talks to, together with helpers shared by the
// concrete backends.
package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielolaszy/workitems/pkg/models"
)

// MaxBatchSize is the largest number of ids a single hydrate call accepts.
const MaxBatchSize = 200

// Search fields for work item queries.
const (
	SearchChanged = "changed"
	SearchCreated = "created"
)

// Query selects candidate work items. The first non-empty selector wins:
// WorkItemID, then Text, then the most recent Count items by SearchField.
type Query struct {
	// WorkItemID restricts the query to a single id when non-zero
	WorkItemID int

	// Text restricts the query to items whose title contains it
	Text string

	// SearchField is "changed" or "created"
	SearchField string

	// Count bounds the result window
	Count int
}

// WorkItems is a source of work items.
type WorkItems interface {
	// QueryWorkItems returns candidate work item ids, most recent first.
	QueryWorkItems(ctx context.Context, q Query) ([]int, error)

	// GetWorkItems hydrates at most MaxBatchSize ids.
	GetWorkItems(ctx context.Context, ids []int) ([]models.WorkItem, error)
}

// Repositories hosts repositories, branches and pull requests.
type Repositories interface {
	// Repositories lists the repositories of the configured project.
	Repositories(ctx context.Context) ([]models.Repository, error)

	// ListCommits returns the ids of the most recent commits reachable on branch.
	ListCommits(ctx context.Context, repoID, branch string) ([]string, error)

	// ListBranchRefs returns candidate branch refs for name. FindBranchRef
	// picks the match.
	ListBranchRefs(ctx context.Context, repoID, name string) ([]models.BranchRef, error)

	// CreateBranch creates name on the remote at the tip of source.
	CreateBranch(ctx context.Context, repoID, source, name string) (*models.BranchRef, error)

	// DeleteBranch deletes a remote branch by moving its ref to the zero id.
	DeleteBranch(ctx context.Context, repoID, name string) error

	// CreatePullRequest opens a pull request.
	CreatePullRequest(ctx context.Context, repoID string, req models.PullRequestRequest) (*models.PullRequest, error)

	// EnableAutoComplete configures automatic completion of an open pull request.
	EnableAutoComplete(ctx context.Context, repoID string, pr *models.PullRequest, opts models.AutoCompleteOptions) error

	// GetPullRequestStatus returns the current status of a pull request.
	GetPullRequestStatus(ctx context.Context, repoID string, id int) (models.PullRequestStatus, error)
}

// Service is the full remote collaborator.
type Service interface {
	WorkItems
	Repositories
}

// RepositoryFinder is implemented by services that can resolve a clone URL
// without listing every repository.
type RepositoryFinder interface {
	FindRepository(ctx context.Context, url string) (*models.Repository, error)
}

// repoHost names the embedded Repositories so its Repositories method is
// promoted instead of shadowed by the field.
type repoHost = Repositories

type combined struct {
	WorkItems
	repoHost
}

func (c combined) FindRepository(ctx context.Context, url string) (*models.Repository, error) {
	return LookupRepository(ctx, c.repoHost, url)
}

// Combine pairs a work item source with a repository host, e.g. Jira issues
// with GitHub pull requests.
func Combine(w WorkItems, r Repositories) Service {
	return combined{WorkItems: w, repoHost: r}
}

// OperationError reports a failed call to the remote service.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("remote operation %q failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Errorf wraps a formatted error as an OperationError for op.
func Errorf(op, format string, args ...any) error {
	return &OperationError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap marks err as an OperationError for op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Err: err}
}

// HydrateAll fetches every id in chunks of MaxBatchSize and concatenates the
// results in request order.
func HydrateAll(ctx context.Context, w WorkItems, ids []int) ([]models.WorkItem, error) {
	items := make([]models.WorkItem, 0, len(ids))
	for start := 0; start < len(ids); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := w.GetWorkItems(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

// FindBranchRef returns the ref named exactly refs/heads/<branch>, else the
// first ref whose name ends with branch, or nil.
func FindBranchRef(refs []models.BranchRef, branch string) *models.BranchRef {
	if ref := FindExactBranchRef(refs, branch); ref != nil {
		return ref
	}
	for i := range refs {
		if strings.HasSuffix(refs[i].Name, branch) {
			return &refs[i]
		}
	}
	return nil
}

// FindExactBranchRef returns the ref named exactly refs/heads/<branch>, or nil.
// Refs that are written to must be matched this way.
func FindExactBranchRef(refs []models.BranchRef, branch string) *models.BranchRef {
	full := BranchRefName(branch)
	for i := range refs {
		if refs[i].Name == full {
			return &refs[i]
		}
	}
	return nil
}

// FindRepositoryByURL returns the repository whose remote URL equals url, or nil.
func FindRepositoryByURL(repos []models.Repository, url string) *models.Repository {
	for i := range repos {
		if repos[i].RemoteURL == url {
			return &repos[i]
		}
	}
	return nil
}

// LookupRepository resolves the repository whose clone URL is exactly url.
// It returns nil when the service knows no such repository.
func LookupRepository(ctx context.Context, r Repositories, url string) (*models.Repository, error) {
	if finder, ok := r.(RepositoryFinder); ok {
		return finder.FindRepository(ctx, url)
	}
	repos, err := r.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	return FindRepositoryByURL(repos, url), nil
}

// BranchRefName returns the full ref name for a branch.
func BranchRefName(branch string) string {
	if strings.HasPrefix(branch, "refs/") {
		return branch
	}
	return "refs/heads/" + branch
}
