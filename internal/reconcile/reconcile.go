// Package reconcile computes which local commits the remote service does not
// know yet and correlates them with work items through their messages.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/danielolaszy/workitems/internal/comment"
	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/internal/vcs"
	"github.com/danielolaszy/workitems/pkg/models"
)

// MaxLocalCommits bounds the local log. Older commits are assumed reconciled.
const MaxLocalCommits = 1000

// WorkItemCommits is a work item with the pending commits mentioning it.
type WorkItemCommits struct {
	WorkItem    models.WorkItem
	MentionedIn []models.Commit
}

// Result is one reconciliation pass over the current branch.
type Result struct {
	// Branch is the checked out local branch
	Branch string

	// ComparedBranch is the remote branch the log was compared with; empty
	// when neither the branch nor the development branch exists remotely
	ComparedBranch string

	// Pending holds the local commits unknown to the remote, newest first
	Pending []models.Commit

	// WorkItems holds every input work item in input order
	WorkItems []WorkItemCommits
}

// MentionedIn returns the pending commits that reference id.
func (r *Result) MentionedIn(id int) []models.Commit {
	for _, wc := range r.WorkItems {
		if wc.WorkItem.ID == id {
			return wc.MentionedIn
		}
	}
	return Correlate(r.Pending)[id]
}

// WorkItem returns the entry for id.
func (r *Result) WorkItem(id int) (WorkItemCommits, bool) {
	for _, wc := range r.WorkItems {
		if wc.WorkItem.ID == id {
			return wc, true
		}
	}
	return WorkItemCommits{}, false
}

// Affected returns the work items with at least one pending commit.
func (r *Result) Affected() []WorkItemCommits {
	var affected []WorkItemCommits
	for _, wc := range r.WorkItems {
		if len(wc.MentionedIn) > 0 {
			affected = append(affected, wc)
		}
	}
	return affected
}

// Entries returns the work item rows of a listing. Each row's Children are
// its pending commits.
func (r *Result) Entries() []models.Entry {
	entries := make([]models.Entry, 0, len(r.WorkItems))
	for _, wc := range r.WorkItems {
		entries = append(entries, models.WorkItemEntry(wc.WorkItem, wc.MentionedIn))
	}
	return entries
}

// PendingCommits returns the commits of local whose hash is not in remoteIDs,
// keeping the order of local.
func PendingCommits(local []models.Commit, remoteIDs []string) []models.Commit {
	known := make(map[string]struct{}, len(remoteIDs))
	for _, id := range remoteIDs {
		known[id] = struct{}{}
	}
	pending := make([]models.Commit, 0, len(local))
	for _, c := range local {
		if _, ok := known[c.Hash]; !ok {
			pending = append(pending, c)
		}
	}
	return pending
}

// Correlate groups commits by the work item their message references. Commits
// without a reference are left out.
func Correlate(commits []models.Commit) map[int][]models.Commit {
	byID := make(map[int][]models.Commit)
	for _, c := range commits {
		if id, ok := comment.ExtractWorkItemID(c.Message); ok {
			byID[id] = append(byID[id], c)
		}
	}
	return byID
}

// ResolveRepository finds the remote repository behind the local remote's
// fetch URL. It returns nil when the service has no repository with exactly
// that URL.
func ResolveRepository(ctx context.Context, repo vcs.Repository, svc tracker.Repositories) (*models.Repository, error) {
	remote, err := repo.Remote(ctx)
	if err != nil {
		return nil, err
	}
	if remote.FetchURL == "" {
		return nil, nil
	}
	return tracker.LookupRepository(ctx, svc, remote.FetchURL)
}

// Reconciler compares the local log with a remote branch.
type Reconciler struct {
	repo              vcs.Repository
	svc               tracker.Repositories
	developmentBranch string
	log               *slog.Logger
}

// New creates a Reconciler. developmentBranch is the remote fallback for
// branches unknown to the service.
func New(repo vcs.Repository, svc tracker.Repositories, developmentBranch string) *Reconciler {
	return &Reconciler{
		repo:              repo,
		svc:               svc,
		developmentBranch: developmentBranch,
		log:               logging.WithComponent("reconcile"),
	}
}

// Reconcile recomputes the pending commits of the current branch and attaches
// them to items. Nothing is cached between calls.
func (r *Reconciler) Reconcile(ctx context.Context, repoID string, items []models.WorkItem) (*Result, error) {
	branch, err := r.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	local, err := r.repo.Log(ctx, MaxLocalCommits)
	if err != nil {
		return nil, err
	}

	compared, err := r.remoteBranch(ctx, repoID, branch)
	if err != nil {
		return nil, err
	}

	pending := local
	if compared != "" {
		remoteIDs, err := r.svc.ListCommits(ctx, repoID, compared)
		if err != nil {
			return nil, err
		}
		pending = PendingCommits(local, remoteIDs)
	}

	byID := Correlate(pending)
	result := &Result{
		Branch:         branch,
		ComparedBranch: compared,
		Pending:        pending,
		WorkItems:      make([]WorkItemCommits, 0, len(items)),
	}
	for _, wi := range items {
		mentioned := byID[wi.ID]
		if mentioned == nil {
			mentioned = []models.Commit{}
		}
		result.WorkItems = append(result.WorkItems, WorkItemCommits{WorkItem: wi, MentionedIn: mentioned})
	}

	r.log.Debug("reconciled branch",
		"branch", branch,
		"compared_branch", compared,
		"local", len(local),
		"pending", len(pending),
		"work_items", len(items))
	return result, nil
}

// remoteBranch returns the remote name of branch when the service knows it,
// else that of the development branch, else "".
func (r *Reconciler) remoteBranch(ctx context.Context, repoID, branch string) (string, error) {
	candidates := []string{branch}
	if r.developmentBranch != "" && r.developmentBranch != branch {
		candidates = append(candidates, r.developmentBranch)
	}

	for _, name := range candidates {
		refs, err := r.svc.ListBranchRefs(ctx, repoID, name)
		if err != nil {
			return "", fmt.Errorf("failed to look up remote branch %s: %w", name, err)
		}
		if ref := tracker.FindBranchRef(refs, name); ref != nil {
			return strings.TrimPrefix(ref.Name, "refs/heads/"), nil
		}
		r.log.Debug("branch unknown to the remote", "branch", name)
	}
	return "", nil
}
