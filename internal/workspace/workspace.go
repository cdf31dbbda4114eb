// Package workspace holds the collaborators of one working tree and exposes
// the operations of the work item view: listing, reconciliation, check-in
// and change notifications.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielolaszy/workitems/internal/checkin"
	"github.com/danielolaszy/workitems/internal/comment"
	"github.com/danielolaszy/workitems/internal/config"
	"github.com/danielolaszy/workitems/internal/debounce"
	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/poller"
	"github.com/danielolaszy/workitems/internal/reconcile"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/internal/vcs"
	"github.com/danielolaszy/workitems/internal/watcher"
	"github.com/danielolaszy/workitems/pkg/models"
)

// ErrRepositoryNotFound is returned when no remote repository has the fetch
// URL of the local remote.
var ErrRepositoryNotFound = errors.New("remote repository not found")

// Option configures a Workspace.
type Option func(*Workspace)

// WithDebounceWindow overrides debounce.DefaultWindow.
func WithDebounceWindow(d time.Duration) Option {
	return func(w *Workspace) {
		w.debounceWindow = d
	}
}

// WithPollInterval overrides poller.DefaultInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Workspace) {
		w.pollInterval = d
	}
}

// WithCheckInOptions passes options to the check-in orchestrator.
func WithCheckInOptions(opts ...checkin.Option) Option {
	return func(w *Workspace) {
		w.checkinOpts = append(w.checkinOpts, opts...)
	}
}

// OnChange is called after a debounced refresh with the work items that have
// pending commits. It is not called when there are none.
func OnChange(fn func([]reconcile.WorkItemCommits)) Option {
	return func(w *Workspace) {
		w.onChange = fn
	}
}

// OnPullRequestCompleted is called when a polled pull request completed and
// the repository was fetched.
func OnPullRequestCompleted(fn func(id int)) Option {
	return func(w *Workspace) {
		w.onCompleted = fn
	}
}

// Workspace is the handle every operation goes through. It is built once per
// working tree and closed when the session ends.
type Workspace struct {
	cfg          config.WorkItemsConfig
	repo         vcs.Repository
	svc          tracker.Service
	reconciler   *reconcile.Reconciler
	orchestrator *checkin.Orchestrator
	pollers      *poller.Group
	debouncer    *debounce.Debouncer
	watcher      *watcher.Watcher

	debounceWindow time.Duration
	pollInterval   time.Duration
	checkinOpts    []checkin.Option
	onChange       func([]reconcile.WorkItemCommits)
	onCompleted    func(int)

	// ctx bounds background work: debounced refreshes and pollers
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	items  []models.WorkItem
	result *reconcile.Result

	log *slog.Logger
}

// New creates a Workspace for repo backed by svc.
func New(cfg config.WorkItemsConfig, repo vcs.Repository, svc tracker.Service, opts ...Option) *Workspace {
	w := &Workspace{
		cfg:            cfg,
		repo:           repo,
		svc:            svc,
		pollers:        poller.NewGroup(),
		debounceWindow: debounce.DefaultWindow,
		pollInterval:   poller.DefaultInterval,
		log:            logging.WithComponent("workspace"),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.reconciler = reconcile.New(repo, svc, cfg.DevelopmentBranch)
	checkinOpts := w.checkinOpts
	if gitDir, err := watcher.GitDir(repo.Root()); err == nil {
		checkinOpts = append([]checkin.Option{checkin.WithLockDir(gitDir)}, checkinOpts...)
	}
	w.orchestrator = checkin.New(repo, svc, w.reconciler, checkinOpts...)
	w.debouncer = debounce.New(w.debounceWindow, w.checkChanges)
	return w
}

// BuildQuery turns a filter into a work item query. A work_item/<id> branch
// pins the query to that id. Otherwise a numeric filter selects one id, other
// text searches titles, and an empty filter lists the most recent items.
func BuildQuery(cfg config.WorkItemsConfig, branch, filter string) tracker.Query {
	q := tracker.Query{SearchField: cfg.SearchLast, Count: cfg.Count}
	if id, ok := comment.BranchWorkItemID(branch); ok && id > 0 {
		q.WorkItemID = id
		return q
	}
	filter = strings.TrimSpace(filter)
	if id, err := strconv.Atoi(filter); err == nil && id > 0 {
		q.WorkItemID = id
		return q
	}
	q.Text = filter
	return q
}

// Refresh queries and hydrates the work items matching filter, then
// reconciles the current branch against them.
func (w *Workspace) Refresh(ctx context.Context, filter string) (*reconcile.Result, error) {
	branch, err := w.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	q := BuildQuery(w.cfg, branch, filter)
	w.log.Info("fetching work items",
		"branch", branch,
		"work_item_id", q.WorkItemID,
		"text", q.Text,
		"search_field", q.SearchField,
		"count", q.Count)

	ids, err := w.svc.QueryWorkItems(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	items, err := tracker.HydrateAll(ctx, w.svc, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch work items: %w", err)
	}

	w.mu.Lock()
	w.items = items
	w.mu.Unlock()

	return w.RefreshCommits(ctx)
}

// RefreshCommits reconciles the current branch against the last fetched work
// items.
func (w *Workspace) RefreshCommits(ctx context.Context) (*reconcile.Result, error) {
	repository, err := reconcile.ResolveRepository(ctx, w.repo, w.svc)
	if err != nil {
		return nil, err
	}
	if repository == nil {
		remote, _ := w.repo.Remote(ctx)
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, remote.FetchURL)
	}

	w.mu.Lock()
	items := append([]models.WorkItem(nil), w.items...)
	w.mu.Unlock()

	result, err := w.reconciler.Reconcile(ctx, repository.ID, items)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.result = result
	w.mu.Unlock()
	return result, nil
}

// NotifyChanged reports a change of the local repository. Bursts collapse
// into one RefreshCommits after the debounce window.
func (w *Workspace) NotifyChanged() {
	if w.debouncer.Trigger() {
		w.log.Debug("repository change scheduled a refresh", "window", w.debounceWindow)
	}
}

func (w *Workspace) checkChanges() {
	result, err := w.RefreshCommits(w.ctx)
	if err != nil {
		if w.ctx.Err() == nil {
			w.log.Warn("failed to refresh commits", "error", err)
		}
		return
	}
	affected := result.Affected()
	if len(affected) > 0 && w.onChange != nil {
		w.onChange(affected)
	}
}

// WorkItem returns a work item of the last refresh.
func (w *Workspace) WorkItem(id int) (models.WorkItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, wi := range w.items {
		if wi.ID == id {
			return wi, true
		}
	}
	return models.WorkItem{}, false
}

// Entries returns the listing rows of the last refresh.
func (w *Workspace) Entries() []models.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result != nil {
		return w.result.Entries()
	}
	entries := make([]models.Entry, 0, len(w.items))
	for _, wi := range w.items {
		entries = append(entries, models.WorkItemEntry(wi, []models.Commit{}))
	}
	return entries
}

// Mention annotates message with a reference to work item id.
func (w *Workspace) Mention(message string, id int) string {
	return comment.Mention(message, id)
}

// CheckoutWorkItemBranch switches to work_item/<id>, creating it from the
// development branch when it does not exist. It reports false when the branch
// is already checked out.
func (w *Workspace) CheckoutWorkItemBranch(ctx context.Context, id int) (bool, error) {
	name := comment.WorkItemBranchName(id)
	current, err := w.repo.CurrentBranch(ctx)
	if err != nil {
		return false, err
	}
	if current == name {
		return false, nil
	}

	exists, err := w.repo.BranchExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		if err := w.repo.Checkout(ctx, name); err != nil {
			return false, fmt.Errorf("failed to check out %s: %w", name, err)
		}
		return true, nil
	}
	if err := w.repo.CreateBranch(ctx, name, w.cfg.DevelopmentBranch, true); err != nil {
		return false, fmt.Errorf("failed to create %s from %s: %w", name, w.cfg.DevelopmentBranch, err)
	}
	return true, nil
}

// CheckIn checks in the pending commits of work item id. An active pull
// request is polled in the background until it leaves the active state or
// the workspace is closed.
func (w *Workspace) CheckIn(ctx context.Context, id int, report checkin.Reporter) (*models.PullRequest, error) {
	wi, ok := w.WorkItem(id)
	if !ok {
		items, err := w.svc.GetWorkItems(ctx, []int{id})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch work item %d: %w", id, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("work item %d not found", id)
		}
		wi = items[0]
	}

	pr, err := w.orchestrator.Run(ctx, wi, report)
	if err != nil {
		return nil, err
	}

	if pr.Status == models.PullRequestActive && pr.ID > 0 {
		p := poller.New(w.svc, w.repo, pr.RepositoryID, pr.ID,
			poller.WithInterval(w.pollInterval),
			poller.OnCompleted(w.pullRequestCompleted))
		w.pollers.Start(w.ctx, p)
	}
	return pr, nil
}

// Poller returns the poller of pull request id.
func (w *Workspace) Poller(id int) (*poller.Poller, bool) {
	return w.pollers.Get(id)
}

func (w *Workspace) pullRequestCompleted(id int) {
	w.log.Info("pull request completed", "pull_request_id", id)
	if w.onCompleted != nil {
		w.onCompleted(id)
	}
	w.NotifyChanged()
}

// Watch starts reporting repository changes to NotifyChanged. Close stops it.
func (w *Workspace) Watch(ctx context.Context) error {
	wt, err := watcher.New(w.repo.Root(), func(string) { w.NotifyChanged() })
	if err != nil {
		return fmt.Errorf("failed to watch repository: %w", err)
	}
	if err := wt.Start(ctx); err != nil {
		_ = wt.Close()
		return fmt.Errorf("failed to watch repository: %w", err)
	}

	w.mu.Lock()
	previous := w.watcher
	w.watcher = wt
	w.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// Close cancels pending refreshes, stops every poller and the watcher.
func (w *Workspace) Close() error {
	w.debouncer.Stop()
	w.cancel()
	w.pollers.CancelAll()

	w.mu.Lock()
	wt := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	if wt != nil {
		return wt.Close()
	}
	return nil
}
