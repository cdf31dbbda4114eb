// Package checkin replays the pending commits of a work item onto a temporary
// branch and opens a pull request for them.
package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/reconcile"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/internal/vcs"
	"github.com/danielolaszy/workitems/pkg/models"
)

// Reporter receives human readable progress lines.
type Reporter func(msg string)

// Orchestrator runs check-ins against one local repository and one remote
// service.
type Orchestrator struct {
	repo       vcs.Repository
	svc        tracker.Repositories
	reconciler *reconcile.Reconciler
	gate       *Gate
	lockDir    string
	now        func() time.Time
	observer   func(Session)
	log        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithGate shares a gate between orchestrators.
func WithGate(g *Gate) Option {
	return func(o *Orchestrator) {
		o.gate = g
	}
}

// WithLockDir also guards each work item with a lock file in dir, usually the
// git directory, so separate processes cannot check in the same item at once.
func WithLockDir(dir string) Option {
	return func(o *Orchestrator) {
		o.lockDir = dir
	}
}

// WithObserver is called with a copy of the session on every state change.
func WithObserver(fn func(Session)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// New creates an Orchestrator. reconciler must operate on the same repository
// and service.
func New(repo vcs.Repository, svc tracker.Repositories, reconciler *reconcile.Reconciler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		svc:        svc,
		reconciler: reconciler,
		gate:       NewGate(),
		now:        time.Now,
		log:        logging.WithComponent("checkin"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Gate returns the gate guarding concurrent check-ins.
func (o *Orchestrator) Gate() *Gate {
	return o.gate
}

// attempt is the mutable state of one Run.
type attempt struct {
	session       *Session
	item          models.WorkItem
	repoID        string
	remote        models.Remote
	original      string
	commits       []models.Commit
	remoteCreated bool
	localCreated  bool
	report        Reporter
}

// Run checks in the pending commits that mention item. It returns the
// created pull request, or an error describing the step that failed. Once the
// remote temp branch exists, a failure deletes it again. The working copy is
// always returned to the original branch and the local temp branch removed.
func (o *Orchestrator) Run(ctx context.Context, item models.WorkItem, report Reporter) (*models.PullRequest, error) {
	session := newSession(item.ID, o.now())
	if err := o.gate.Acquire(session); err != nil {
		return nil, err
	}
	defer o.gate.Release(session)
	if o.lockDir != "" {
		release, err := acquireLockFile(o.lockDir, session)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	a := &attempt{session: session, item: item}
	a.report = o.reporter(session, report)

	if err := o.prepare(ctx, a); err != nil {
		o.enter(session, StateFailed)
		return nil, err
	}

	pr, err := o.execute(ctx, a)

	// Compensation and cleanup must run even when ctx is done.
	cleanupCtx := context.WithoutCancel(ctx)
	if err != nil && a.remoteCreated {
		err = o.rollback(cleanupCtx, a, err)
	}
	o.cleanup(cleanupCtx, a)

	if err != nil {
		o.enter(session, StateFailed)
		o.log.Error("check-in failed",
			"session_id", session.ID,
			"work_item_id", item.ID,
			"temp_branch", session.TempBranch,
			"error", err)
		return nil, err
	}

	o.enter(session, StateCompleted)
	o.log.Info("check-in completed",
		"session_id", session.ID,
		"work_item_id", item.ID,
		"pull_request_id", pr.ID,
		"status", pr.Status)
	return pr, nil
}

// prepare validates the preconditions, pulls, and computes the replay list.
// Nothing it does needs compensation.
func (o *Orchestrator) prepare(ctx context.Context, a *attempt) error {
	o.enter(a.session, StateValidatePreconditions)
	if o.repo == nil {
		return &PreconditionError{Reason: "no repository is open"}
	}

	remote, err := o.repo.Remote(ctx)
	if err != nil {
		return &PreconditionError{Reason: "cannot identify remote", Err: err}
	}
	if remote.Name == "" || remote.FetchURL == "" {
		return &PreconditionError{Reason: "cannot identify remote"}
	}
	a.remote = remote

	a.report("finding remote " + remote.FetchURL)
	repository, err := tracker.LookupRepository(ctx, o.svc, remote.FetchURL)
	if err != nil {
		return &PreconditionError{Reason: "cannot look up remote repository " + remote.Name, Err: err}
	}
	if repository == nil {
		return &PreconditionError{Reason: "cannot find remote repository " + remote.Name}
	}
	a.repoID = repository.ID

	original, err := o.repo.CurrentBranch(ctx)
	if err != nil {
		return &PreconditionError{Reason: "cannot determine current branch", Err: err}
	}
	a.original = original

	o.enter(a.session, StatePullRemote)
	a.report("pull from " + remote.Name)
	if err := o.repo.Pull(ctx); err != nil {
		return fmt.Errorf("failed to pull from %s: %w", remote.Name, err)
	}

	o.enter(a.session, StateReconcile)
	result, err := o.reconciler.Reconcile(ctx, a.repoID, []models.WorkItem{a.item})
	if err != nil {
		return fmt.Errorf("failed to reconcile commits: %w", err)
	}

	commits := SortForReplay(result.MentionedIn(a.item.ID))
	if len(commits) == 0 {
		a.report("nothing to check in")
		return &NoPendingChangesError{WorkItemID: a.item.ID}
	}
	a.commits = commits
	a.session.TempBranch = TempBranchName(a.original, a.item.ID, a.session.CreatedAt)
	return nil
}

// execute runs the steps from remote branch creation to auto-complete.
func (o *Orchestrator) execute(ctx context.Context, a *attempt) (*models.PullRequest, error) {
	tempBranch := a.session.TempBranch

	o.enter(a.session, StateCreateRemoteTempBranch)
	a.report("create temp branch: " + tempBranch)
	if _, err := o.svc.CreateBranch(ctx, a.repoID, a.original, tempBranch); err != nil {
		return nil, fmt.Errorf("failed to create remote temp branch: %w", err)
	}
	a.remoteCreated = true

	o.enter(a.session, StateCheckoutTempBranch)
	a.report("fetch from " + a.remote.Name)
	if err := o.repo.Fetch(ctx, false); err != nil {
		return nil, fmt.Errorf("failed to fetch temp branch: %w", err)
	}
	if err := o.repo.CheckoutTracking(ctx, tempBranch, a.remote.Name); err != nil {
		return nil, fmt.Errorf("failed to check out temp branch: %w", err)
	}
	a.localCreated = true

	o.enter(a.session, StateCherryPick)
	commitIDs := make([]string, 0, len(a.commits))
	for _, c := range a.commits {
		a.report(fmt.Sprintf("cherry-pick %s", c.ShortHash(7)))
		if err := o.repo.CherryPick(ctx, c.Hash); err != nil {
			return nil, fmt.Errorf("failed to cherry-pick %s: %w", c.Hash, err)
		}
		commitIDs = append(commitIDs, c.Hash)
	}

	o.enter(a.session, StatePushTempBranch)
	a.report("publish temp branch: " + tempBranch)
	if err := o.repo.Push(ctx, a.remote.Name, tempBranch); err != nil {
		return nil, fmt.Errorf("failed to push temp branch: %w", err)
	}
	if err := o.repo.Checkout(ctx, a.original); err != nil {
		return nil, fmt.Errorf("failed to check out %s: %w", a.original, err)
	}

	o.enter(a.session, StateCreatePullRequest)
	a.report("create pull request")
	pr, err := o.svc.CreatePullRequest(ctx, a.repoID, models.PullRequestRequest{
		SourceBranch: tempBranch,
		TargetBranch: a.original,
		Title:        "Check in request for " + a.item.Title,
		WorkItems:    []models.WorkItem{a.item},
		CommitIDs:    commitIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	if pr.Status == models.PullRequestActive && pr.ID > 0 {
		o.enter(a.session, StateEnableAutoComplete)
		a.report(fmt.Sprintf("enable auto-complete for pull request %d", pr.ID))
		opts := models.AutoCompleteOptions{DeleteSourceBranch: true, BypassPolicy: false}
		if err := o.svc.EnableAutoComplete(ctx, a.repoID, pr, opts); err != nil {
			return nil, fmt.Errorf("failed to enable auto-complete: %w", err)
		}
	}
	return pr, nil
}

// rollback deletes the remote temp branch. cause is always surfaced.
func (o *Orchestrator) rollback(ctx context.Context, a *attempt, cause error) error {
	o.enter(a.session, StateRollback)
	a.report("delete remote temp branch " + a.session.TempBranch)
	if err := o.svc.DeleteBranch(ctx, a.repoID, a.session.TempBranch); err != nil {
		o.log.Error("failed to delete remote temp branch",
			"temp_branch", a.session.TempBranch,
			"error", err)
		return &RollbackError{Branch: a.session.TempBranch, Cause: cause, Rollback: err}
	}
	return cause
}

// cleanup returns to the original branch and drops the local temp branch.
// Failures are reported but never replace the outcome of the run.
func (o *Orchestrator) cleanup(ctx context.Context, a *attempt) {
	current, err := o.repo.CurrentBranch(ctx)
	if err != nil || current != a.original {
		if err := o.repo.Checkout(ctx, a.original); err != nil {
			a.report("failed to check out " + a.original)
			o.log.Warn("failed to return to original branch",
				"branch", a.original,
				"error", err)
		}
	}

	if a.localCreated {
		a.report("delete temp branch: " + a.session.TempBranch)
		if err := o.repo.DeleteBranch(ctx, a.session.TempBranch, true); err != nil {
			o.log.Warn("failed to delete local temp branch",
				"temp_branch", a.session.TempBranch,
				"error", err)
		}
	}
}

func (o *Orchestrator) enter(s *Session, state State) {
	s.State = state
	o.log.Debug("check-in state",
		"session_id", s.ID,
		"work_item_id", s.WorkItemID,
		"state", state.String())
	if o.observer != nil {
		o.observer(*s)
	}
}

func (o *Orchestrator) reporter(s *Session, report Reporter) Reporter {
	return func(msg string) {
		o.log.Info(msg, "session_id", s.ID, "work_item_id", s.WorkItemID)
		if report != nil {
			report(msg)
		}
	}
}

// SortForReplay returns commits ordered by ascending author time. Commits with
// equal timestamps keep their relative order.
func SortForReplay(commits []models.Commit) []models.Commit {
	sorted := append([]models.Commit(nil), commits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AuthorTime.Before(sorted[j].AuthorTime)
	})
	return sorted
}
