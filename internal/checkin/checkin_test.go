package checkin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/workitems/internal/reconcile"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/internal/tracker/trackertest"
	"github.com/danielolaszy/workitems/internal/vcs"
	"github.com/danielolaszy/workitems/internal/vcs/vcstest"
	"github.com/danielolaszy/workitems/pkg/models"
)

const remoteURL = "https://dev.azure.com/org/project/_git/repo"

var (
	fixedNow   = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	tempBranch = "tmp/_tmp_feature/x_42_05.03.2024-14.07.09"
	loginItem  = models.WorkItem{ID: 42, Title: "Login fails"}
)

type fixture struct {
	repo    *vcstest.Repository
	svc     *trackertest.Service
	orch    *Orchestrator
	journal []string
	states  []State
}

// newFixture puts feature/x three commits ahead of the remote. Commits 1 and
// 3 mention work item 42.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	hour := func(h int) time.Time { return fixedNow.Add(time.Duration(h-10) * time.Hour) }
	f := &fixture{
		repo: vcstest.New("feature/x", remoteURL,
			models.Commit{Hash: "c3", Message: "polish #42", AuthorTime: hour(3)},
			models.Commit{Hash: "c2", Message: "refactor", AuthorTime: hour(2)},
			models.Commit{Hash: "c1", Message: "fix #42", AuthorTime: hour(1)},
			models.Commit{Hash: "base", Message: "initial", AuthorTime: hour(0)},
		),
		svc: trackertest.New("repo-id", remoteURL, map[string][]string{
			"feature/x":   {"base"},
			"development": {"base"},
		}),
	}
	f.repo.Journal = func(s string) { f.journal = append(f.journal, s) }
	f.svc.Journal = func(s string) { f.journal = append(f.journal, s) }

	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithObserver(func(s Session) { f.states = append(f.states, s.State) }),
	}, opts...)
	f.orch = New(f.repo, f.svc, reconcile.New(f.repo, f.svc, "development"), opts...)
	return f
}

func indexOf(t *testing.T, journal []string, entry string) int {
	t.Helper()
	for i, e := range journal {
		if e == entry {
			return i
		}
	}
	t.Fatalf("journal has no entry %q: %v", entry, journal)
	return -1
}

func TestTempBranchName(t *testing.T) {
	testCases := []struct {
		name     string
		current  string
		id       int
		ts       time.Time
		expected string
	}{
		{
			name:     "Zero padded fields",
			current:  "feature/x",
			id:       42,
			ts:       time.Date(2024, 3, 5, 4, 7, 9, 0, time.UTC),
			expected: "tmp/_tmp_feature/x_42_05.03.2024-04.07.09",
		},
		{
			name:     "Two digit fields",
			current:  "main",
			id:       7,
			ts:       time.Date(2023, 12, 31, 23, 59, 58, 0, time.UTC),
			expected: "tmp/_tmp_main_7_31.12.2023-23.59.58",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, TempBranchName(tc.current, tc.id, tc.ts))
		})
	}
}

func TestTempBranchNamesAreUnique(t *testing.T) {
	ts := time.Date(2024, 3, 5, 4, 7, 9, 0, time.UTC)
	names := []string{
		TempBranchName("main", 1, ts),
		TempBranchName("main", 2, ts),
		TempBranchName("main", 12, ts),
		TempBranchName("dev", 1, ts),
		TempBranchName("main", 1, ts.Add(time.Second)),
		TempBranchName("main", 1, ts.Add(time.Minute)),
		TempBranchName("main", 1, ts.Add(time.Hour)),
		TempBranchName("main", 1, ts.AddDate(0, 0, 1)),
		TempBranchName("main", 1, ts.AddDate(0, 1, 0)),
		TempBranchName("main", 1, ts.AddDate(1, 0, 0)),
	}

	seen := make(map[string]bool)
	for _, name := range names {
		assert.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "cherry_pick", StateCherryPick.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "State(99)", State(99).String())
}

func TestSortForReplay(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	commits := []models.Commit{
		{Hash: "late", AuthorTime: t0.Add(2 * time.Hour)},
		{Hash: "tie-a", AuthorTime: t0.Add(time.Hour)},
		{Hash: "early", AuthorTime: t0},
		{Hash: "tie-b", AuthorTime: t0.Add(time.Hour)},
	}

	sorted := SortForReplay(commits)
	var got []string
	for _, c := range sorted {
		got = append(got, c.Hash)
	}
	assert.Equal(t, []string{"early", "tie-a", "tie-b", "late"}, got)
	assert.Equal(t, "late", commits[0].Hash, "input is left untouched")
}

func TestRunChecksInWorkItem(t *testing.T) {
	f := newFixture(t)
	var progress []string

	pr, err := f.orch.Run(context.Background(), loginItem, func(msg string) { progress = append(progress, msg) })
	require.NoError(t, err)

	// Pull request
	assert.Equal(t, 101, pr.ID)
	assert.Equal(t, models.PullRequestActive, pr.Status)
	assert.True(t, pr.AutoComplete)
	require.Len(t, f.svc.PullRequests, 1)
	req := f.svc.PullRequests[0]
	assert.Equal(t, tempBranch, req.SourceBranch)
	assert.Equal(t, "feature/x", req.TargetBranch)
	assert.Equal(t, "Check in request for Login fails", req.Title)
	assert.Equal(t, []models.WorkItem{loginItem}, req.WorkItems)
	assert.Equal(t, []string{"c1", "c3"}, req.CommitIDs)

	// Auto-complete
	assert.Equal(t, []int{101}, f.svc.AutoCompleted)
	assert.Equal(t, []models.AutoCompleteOptions{{DeleteSourceBranch: true, BypassPolicy: false}}, f.svc.AutoOptions)

	// Local repository
	calls, picked := f.repo.Snapshot()
	assert.Equal(t, []string{"c1", "c3"}, picked)
	assert.Equal(t, []string{
		"pull",
		"log",
		"fetch",
		"checkout tracking origin/" + tempBranch,
		"cherry-pick c1",
		"cherry-pick c3",
		"push origin " + tempBranch,
		"checkout feature/x",
		"delete branch " + tempBranch + " force=true",
	}, calls)
	assert.Equal(t, "feature/x", f.repo.CurrentBranchName())
	assert.False(t, f.repo.HasBranch(tempBranch))

	// The remote temp branch stays for the pull request
	assert.True(t, f.svc.HasRef(tempBranch))

	assert.Equal(t, []State{
		StateValidatePreconditions,
		StatePullRemote,
		StateReconcile,
		StateCreateRemoteTempBranch,
		StateCheckoutTempBranch,
		StateCherryPick,
		StatePushTempBranch,
		StateCreatePullRequest,
		StateEnableAutoComplete,
		StateCompleted,
	}, f.states)

	assert.Contains(t, progress, "create temp branch: "+tempBranch)
	assert.Contains(t, progress, "publish temp branch: "+tempBranch)
	assert.False(t, f.orch.Gate().InFlight(42))
}

func TestRunCreatesRemoteBranchBeforeLocalMutation(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), loginItem, nil)
	require.NoError(t, err)

	created := indexOf(t, f.journal, "svc: create branch "+tempBranch)
	assert.Less(t, indexOf(t, f.journal, "vcs: pull"), indexOf(t, f.journal, "vcs: log"))
	assert.Less(t, indexOf(t, f.journal, "vcs: log"), created)
	assert.Less(t, created, indexOf(t, f.journal, "vcs: fetch"))
	assert.Less(t, indexOf(t, f.journal, "vcs: fetch"), indexOf(t, f.journal, "vcs: checkout tracking origin/"+tempBranch))
	assert.Less(t, indexOf(t, f.journal, "vcs: push origin "+tempBranch), indexOf(t, f.journal, "vcs: checkout feature/x"))
	assert.Less(t, indexOf(t, f.journal, "vcs: checkout feature/x"), indexOf(t, f.journal, "svc: create pull request "+tempBranch+" -> feature/x"))
	assert.Less(t, indexOf(t, f.journal, "svc: create pull request "+tempBranch+" -> feature/x"), indexOf(t, f.journal, "svc: enable auto-complete 101"))
}

func TestRunNothingToCheckIn(t *testing.T) {
	f := newFixture(t)

	pr, err := f.orch.Run(context.Background(), models.WorkItem{ID: 7, Title: "Unrelated"}, nil)
	assert.Nil(t, pr)
	var noChanges *NoPendingChangesError
	require.ErrorAs(t, err, &noChanges)
	assert.Equal(t, 7, noChanges.WorkItemID)

	assert.False(t, f.svc.HasRef(TempBranchName("feature/x", 7, fixedNow)))
	for _, call := range f.svc.Snapshot() {
		assert.NotContains(t, call, "create branch")
	}
	calls, _ := f.repo.Snapshot()
	assert.Equal(t, []string{"pull", "log"}, calls)
	assert.Equal(t, StateFailed, f.states[len(f.states)-1])
}

func TestRunPreconditions(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(f *fixture)
		reason string
	}{
		{
			name:   "No remotes",
			mutate: func(f *fixture) { f.repo.Remotes = nil },
			reason: "cannot identify remote",
		},
		{
			name:   "Remote without fetch URL",
			mutate: func(f *fixture) { f.repo.Remotes = []models.Remote{{Name: "origin"}} },
			reason: "cannot identify remote",
		},
		{
			name:   "Remote unknown to the service",
			mutate: func(f *fixture) { f.repo.Remotes[0].FetchURL = "https://example.test/other.git" },
			reason: "cannot find remote repository origin",
		},
		{
			name:   "Repository lookup fails",
			mutate: func(f *fixture) { f.svc.SetFail("list repositories", errors.New("401")) },
			reason: "cannot look up remote repository origin",
		},
		{
			name:   "Detached HEAD",
			mutate: func(f *fixture) { f.repo.Branch = "" },
			reason: "cannot determine current branch",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.mutate(f)

			_, err := f.orch.Run(context.Background(), loginItem, nil)
			var precondition *PreconditionError
			require.ErrorAs(t, err, &precondition)
			assert.Equal(t, tc.reason, precondition.Reason)

			calls, _ := f.repo.Snapshot()
			assert.Empty(t, calls, "no local side effects")
			for _, call := range f.svc.Snapshot() {
				assert.Equal(t, "list repositories", call)
			}
		})
	}
}

func TestRunWithoutRepository(t *testing.T) {
	svc := trackertest.New("repo-id", remoteURL, nil)
	orch := New(nil, svc, reconcile.New(nil, svc, "development"))

	_, err := orch.Run(context.Background(), loginItem, nil)
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, "no repository is open", precondition.Reason)
	assert.Empty(t, svc.Snapshot())
}

func TestRunPullFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.repo.SetFail("pull", errors.New("merge conflict"))

	_, err := f.orch.Run(context.Background(), loginItem, nil)
	var opErr *vcs.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "pull", opErr.Op)
	assert.NotContains(t, f.svc.Snapshot(), "create branch "+tempBranch)
}

func TestRunCherryPickFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.repo.SetFail("cherry-pick c3", errors.New("conflict in main.go"))

	pr, err := f.orch.Run(context.Background(), loginItem, nil)
	assert.Nil(t, pr)

	var opErr *vcs.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "cherry-pick c3", opErr.Op)
	assert.Contains(t, err.Error(), "conflict in main.go")

	// Remote temp branch deleted
	assert.False(t, f.svc.HasRef(tempBranch))
	assert.Contains(t, f.svc.Snapshot(), "delete branch "+tempBranch)
	assert.Empty(t, f.svc.PullRequests)

	// Working copy back on the original branch, temp branch gone
	assert.Equal(t, "feature/x", f.repo.CurrentBranchName())
	assert.False(t, f.repo.HasBranch(tempBranch))
	_, picked := f.repo.Snapshot()
	assert.Equal(t, []string{"c1"}, picked)

	// Rollback runs before local cleanup
	assert.Less(t, indexOf(t, f.journal, "svc: delete branch "+tempBranch), indexOf(t, f.journal, "vcs: checkout feature/x"))
	assert.Less(t, indexOf(t, f.journal, "vcs: checkout feature/x"), indexOf(t, f.journal, "vcs: delete branch "+tempBranch+" force=true"))

	assert.Equal(t, []State{StateCherryPick, StateRollback, StateFailed}, f.states[len(f.states)-3:])
}

func TestRunRollbackFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.repo.SetFail("push", errors.New("rejected"))
	f.svc.SetFail("delete branch", errors.New("403"))

	_, err := f.orch.Run(context.Background(), loginItem, nil)

	var rollbackErr *RollbackError
	require.ErrorAs(t, err, &rollbackErr)
	assert.Equal(t, tempBranch, rollbackErr.Branch)

	var localErr *vcs.OperationError
	require.ErrorAs(t, err, &localErr)
	assert.Equal(t, "push", localErr.Op)

	var remoteErr *tracker.OperationError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "delete branch", remoteErr.Op)

	// Local cleanup still happens
	assert.Equal(t, "feature/x", f.repo.CurrentBranchName())
	assert.False(t, f.repo.HasBranch(tempBranch))
}

func TestRunRemoteBranchFailureSkipsRollback(t *testing.T) {
	f := newFixture(t)
	f.svc.SetFail("create branch", errors.New("TF401027"))

	_, err := f.orch.Run(context.Background(), loginItem, nil)
	var remoteErr *tracker.OperationError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "create branch", remoteErr.Op)

	for _, call := range f.svc.Snapshot() {
		assert.NotContains(t, call, "delete branch")
	}
	calls, _ := f.repo.Snapshot()
	assert.Equal(t, []string{"pull", "log"}, calls)
}

func TestRunPullRequestFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.svc.SetFail("create pull request", errors.New("TF401179"))

	_, err := f.orch.Run(context.Background(), loginItem, nil)
	var remoteErr *tracker.OperationError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "create pull request", remoteErr.Op)
	assert.False(t, f.svc.HasRef(tempBranch))
	assert.Equal(t, "feature/x", f.repo.CurrentBranchName())
	assert.False(t, f.repo.HasBranch(tempBranch))
}

func TestRunAutoCompleteOnlyForActivePullRequests(t *testing.T) {
	testCases := []struct {
		name   string
		status models.PullRequestStatus
	}{
		{name: "Completed on creation", status: models.PullRequestCompleted},
		{name: "Unknown status", status: models.PullRequestNotSet},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.CreatedStatus = tc.status

			pr, err := f.orch.Run(context.Background(), loginItem, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.status, pr.Status)
			assert.False(t, pr.AutoComplete)
			assert.Empty(t, f.svc.AutoCompleted)
			assert.NotContains(t, f.states, StateEnableAutoComplete)
		})
	}
}

func TestRunReturnsToOriginalBranchWhenCheckoutBackFails(t *testing.T) {
	f := newFixture(t)
	f.repo.SetFail("checkout feature/x", errors.New("local changes would be overwritten"))

	_, err := f.orch.Run(context.Background(), loginItem, nil)
	var opErr *vcs.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "checkout feature/x", opErr.Op)
	assert.False(t, f.svc.HasRef(tempBranch))

	// Cleanup could not leave the temp branch, so it is still checked out
	// and git refuses to delete it. The original error is kept.
	assert.Equal(t, tempBranch, f.repo.CurrentBranchName())
	assert.Contains(t, err.Error(), "local changes would be overwritten")
}

func TestRunCleanupSurvivesCanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.repo.Journal = func(s string) {
		if s == "vcs: cherry-pick c3" {
			cancel()
		}
	}
	f.repo.SetFail("cherry-pick c3", context.Canceled)

	_, err := f.orch.Run(ctx, loginItem, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.svc.HasRef(tempBranch))
	assert.Equal(t, "feature/x", f.repo.CurrentBranchName())
}

func TestGate(t *testing.T) {
	g := NewGate()
	first := newSession(42, fixedNow)
	second := newSession(42, fixedNow)
	other := newSession(7, fixedNow)

	require.NoError(t, g.Acquire(first))
	assert.True(t, g.InFlight(42))
	assert.ErrorIs(t, g.Acquire(second), ErrCheckInInProgress)
	assert.NoError(t, g.Acquire(other))

	// A rejected session cannot release the holder
	g.Release(second)
	assert.True(t, g.InFlight(42))

	g.Release(first)
	assert.False(t, g.InFlight(42))
	assert.NoError(t, g.Acquire(second))
}

func TestRunRejectsOverlappingCheckIn(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.repo.Journal = func(s string) {
		if s == "vcs: pull" {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), loginItem, nil)
		done <- err
	}()
	<-entered

	_, err := f.orch.Run(context.Background(), loginItem, nil)
	assert.ErrorIs(t, err, ErrCheckInInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.orch.Gate().InFlight(42))
}

func TestRunLockFileGuardsOtherProcesses(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, LockFileName(42))
	require.NoError(t, os.WriteFile(lock, []byte("pid 1\n"), 0o644))

	// separate gates stand in for separate processes
	f := newFixture(t, WithLockDir(dir), WithGate(NewGate()))
	_, err := f.orch.Run(context.Background(), loginItem, nil)
	assert.ErrorIs(t, err, ErrCheckInInProgress)
	assert.Contains(t, err.Error(), lock)
	assert.Empty(t, f.journal, "nothing runs while another process holds the lock")
	assert.False(t, f.orch.Gate().InFlight(42))

	require.NoError(t, os.Remove(lock))
	var lockedDuringRun bool
	f.repo.Journal = func(s string) {
		if s == "vcs: pull" {
			_, statErr := os.Stat(lock)
			lockedDuringRun = statErr == nil
		}
	}
	_, err = f.orch.Run(context.Background(), loginItem, nil)
	require.NoError(t, err)
	assert.True(t, lockedDuringRun)
	assert.NoFileExists(t, lock)
}

func TestRunLockFileReleasedOnFailure(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, WithLockDir(dir))
	f.repo.SetFail("cherry-pick", errors.New("conflict"))

	_, err := f.orch.Run(context.Background(), loginItem, nil)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, LockFileName(42)))
}

func TestRunLockFileIsPerWorkItem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName(7)), nil, 0o644))

	f := newFixture(t, WithLockDir(dir))
	_, err := f.orch.Run(context.Background(), loginItem, nil)
	assert.NoError(t, err)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "nothing to check in for work item 42", (&NoPendingChangesError{WorkItemID: 42}).Error())
	assert.Equal(t, "check-in precondition failed: no repository is open", (&PreconditionError{Reason: "no repository is open"}).Error())

	cause := errors.New("push rejected")
	rb := &RollbackError{Branch: "tmp/x", Cause: cause, Rollback: errors.New("403")}
	assert.Equal(t, "push rejected (rollback of remote branch tmp/x failed: 403)", rb.Error())
	assert.ErrorIs(t, rb, cause)
}
