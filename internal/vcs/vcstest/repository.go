// Package vcstest provides an in-memory vcs.Repository for tests.
package vcstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danielolaszy/workitems/internal/vcs"
	"github.com/danielolaszy/workitems/pkg/models"
)

// Repository is an in-memory vcs.Repository. Operations named in Fail return
// the configured error wrapped as a *vcs.OperationError. Cherry-picks can also
// fail per commit with the key "cherry-pick <hash>".
type Repository struct {
	mu sync.Mutex

	RootDir  string
	Branch   string
	Commits  []models.Commit
	Remotes  []models.Remote
	Branches map[string]bool
	Fail     map[string]error

	// Picked holds the cherry-picked hashes in order.
	Picked []string
	// Calls holds every operation in order, e.g. "checkout main".
	Calls []string
	// Journal, when set, receives every call as it happens.
	Journal func(string)
}

// New returns a repository on branch with the given log (newest first) and
// an "origin" remote at url.
func New(branch, url string, commits ...models.Commit) *Repository {
	return &Repository{
		RootDir:  "/work/repo",
		Branch:   branch,
		Commits:  commits,
		Remotes:  []models.Remote{{Name: "origin", FetchURL: url}},
		Branches: map[string]bool{branch: true},
		Fail:     map[string]error{},
	}
}

func (r *Repository) record(op string, keys ...string) error {
	r.Calls = append(r.Calls, op)
	if r.Journal != nil {
		r.Journal("vcs: " + op)
	}
	for _, key := range keys {
		if err, ok := r.Fail[key]; ok {
			return &vcs.OperationError{Op: key, Err: err}
		}
	}
	return nil
}

// SetFail makes op fail with err.
func (r *Repository) SetFail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail[op] = err
}

// CurrentBranch returns the checked out branch.
func (r *Repository) CurrentBranch(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail["head"]; err != nil {
		return "", &vcs.OperationError{Op: "head", Err: err}
	}
	if r.Branch == "" {
		return "", &vcs.OperationError{Op: "head", Err: errors.New("HEAD is detached (not on a branch)")}
	}
	return r.Branch, nil
}

// Snapshot returns a copy of the recorded calls and picks.
func (r *Repository) Snapshot() (calls, picked []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Calls...), append([]string(nil), r.Picked...)
}

// CurrentBranchName returns the checked out branch without error handling.
func (r *Repository) CurrentBranchName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Branch
}

// HasBranch reports whether a local branch exists.
func (r *Repository) HasBranch(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Branches[name]
}

// Root returns RootDir.
func (r *Repository) Root() string {
	return r.RootDir
}

// HeadCommit returns the newest commit of the log.
func (r *Repository) HeadCommit(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Commits) == 0 {
		return "", &vcs.OperationError{Op: "head", Err: errors.New("no commits")}
	}
	return r.Commits[0].Hash, nil
}

// Log returns at most max commits of the log.
func (r *Repository) Log(_ context.Context, max int) ([]models.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("log", "log"); err != nil {
		return nil, err
	}
	n := len(r.Commits)
	if n > max {
		n = max
	}
	return append([]models.Commit(nil), r.Commits[:n]...), nil
}

// Remote returns the first remote.
func (r *Repository) Remote(_ context.Context) (models.Remote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail["remote"]; err != nil {
		return models.Remote{}, &vcs.OperationError{Op: "remote", Err: err}
	}
	if len(r.Remotes) == 0 {
		return models.Remote{}, &vcs.OperationError{Op: "remote", Err: errors.New("repository has no remotes")}
	}
	return r.Remotes[0], nil
}

// BranchExists reports whether a local branch exists.
func (r *Repository) BranchExists(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Branches[name], nil
}

// CreateBranch adds a local branch, optionally checking it out.
func (r *Repository) CreateBranch(_ context.Context, name, startPoint string, checkout bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(fmt.Sprintf("create branch %s from %s", name, startPoint), "create branch"); err != nil {
		return err
	}
	r.Branches[name] = true
	if checkout {
		r.Branch = name
	}
	return nil
}

// Checkout switches to an existing branch.
func (r *Repository) Checkout(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("checkout "+name, "checkout", "checkout "+name); err != nil {
		return err
	}
	if !r.Branches[name] {
		return &vcs.OperationError{Op: "checkout", Err: fmt.Errorf("pathspec %q did not match", name)}
	}
	r.Branch = name
	return nil
}

// CheckoutTracking creates and checks out name.
func (r *Repository) CheckoutTracking(_ context.Context, name, remote string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("checkout tracking "+remote+"/"+name, "checkout tracking"); err != nil {
		return err
	}
	r.Branches[name] = true
	r.Branch = name
	return nil
}

// DeleteBranch removes a local branch other than the current one.
func (r *Repository) DeleteBranch(_ context.Context, name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(fmt.Sprintf("delete branch %s force=%t", name, force), "delete branch"); err != nil {
		return err
	}
	if r.Branch == name {
		return &vcs.OperationError{Op: "delete branch", Err: fmt.Errorf("cannot delete branch %q checked out", name)}
	}
	delete(r.Branches, name)
	return nil
}

// CherryPick records hash as applied.
func (r *Repository) CherryPick(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("cherry-pick "+hash, "cherry-pick", "cherry-pick "+hash); err != nil {
		return err
	}
	r.Picked = append(r.Picked, hash)
	return nil
}

// Push records the push.
func (r *Repository) Push(_ context.Context, remote, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("push "+remote+" "+branch, "push")
}

// Pull records the pull.
func (r *Repository) Pull(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("pull", "pull")
}

// Fetch records the fetch.
func (r *Repository) Fetch(_ context.Context, prune bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prune {
		return r.record("fetch --prune", "fetch --prune", "fetch")
	}
	return r.record("fetch", "fetch")
}

var _ vcs.Repository = (*Repository)(nil)
