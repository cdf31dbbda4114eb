// Package vcs provides access to the local git repository the check-in
// workflow operates on.
package vcs

import (
	"context"
	"fmt"

	"github.com/danielolaszy/workitems/pkg/models"
)

// Repository is the set of local source control operations the check-in
// workflow needs.
type Repository interface {
	// Root returns the working tree root.
	Root() string
	// CurrentBranch returns the checked out branch, or an error on a detached HEAD.
	CurrentBranch(ctx context.Context) (string, error)
	// HeadCommit returns the object id HEAD points to.
	HeadCommit(ctx context.Context) (string, error)
	// Log returns at most max commits reachable from HEAD, newest first.
	Log(ctx context.Context, max int) ([]models.Commit, error)
	// Remote returns the first configured remote.
	Remote(ctx context.Context) (models.Remote, error)
	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// CreateBranch creates name at startPoint, optionally checking it out.
	CreateBranch(ctx context.Context, name, startPoint string, checkout bool) error
	// Checkout switches to an existing local branch.
	Checkout(ctx context.Context, name string) error
	// CheckoutTracking creates and checks out a local branch tracking remote/name.
	CheckoutTracking(ctx context.Context, name, remote string) error
	// DeleteBranch deletes a local branch.
	DeleteBranch(ctx context.Context, name string, force bool) error
	// CherryPick applies a single commit onto the current branch.
	CherryPick(ctx context.Context, hash string) error
	// Push publishes branch to remote.
	Push(ctx context.Context, remote, branch string) error
	// Pull integrates the upstream of the current branch.
	Pull(ctx context.Context) error
	// Fetch updates remote-tracking refs, optionally pruning deleted branches.
	Fetch(ctx context.Context, prune bool) error
}

// OperationError reports a failed local repository operation.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("local vcs operation %q failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Err: err}
}
