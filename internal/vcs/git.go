package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	pexec "github.com/danielolaszy/workitems/internal/exec"
	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/pkg/models"
)

// DefaultRemote is preferred when a repository has several remotes.
const DefaultRemote = "origin"

// GitRepository reads repository state through go-git and runs mutating
// operations through the git CLI, since go-git cannot cherry-pick or pull
// with a merge.
type GitRepository struct {
	root     string
	repo     *git.Repository
	executor pexec.CommandExecutor
	log      *slog.Logger
}

// Open opens the repository containing path using the real git binary.
func Open(path string) (*GitRepository, error) {
	return OpenWithExecutor(path, pexec.NewRealExecutor())
}

// OpenWithExecutor opens the repository containing path with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func OpenWithExecutor(path string, executor pexec.CommandExecutor) (*GitRepository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree at %s: %w", path, err)
	}

	return &GitRepository{
		root:     wt.Filesystem.Root(),
		repo:     repo,
		executor: executor,
		log:      logging.WithComponent("vcs"),
	}, nil
}

// Root returns the working tree root.
func (r *GitRepository) Root() string {
	return r.root
}

// CurrentBranch returns the short name of the checked out branch.
func (r *GitRepository) CurrentBranch(_ context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", opError("head", err)
	}
	if !head.Name().IsBranch() {
		return "", opError("head", errors.New("HEAD is detached (not on a branch)"))
	}
	return head.Name().Short(), nil
}

// HeadCommit returns the object id HEAD points to.
func (r *GitRepository) HeadCommit(_ context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", opError("head", err)
	}
	return head.Hash().String(), nil
}

// Log returns at most max commits reachable from HEAD, newest first.
func (r *GitRepository) Log(ctx context.Context, max int) ([]models.Commit, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, opError("log", err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, opError("log", err)
	}
	defer iter.Close()

	commits := make([]models.Commit, 0, max)
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(commits) >= max {
			return storer.ErrStop
		}
		parents := make([]string, 0, len(c.ParentHashes))
		for _, p := range c.ParentHashes {
			parents = append(parents, p.String())
		}
		commits = append(commits, models.Commit{
			Hash:       c.Hash.String(),
			Message:    c.Message,
			AuthorTime: c.Author.When,
			Parents:    parents,
		})
		return nil
	})
	if err != nil {
		return nil, opError("log", err)
	}

	r.log.Debug("read local log", "count", len(commits), "max", max)
	return commits, nil
}

// Remote returns the "origin" remote, or the first configured one.
func (r *GitRepository) Remote(_ context.Context) (models.Remote, error) {
	remotes, err := r.repo.Remotes()
	if err != nil {
		return models.Remote{}, opError("remote", err)
	}
	if len(remotes) == 0 {
		return models.Remote{}, opError("remote", errors.New("repository has no remotes"))
	}

	chosen := remotes[0]
	for _, rem := range remotes {
		if rem.Config().Name == DefaultRemote {
			chosen = rem
			break
		}
	}

	cfg := chosen.Config()
	remote := models.Remote{Name: cfg.Name}
	if len(cfg.URLs) > 0 {
		remote.FetchURL = cfg.URLs[0]
	}
	return remote, nil
}

// BranchExists reports whether a local branch exists.
func (r *GitRepository) BranchExists(_ context.Context, name string) (bool, error) {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, opError("branch exists", err)
	}
	return true, nil
}

// CreateBranch creates name at startPoint (HEAD when empty).
func (r *GitRepository) CreateBranch(ctx context.Context, name, startPoint string, checkout bool) error {
	args := []string{"branch", name}
	if checkout {
		args = []string{"checkout", "-b", name}
	}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	if err := r.git(ctx, "create branch", args...); err != nil {
		return err
	}
	r.log.Info("created branch", "branch", name, "start_point", startPoint, "checkout", checkout)
	return nil
}

// Checkout switches to an existing local branch.
func (r *GitRepository) Checkout(ctx context.Context, name string) error {
	if err := r.git(ctx, "checkout", "checkout", name); err != nil {
		return err
	}
	r.log.Info("checked out branch", "branch", name)
	return nil
}

// CheckoutTracking creates and checks out name tracking remote/name.
func (r *GitRepository) CheckoutTracking(ctx context.Context, name, remote string) error {
	if err := r.git(ctx, "checkout", "checkout", "-b", name, "--track", remote+"/"+name); err != nil {
		return err
	}
	r.log.Info("checked out tracking branch", "branch", name, "remote", remote)
	return nil
}

// DeleteBranch deletes a local branch.
func (r *GitRepository) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if err := r.git(ctx, "delete branch", "branch", flag, name); err != nil {
		return err
	}
	r.log.Info("deleted branch", "branch", name, "force", force)
	return nil
}

// CherryPick applies hash onto the current branch. A failed pick is aborted
// so the working copy can change branches again; the partial result is not
// repaired.
func (r *GitRepository) CherryPick(ctx context.Context, hash string) error {
	err := r.git(ctx, "cherry-pick", "cherry-pick", hash)
	if err == nil {
		r.log.Debug("cherry-picked commit", "commit", hash)
		return nil
	}

	if abortErr := r.git(ctx, "cherry-pick abort", "cherry-pick", "--abort"); abortErr != nil {
		r.log.Warn("failed to abort cherry-pick", "commit", hash, "error", abortErr)
	}
	return err
}

// Push publishes branch to remote.
func (r *GitRepository) Push(ctx context.Context, remote, branch string) error {
	if err := r.git(ctx, "push", "push", remote, branch); err != nil {
		return err
	}
	r.log.Info("pushed branch", "remote", remote, "branch", branch)
	return nil
}

// Pull integrates the upstream of the current branch.
func (r *GitRepository) Pull(ctx context.Context) error {
	return r.git(ctx, "pull", "pull")
}

// Fetch updates remote-tracking refs.
func (r *GitRepository) Fetch(ctx context.Context, prune bool) error {
	args := []string{"fetch"}
	if prune {
		args = append(args, "--prune")
	}
	return r.git(ctx, "fetch", args...)
}

func (r *GitRepository) git(ctx context.Context, op string, args ...string) error {
	output, err := r.executor.CombinedOutput(ctx, r.root, "git", args...)
	if err != nil {
		return opError(op, fmt.Errorf("git %s failed: %s: %w", args[0], strings.TrimSpace(string(output)), err))
	}
	return nil
}

var _ Repository = (*GitRepository)(nil)
