package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pexec "github.com/danielolaszy/workitems/internal/exec"
)

const testRemoteURL = "https://dev.azure.com/org/project/_git/repo"

// initRepo creates a repository with one commit per message, an hour apart.
func initRepo(t *testing.T, messages ...string) (string, *git.Repository, []plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var hashes []plumbing.Hash
	for i, msg := range messages {
		name := fmt.Sprintf("file%d.txt", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(msg), 0644))
		_, err = wt.Add(name)
		require.NoError(t, err)
		h, err := wt.Commit(msg, &git.CommitOptions{Author: &object.Signature{
			Name:  "Dev",
			Email: "dev@example.com",
			When:  base.Add(time.Duration(i) * time.Hour),
		}})
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	return dir, repo, hashes
}

func addRemote(t *testing.T, repo *git.Repository, name, url string) {
	t.Helper()
	_, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: name, URLs: []string{url}})
	require.NoError(t, err)
}

func TestOpenNotARepository(t *testing.T) {
	_, err := OpenWithExecutor(t.TempDir(), pexec.NewMockExecutor())
	assert.Error(t, err)
}

func TestOpenDetectsParentRepository(t *testing.T) {
	dir, _, _ := initRepo(t, "initial")
	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0755))

	r, err := OpenWithExecutor(sub, pexec.NewMockExecutor())
	require.NoError(t, err)
	assert.Equal(t, dir, r.Root())
}

func TestReadOperations(t *testing.T) {
	ctx := context.Background()
	dir, repo, hashes := initRepo(t, "initial", "fix #42", "refactor", "polish #42")
	addRemote(t, repo, "origin", testRemoteURL)

	r, err := OpenWithExecutor(dir, pexec.NewMockExecutor())
	require.NoError(t, err)

	t.Run("CurrentBranch", func(t *testing.T) {
		branch, err := r.CurrentBranch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "master", branch)
	})

	t.Run("HeadCommit", func(t *testing.T) {
		head, err := r.HeadCommit(ctx)
		require.NoError(t, err)
		assert.Equal(t, hashes[3].String(), head)
	})

	t.Run("Log is newest first", func(t *testing.T) {
		commits, err := r.Log(ctx, 10)
		require.NoError(t, err)
		require.Len(t, commits, 4)
		assert.Equal(t, "polish #42", commits[0].Message)
		assert.Equal(t, "initial", commits[3].Message)
		assert.Equal(t, hashes[2].String(), commits[0].Parents[0])
		assert.Empty(t, commits[3].Parents)
		assert.True(t, commits[0].AuthorTime.After(commits[1].AuthorTime))
	})

	t.Run("Log is bounded", func(t *testing.T) {
		commits, err := r.Log(ctx, 2)
		require.NoError(t, err)
		require.Len(t, commits, 2)
		assert.Equal(t, hashes[3].String(), commits[0].Hash)
		assert.Equal(t, hashes[2].String(), commits[1].Hash)
	})

	t.Run("Remote", func(t *testing.T) {
		remote, err := r.Remote(ctx)
		require.NoError(t, err)
		assert.Equal(t, "origin", remote.Name)
		assert.Equal(t, testRemoteURL, remote.FetchURL)
	})

	t.Run("BranchExists", func(t *testing.T) {
		ok, err := r.BranchExists(ctx, "master")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.BranchExists(ctx, "work_item/42")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRemotePrefersOrigin(t *testing.T) {
	dir, repo, _ := initRepo(t, "initial")
	addRemote(t, repo, "aaa-mirror", "https://example.com/mirror.git")
	addRemote(t, repo, "origin", testRemoteURL)

	r, err := OpenWithExecutor(dir, pexec.NewMockExecutor())
	require.NoError(t, err)

	remote, err := r.Remote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "origin", remote.Name)
	assert.Equal(t, testRemoteURL, remote.FetchURL)
}

func TestRemoteMissing(t *testing.T) {
	dir, _, _ := initRepo(t, "initial")
	r, err := OpenWithExecutor(dir, pexec.NewMockExecutor())
	require.NoError(t, err)

	_, err = r.Remote(context.Background())
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "remote", opErr.Op)
}

func TestMutationsRunGitCLI(t *testing.T) {
	dir, _, _ := initRepo(t, "initial")

	tests := []struct {
		name string
		run  func(r *GitRepository) error
		want []string
	}{
		{
			name: "CreateBranch without checkout",
			run: func(r *GitRepository) error {
				return r.CreateBranch(context.Background(), "work_item/7", "origin/development", false)
			},
			want: []string{"branch", "work_item/7", "origin/development"},
		},
		{
			name: "CreateBranch with checkout from HEAD",
			run: func(r *GitRepository) error {
				return r.CreateBranch(context.Background(), "work_item/7", "", true)
			},
			want: []string{"checkout", "-b", "work_item/7"},
		},
		{
			name: "Checkout",
			run:  func(r *GitRepository) error { return r.Checkout(context.Background(), "feature/x") },
			want: []string{"checkout", "feature/x"},
		},
		{
			name: "CheckoutTracking",
			run: func(r *GitRepository) error {
				return r.CheckoutTracking(context.Background(), "tmp/_tmp_feature/x_42_01", "origin")
			},
			want: []string{"checkout", "-b", "tmp/_tmp_feature/x_42_01", "--track", "origin/tmp/_tmp_feature/x_42_01"},
		},
		{
			name: "DeleteBranch forced",
			run:  func(r *GitRepository) error { return r.DeleteBranch(context.Background(), "tmp/b", true) },
			want: []string{"branch", "-D", "tmp/b"},
		},
		{
			name: "DeleteBranch safe",
			run:  func(r *GitRepository) error { return r.DeleteBranch(context.Background(), "tmp/b", false) },
			want: []string{"branch", "-d", "tmp/b"},
		},
		{
			name: "CherryPick",
			run:  func(r *GitRepository) error { return r.CherryPick(context.Background(), "abc123") },
			want: []string{"cherry-pick", "abc123"},
		},
		{
			name: "Push",
			run:  func(r *GitRepository) error { return r.Push(context.Background(), "origin", "tmp/b") },
			want: []string{"push", "origin", "tmp/b"},
		},
		{
			name: "Pull",
			run:  func(r *GitRepository) error { return r.Pull(context.Background()) },
			want: []string{"pull"},
		},
		{
			name: "Fetch",
			run:  func(r *GitRepository) error { return r.Fetch(context.Background(), false) },
			want: []string{"fetch"},
		},
		{
			name: "Fetch with prune",
			run:  func(r *GitRepository) error { return r.Fetch(context.Background(), true) },
			want: []string{"fetch", "--prune"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := pexec.NewMockExecutor()
			r, err := OpenWithExecutor(dir, mock)
			require.NoError(t, err)

			require.NoError(t, tt.run(r))

			calls := mock.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "git", calls[0].Name)
			assert.Equal(t, dir, calls[0].Dir)
			assert.Equal(t, tt.want, calls[0].Args)
		})
	}
}

func TestCherryPickFailureAborts(t *testing.T) {
	dir, _, _ := initRepo(t, "initial")
	mock := pexec.NewMockExecutor()
	mock.On("git", []string{"cherry-pick", "abc123"}, pexec.MockResponse{
		Output: []byte("CONFLICT (content): Merge conflict in file0.txt\n"),
		Err:    errors.New("exit status 1"),
	})

	r, err := OpenWithExecutor(dir, mock)
	require.NoError(t, err)

	err = r.CherryPick(context.Background(), "abc123")
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "cherry-pick", opErr.Op)
	assert.Contains(t, err.Error(), "CONFLICT")

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"cherry-pick", "--abort"}, calls[1].Args)
}

func TestPushFailureIsOperationError(t *testing.T) {
	dir, _, _ := initRepo(t, "initial")
	mock := pexec.NewMockExecutor()
	mock.On("git", []string{"push"}, pexec.MockResponse{
		Output: []byte("rejected"),
		Err:    errors.New("exit status 1"),
	})

	r, err := OpenWithExecutor(dir, mock)
	require.NoError(t, err)

	err = r.Push(context.Background(), "origin", "tmp/b")
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "push", opErr.Op)
	assert.Equal(t, `local vcs operation "push" failed: git push failed: rejected: exit status 1`, err.Error())
}
