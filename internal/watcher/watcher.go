// Package watcher reports changes of the checked out branch and local branch
// heads of a git working tree.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/danielolaszy/workitems/internal/logging"
)

// ErrNotGitRepo indicates the directory has no .git entry.
var ErrNotGitRepo = errors.New("not a git repository")

// Watcher calls onChange for every write to HEAD, logs/HEAD or a ref under
// refs/heads. Callers are expected to debounce.
type Watcher struct {
	gitDir   string
	watcher  *fsnotify.Watcher
	onChange func(path string)
	log      *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a watcher for the working tree at root.
func New(root string, onChange func(path string)) (*Watcher, error) {
	gitDir, err := GitDir(root)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	return &Watcher{
		gitDir:   gitDir,
		watcher:  fw,
		onChange: onChange,
		log:      logging.WithComponent("watcher"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// GitDir resolves the git directory of root, following the "gitdir:" file
// of linked worktrees.
func GitDir(root string) (string, error) {
	gitPath := filepath.Join(root, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepo, root)
		}
		return "", fmt.Errorf("failed to stat .git: %w", err)
	}
	if info.IsDir() {
		return gitPath, nil
	}

	content, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("failed to read .git file: %w", err)
	}
	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir:") {
		return "", fmt.Errorf("%w: invalid .git file format", ErrNotGitRepo)
	}
	dir := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return dir, nil
}

// Start registers the watches and processes events in the background until
// ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	// Git replaces HEAD and refs by renaming lock files, so directories are
	// watched rather than the files themselves.
	if err := w.watcher.Add(w.gitDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.gitDir, err)
	}
	logsDir := filepath.Join(w.gitDir, "logs")
	if _, err := os.Stat(logsDir); err == nil {
		if err := w.watcher.Add(logsDir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", logsDir, err)
		}
	}
	if err := w.addTree(filepath.Join(w.gitDir, "refs", "heads")); err != nil {
		return err
	}

	w.log.Debug("watching repository", "git_dir", w.gitDir)
	go w.run(ctx)
	return nil
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	return err
}

// Done is closed once event processing has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	// New branch namespaces (feature/...) show up as directories
	if event.Has(fsnotify.Create) && w.isHeadRef(event.Name) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("failed to watch new ref directory", "path", event.Name, "error", err)
			}
		}
	}

	if !w.relevant(event.Name) {
		return
	}
	w.log.Debug("repository changed", "path", event.Name, "op", event.Op.String())
	if w.onChange != nil {
		w.onChange(event.Name)
	}
}

func (w *Watcher) relevant(path string) bool {
	if strings.HasSuffix(path, ".lock") {
		return false
	}
	switch path {
	case filepath.Join(w.gitDir, "HEAD"), filepath.Join(w.gitDir, "logs", "HEAD"):
		return true
	}
	return w.isHeadRef(path)
}

func (w *Watcher) isHeadRef(path string) bool {
	heads := filepath.Join(w.gitDir, "refs", "heads") + string(filepath.Separator)
	return strings.HasPrefix(path, heads)
}
