package checkin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LockFileName is the per work item lock created in the lock directory while
// a check-in runs.
func LockFileName(workItemID int) string {
	return fmt.Sprintf("workitems-checkin-%d.lock", workItemID)
}

// acquireLockFile creates the lock file of s in dir, failing with
// ErrCheckInInProgress when another process holds it. A lock left behind by a
// crashed process has to be removed by hand.
func acquireLockFile(dir string, s *Session) (release func(), err error) {
	path := filepath.Join(dir, LockFileName(s.WorkItemID))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("work item %d (lock file %s): %w", s.WorkItemID, path, ErrCheckInInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, werr := fmt.Fprintf(f, "pid %d\nsession %s\n", os.Getpid(), s.ID)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", werr)
	}

	return func() { _ = os.Remove(path) }, nil
}
