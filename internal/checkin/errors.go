package checkin

import "fmt"

// PreconditionError aborts a check-in before any side effect.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("check-in precondition failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("check-in precondition failed: %s", e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// NoPendingChangesError reports a work item without pending commits.
type NoPendingChangesError struct {
	WorkItemID int
}

func (e *NoPendingChangesError) Error() string {
	return fmt.Sprintf("nothing to check in for work item %d", e.WorkItemID)
}

// RollbackError carries the failure that triggered a rollback together with
// the failure to delete the remote temp branch.
type RollbackError struct {
	Branch   string
	Cause    error
	Rollback error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v (rollback of remote branch %s failed: %v)", e.Cause, e.Branch, e.Rollback)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, e.Rollback}
}
