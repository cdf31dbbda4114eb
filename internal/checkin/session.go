package checkin

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a step of the check-in state machine.
type State int

const (
	StateIdle State = iota
	StateValidatePreconditions
	StatePullRemote
	StateReconcile
	StateCreateRemoteTempBranch
	StateCheckoutTempBranch
	StateCherryPick
	StatePushTempBranch
	StateCreatePullRequest
	StateEnableAutoComplete
	StateCompleted
	StateRollback
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                   "idle",
	StateValidatePreconditions:  "validate_preconditions",
	StatePullRemote:             "pull_remote",
	StateReconcile:              "reconcile",
	StateCreateRemoteTempBranch: "create_remote_temp_branch",
	StateCheckoutTempBranch:     "checkout_temp_branch",
	StateCherryPick:             "cherry_pick",
	StatePushTempBranch:         "push_temp_branch",
	StateCreatePullRequest:      "create_pull_request",
	StateEnableAutoComplete:     "enable_auto_complete",
	StateCompleted:              "completed",
	StateRollback:               "rollback",
	StateFailed:                 "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// tempBranchTimeLayout renders dd.MM.yyyy-HH.mm.ss.
const tempBranchTimeLayout = "02.01.2006-15.04.05"

// TempBranchName returns the staging branch name for checking id in from
// current at ts.
func TempBranchName(current string, id int, ts time.Time) string {
	return fmt.Sprintf("tmp/_tmp_%s_%d_%s", current, id, ts.Format(tempBranchTimeLayout))
}

// Session is one check-in attempt. It lives only as long as the attempt.
type Session struct {
	ID         uuid.UUID
	WorkItemID int
	TempBranch string
	CreatedAt  time.Time
	State      State
}

func newSession(workItemID int, now time.Time) *Session {
	return &Session{
		ID:         uuid.New(),
		WorkItemID: workItemID,
		CreatedAt:  now,
		State:      StateIdle,
	}
}
