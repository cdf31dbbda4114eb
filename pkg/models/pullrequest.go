package models

import "strings"

// PullRequestStatus is the lifecycle status of a pull request.
type PullRequestStatus string

const (
	PullRequestNotSet    PullRequestStatus = "notSet"
	PullRequestActive    PullRequestStatus = "active"
	PullRequestCompleted PullRequestStatus = "completed"
	PullRequestAbandoned PullRequestStatus = "abandoned"
)

// ParsePullRequestStatus maps a service status string onto PullRequestStatus.
// Unknown values map to PullRequestNotSet.
func ParsePullRequestStatus(s string) PullRequestStatus {
	switch strings.ToLower(s) {
	case "active":
		return PullRequestActive
	case "completed":
		return PullRequestCompleted
	case "abandoned":
		return PullRequestAbandoned
	default:
		return PullRequestNotSet
	}
}

// IsTerminal reports whether the status can no longer change to Active.
func (s PullRequestStatus) IsTerminal() bool {
	return s != PullRequestActive
}

// PullRequest is the service-side record of a created pull request.
type PullRequest struct {
	// ID is the pull request number
	ID int

	// RepositoryID is the service identifier of the repository the PR lives in
	RepositoryID string

	// Status is the status reported at the time of the last fetch
	Status PullRequestStatus

	// SourceRef is the full ref name of the source branch
	SourceRef string

	// TargetRef is the full ref name of the target branch
	TargetRef string

	// Title is the pull request title
	Title string

	// WorkItemIDs holds the linked work items
	WorkItemIDs []int

	// CommitIDs holds the cherry-picked commit ids embedded in the request
	CommitIDs []string

	// AutoComplete is true once auto-completion has been configured
	AutoComplete bool

	// CreatedByID is the service identity that opened the pull request
	CreatedByID string

	// NodeID is an opaque secondary id some services need for updates
	NodeID string

	// WebURL is the browsable location of the pull request
	WebURL string
}

// PullRequestRequest describes a pull request to be created.
type PullRequestRequest struct {
	SourceBranch string
	TargetBranch string
	Title        string
	Description  string
	WorkItems    []WorkItem
	CommitIDs    []string
}

// AutoCompleteOptions configure automatic completion of a pull request.
type AutoCompleteOptions struct {
	DeleteSourceBranch bool
	BypassPolicy       bool
}
