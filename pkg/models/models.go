// Package models defines data structures shared across the application.
package models

import (
	"time"
)

// ZeroObjectID is the all-zero object id. Updating a ref to it deletes the ref.
const ZeroObjectID = "0000000000000000000000000000000000000000"

// TitleField is the named field holding a work item's title.
const TitleField = "System.Title"

// WorkItem is a snapshot of an externally tracked unit of work.
type WorkItem struct {
	// ID is the integer identifier of the work item (e.g., 42)
	ID int

	// Title is the work item's title or summary
	Title string

	// URL is the API location of the work item, if the service provides one
	URL string

	// Fields holds the raw named fields returned by the service
	Fields map[string]any
}

// Field returns a named field or nil when the field was not fetched.
func (w WorkItem) Field(name string) any {
	if w.Fields == nil {
		return nil
	}
	return w.Fields[name]
}

// Commit is a read-only entry of the local repository log.
type Commit struct {
	// Hash is the full commit object id
	Hash string

	// Message is the full commit message
	Message string

	// AuthorTime is the author timestamp of the commit
	AuthorTime time.Time

	// Parents holds the object ids of the parent commits
	Parents []string
}

// ShortHash returns the first n characters of the hash.
func (c Commit) ShortHash(n int) string {
	if len(c.Hash) <= n {
		return c.Hash
	}
	return c.Hash[:n]
}

// BranchRef is a named ref together with the object it points to.
type BranchRef struct {
	// Name is the full ref name (e.g., "refs/heads/main")
	Name string

	// ObjectID is the commit the ref points to on the remote
	ObjectID string
}

// Remote is a configured remote of the local repository.
type Remote struct {
	Name     string
	FetchURL string
}

// Repository identifies a repository known to the remote service.
type Repository struct {
	// ID is the service-side identifier (a GUID on Azure DevOps, "owner/name" on GitHub)
	ID string

	// Name is the display name of the repository
	Name string

	// RemoteURL is the clone URL the service reports
	RemoteURL string

	// WebURL is the browsable location of the repository
	WebURL string
}
