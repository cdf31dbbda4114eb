package models

import "fmt"

// EntryKind tags the case of an Entry.
type EntryKind int

const (
	// EntryWorkItem is a work item row carrying the commits that mention it.
	EntryWorkItem EntryKind = iota
	// EntryCommit is a single commit row.
	EntryCommit
)

func (k EntryKind) String() string {
	switch k {
	case EntryWorkItem:
		return "workItem"
	case EntryCommit:
		return "commit"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// Entry is one row of a work item listing. Exactly one of the payloads is
// meaningful and Kind says which.
type Entry struct {
	Kind EntryKind

	// WorkItem and Commits are set for EntryWorkItem.
	WorkItem WorkItem
	Commits  []Commit

	// Commit is set for EntryCommit.
	Commit Commit
}

// WorkItemEntry builds a work item row.
func WorkItemEntry(wi WorkItem, mentionedIn []Commit) Entry {
	return Entry{Kind: EntryWorkItem, WorkItem: wi, Commits: mentionedIn}
}

// CommitEntry builds a commit row.
func CommitEntry(c Commit) Entry {
	return Entry{Kind: EntryCommit, Commit: c}
}

// ID returns the row identifier: the work item id or the commit hash.
func (e Entry) ID() string {
	switch e.Kind {
	case EntryCommit:
		return e.Commit.Hash
	default:
		return fmt.Sprintf("%d", e.WorkItem.ID)
	}
}

// Label renders the row the way listings show it.
func (e Entry) Label() string {
	switch e.Kind {
	case EntryCommit:
		return fmt.Sprintf("%s... - %s", e.Commit.ShortHash(5), firstLine(e.Commit.Message))
	default:
		return fmt.Sprintf("%d - %s", e.WorkItem.ID, e.WorkItem.Title)
	}
}

// Children returns the commit rows nested under a work item row.
func (e Entry) Children() []Entry {
	if e.Kind != EntryWorkItem {
		return nil
	}
	children := make([]Entry, 0, len(e.Commits))
	for _, c := range e.Commits {
		children = append(children, CommitEntry(c))
	}
	return children
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}
