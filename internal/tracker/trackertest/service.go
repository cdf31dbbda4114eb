// Package trackertest provides an in-memory tracker.Service for tests.
package trackertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/pkg/models"
)

// Service is an in-memory tracker.Service. Operations named in Fail return
// the configured error wrapped as a *tracker.OperationError.
type Service struct {
	mu sync.Mutex

	Items        map[int]models.WorkItem
	QueryResult  []int
	Repos        []models.Repository
	Refs         map[string]string
	BranchCommit map[string][]string
	Fail         map[string]error

	// CreatedStatus is the status of every created pull request.
	CreatedStatus models.PullRequestStatus
	// CreatedBy is the creator identity of every created pull request.
	CreatedBy string
	// Statuses is consumed by GetPullRequestStatus; the last value repeats.
	Statuses []models.PullRequestStatus

	nextPRID int

	Queries        []tracker.Query
	Batches        [][]int
	PullRequests   []models.PullRequestRequest
	AutoCompleted  []int
	AutoOptions    []models.AutoCompleteOptions
	StatusRequests int
	Calls          []string
	// Journal, when set, receives every call as it happens.
	Journal func(string)
}

// New returns a service hosting one repository at url whose branches map
// to their commit ids, newest first.
func New(repoID, url string, branches map[string][]string) *Service {
	s := &Service{
		Items:         map[int]models.WorkItem{},
		Repos:         []models.Repository{{ID: repoID, Name: "repo", RemoteURL: url}},
		Refs:          map[string]string{},
		BranchCommit:  map[string][]string{},
		Fail:          map[string]error{},
		CreatedStatus: models.PullRequestActive,
		CreatedBy:     "creator",
		nextPRID:      100,
	}
	for name, commits := range branches {
		s.BranchCommit[name] = commits
		tip := models.ZeroObjectID
		if len(commits) > 0 {
			tip = commits[0]
		}
		s.Refs[tracker.BranchRefName(name)] = tip
	}
	return s
}

// AddItems registers hydratable work items.
func (s *Service) AddItems(items ...models.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wi := range items {
		s.Items[wi.ID] = wi
		s.QueryResult = append(s.QueryResult, wi.ID)
	}
}

// SetFail makes op fail with err.
func (s *Service) SetFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail[op] = err
}

// HasRef reports whether a branch ref exists.
func (s *Service) HasRef(branch string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Refs[tracker.BranchRefName(branch)]
	return ok
}

// Snapshot returns a copy of the recorded calls.
func (s *Service) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}

// StatusRequestCount returns how often a status was fetched.
func (s *Service) StatusRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StatusRequests
}

func (s *Service) record(op, detail string) error {
	call := op
	if detail != "" {
		call += " " + detail
	}
	s.Calls = append(s.Calls, call)
	if s.Journal != nil {
		s.Journal("svc: " + call)
	}
	if err, ok := s.Fail[op]; ok {
		return tracker.Wrap(op, err)
	}
	return nil
}

// QueryWorkItems returns QueryResult, or the single requested id.
func (s *Service) QueryWorkItems(_ context.Context, q tracker.Query) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries = append(s.Queries, q)
	if err := s.record("query work items", ""); err != nil {
		return nil, err
	}
	if q.WorkItemID > 0 {
		return []int{q.WorkItemID}, nil
	}
	return append([]int(nil), s.QueryResult...), nil
}

// GetWorkItems returns the known items among ids.
func (s *Service) GetWorkItems(_ context.Context, ids []int) ([]models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Batches = append(s.Batches, append([]int(nil), ids...))
	if err := s.record("get work items", ""); err != nil {
		return nil, err
	}
	if len(ids) > tracker.MaxBatchSize {
		return nil, tracker.Errorf("get work items", "batch too large: %d", len(ids))
	}
	var items []models.WorkItem
	for _, id := range ids {
		if wi, ok := s.Items[id]; ok {
			items = append(items, wi)
		}
	}
	return items, nil
}

// Repositories returns Repos.
func (s *Service) Repositories(_ context.Context) ([]models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("list repositories", ""); err != nil {
		return nil, err
	}
	return append([]models.Repository(nil), s.Repos...), nil
}

// ListCommits returns the commit ids registered for branch.
func (s *Service) ListCommits(_ context.Context, _ string, branch string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("list commits", branch); err != nil {
		return nil, err
	}
	return append([]string(nil), s.BranchCommit[branch]...), nil
}

// ListBranchRefs returns refs whose name contains name, sorted.
func (s *Service) ListBranchRefs(_ context.Context, _ string, name string) ([]models.BranchRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("list refs", name); err != nil {
		return nil, err
	}
	var refs []models.BranchRef
	for ref, obj := range s.Refs {
		if strings.Contains(ref, name) {
			refs = append(refs, models.BranchRef{Name: ref, ObjectID: obj})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// CreateBranch adds a ref at the tip of source.
func (s *Service) CreateBranch(_ context.Context, _ string, source, name string) (*models.BranchRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("create branch", name); err != nil {
		return nil, err
	}
	tip, ok := s.Refs[tracker.BranchRefName(source)]
	if !ok {
		return nil, tracker.Errorf("create branch", "source branch %q not found", source)
	}
	ref := models.BranchRef{Name: tracker.BranchRefName(name), ObjectID: tip}
	s.Refs[ref.Name] = tip
	return &ref, nil
}

// DeleteBranch removes a ref.
func (s *Service) DeleteBranch(_ context.Context, _ string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("delete branch", name); err != nil {
		return err
	}
	delete(s.Refs, tracker.BranchRefName(name))
	return nil
}

// CreatePullRequest records req and returns a pull request with CreatedStatus.
func (s *Service) CreatePullRequest(_ context.Context, repoID string, req models.PullRequestRequest) (*models.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("create pull request", req.SourceBranch+" -> "+req.TargetBranch); err != nil {
		return nil, err
	}
	if _, ok := s.Refs[tracker.BranchRefName(req.SourceBranch)]; !ok {
		return nil, tracker.Errorf("create pull request", "source branch %q not found", req.SourceBranch)
	}
	s.PullRequests = append(s.PullRequests, req)

	id := 0
	if s.CreatedStatus == models.PullRequestActive {
		s.nextPRID++
		id = s.nextPRID
	}
	pr := &models.PullRequest{
		ID:           id,
		RepositoryID: repoID,
		Status:       s.CreatedStatus,
		SourceRef:    tracker.BranchRefName(req.SourceBranch),
		TargetRef:    tracker.BranchRefName(req.TargetBranch),
		Title:        req.Title,
		CommitIDs:    append([]string(nil), req.CommitIDs...),
		CreatedByID:  s.CreatedBy,
		WebURL:       fmt.Sprintf("https://example.test/pr/%d", id),
	}
	for _, wi := range req.WorkItems {
		pr.WorkItemIDs = append(pr.WorkItemIDs, wi.ID)
	}
	return pr, nil
}

// EnableAutoComplete records the pull request id and options.
func (s *Service) EnableAutoComplete(_ context.Context, _ string, pr *models.PullRequest, opts models.AutoCompleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("enable auto-complete", fmt.Sprintf("%d", pr.ID)); err != nil {
		return err
	}
	if pr.CreatedByID == "" {
		return tracker.Wrap("enable auto-complete", errors.New("no creator identity"))
	}
	s.AutoCompleted = append(s.AutoCompleted, pr.ID)
	s.AutoOptions = append(s.AutoOptions, opts)
	pr.AutoComplete = true
	return nil
}

// GetPullRequestStatus pops the next status of Statuses.
func (s *Service) GetPullRequestStatus(_ context.Context, _ string, id int) (models.PullRequestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusRequests++
	if err, ok := s.Fail["get pull request status"]; ok {
		return models.PullRequestNotSet, tracker.Wrap("get pull request status", err)
	}
	if len(s.Statuses) == 0 {
		return models.PullRequestActive, nil
	}
	status := s.Statuses[0]
	if len(s.Statuses) > 1 {
		s.Statuses = s.Statuses[1:]
	}
	return status, nil
}

var _ tracker.Service = (*Service)(nil)
