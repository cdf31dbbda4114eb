// Package poller watches created pull requests until they leave the active
// state.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/danielolaszy/workitems/internal/logging"
	"github.com/danielolaszy/workitems/internal/tracker"
	"github.com/danielolaszy/workitems/internal/vcs"
	"github.com/danielolaszy/workitems/pkg/models"
)

// DefaultInterval is the time between two status requests.
const DefaultInterval = time.Second

// StatusSource fetches pull request statuses.
type StatusSource interface {
	GetPullRequestStatus(ctx context.Context, repoID string, id int) (models.PullRequestStatus, error)
}

// Outcome is how a poll ended.
type Outcome int

const (
	// OutcomeRunning means the poll has not ended yet.
	OutcomeRunning Outcome = iota
	// OutcomeCompleted means the pull request was merged and the repository fetched.
	OutcomeCompleted
	// OutcomeAbandoned means the pull request reached another terminal status.
	OutcomeAbandoned
	// OutcomeFailed means a status or fetch request failed.
	OutcomeFailed
	// OutcomeCanceled means the owner stopped the poll.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeCompleted:
		return "completed"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// OnCompleted is called once the pull request completed, before the prune
// fetch runs.
func OnCompleted(fn func(pullRequestID int)) Option {
	return func(p *Poller) {
		p.onCompleted = fn
	}
}

// Poller polls the status of one pull request.
type Poller struct {
	svc         StatusSource
	repo        vcs.Repository
	repoID      string
	id          int
	interval    time.Duration
	onCompleted func(int)
	log         *slog.Logger

	mu      sync.Mutex
	outcome Outcome
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a poller for pull request id in repoID.
func New(svc StatusSource, repo vcs.Repository, repoID string, id int, opts ...Option) *Poller {
	p := &Poller{
		svc:      svc,
		repo:     repo,
		repoID:   repoID,
		id:       id,
		interval: DefaultInterval,
		log:      logging.WithComponent("poller").With("pull_request_id", id),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the polled pull request id.
func (p *Poller) ID() int {
	return p.id
}

// Start begins polling in the background. It is a no-op after the first call.
// The poll ends when ctx is done or Cancel is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Cancel stops the poll. Safe to call more than once and before Start.
func (p *Poller) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	if cancel == nil {
		p.cancel = func() {}
		p.outcome = OutcomeCanceled
		close(p.done)
	}
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the poll has ended.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Outcome returns how the poll ended, or OutcomeRunning.
func (p *Poller) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

func (p *Poller) finish(outcome Outcome) {
	p.mu.Lock()
	p.outcome = outcome
	p.mu.Unlock()
	close(p.done)
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Debug("polling pull request status", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("poll canceled")
			p.finish(OutcomeCanceled)
			return
		case <-ticker.C:
			if outcome, ended := p.tick(ctx); ended {
				p.finish(outcome)
				return
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) (Outcome, bool) {
	status, err := p.svc.GetPullRequestStatus(ctx, p.repoID, p.id)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCanceled, true
		}
		p.log.Warn("failed to get pull request status", "error", err)
		return OutcomeFailed, true
	}

	switch status {
	case models.PullRequestActive:
		return OutcomeRunning, false
	case models.PullRequestCompleted:
		p.log.Info("pull request completed, updating repository")
		// completion is announced whatever the fetch result
		if p.onCompleted != nil {
			p.onCompleted(p.id)
		}
		if err := p.repo.Fetch(ctx, true); err != nil {
			p.log.Warn("failed to fetch after completion", "error", err)
			return OutcomeFailed, true
		}
		return OutcomeCompleted, true
	default:
		p.log.Debug("pull request left the active state", "status", status)
		return OutcomeAbandoned, true
	}
}

// Group owns at most one poller per pull request id.
type Group struct {
	mu      sync.Mutex
	pollers map[int]*Poller
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{pollers: make(map[int]*Poller)}
}

// Start starts p unless a running poller for the same id exists. It returns
// the poller that owns the id.
func (g *Group) Start(ctx context.Context, p *Poller) *Poller {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.pollers[p.id]; ok {
		select {
		case <-existing.Done():
		default:
			return existing
		}
	}
	g.pollers[p.id] = p
	p.Start(ctx)
	return p
}

// Get returns the poller for id.
func (g *Group) Get(id int) (*Poller, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pollers[id]
	return p, ok
}

// Running returns the number of pollers that have not ended.
func (g *Group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.pollers {
		select {
		case <-p.Done():
		default:
			n++
		}
	}
	return n
}

// CancelAll stops every poller and waits for them to end.
func (g *Group) CancelAll() {
	g.mu.Lock()
	pollers := make([]*Poller, 0, len(g.pollers))
	for _, p := range g.pollers {
		pollers = append(pollers, p)
	}
	g.pollers = make(map[int]*Poller)
	g.mu.Unlock()

	for _, p := range pollers {
		p.Cancel()
		<-p.Done()
	}
}

var _ StatusSource = (tracker.Repositories)(nil)
