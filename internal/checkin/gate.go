package checkin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrCheckInInProgress is returned when a work item already has a check-in
// in flight.
var ErrCheckInInProgress = errors.New("check-in already in progress")

// Gate admits at most one session per work item.
type Gate struct {
	mu     sync.Mutex
	active map[int]uuid.UUID
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{active: make(map[int]uuid.UUID)}
}

// Acquire registers s. It fails with ErrCheckInInProgress while another
// session holds the same work item.
func (g *Gate) Acquire(s *Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, ok := g.active[s.WorkItemID]; ok {
		return fmt.Errorf("work item %d (session %s): %w", s.WorkItemID, holder, ErrCheckInInProgress)
	}
	g.active[s.WorkItemID] = s.ID
	return nil
}

// Release frees the work item held by s.
func (g *Gate) Release(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[s.WorkItemID] == s.ID {
		delete(g.active, s.WorkItemID)
	}
}

// InFlight reports whether a session holds id.
func (g *Gate) InFlight(id int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[id]
	return ok
}
