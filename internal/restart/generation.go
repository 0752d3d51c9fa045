package restart

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a Generation.
type State int32

const (
	Starting State = iota + 1
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Generation is one launch of the application entry point. Its scope is
// created fresh for every launch and discarded on teardown.
type Generation struct {
	id        uint64
	scope     *Scope
	createdAt time.Time

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newGeneration(id uint64, roots []string) *Generation {
	g := &Generation{
		id:        id,
		createdAt: time.Now(),
		state:     Starting,
		done:      make(chan struct{}),
	}
	g.scope = newScope(g, roots)
	return g
}

// ID returns the monotonically increasing generation number, starting at 1.
func (g *Generation) ID() uint64 { return g.id }

// Scope returns the isolated scope the entry point runs in.
func (g *Generation) Scope() *Scope { return g.scope }

// CreatedAt returns when the generation was created.
func (g *Generation) CreatedAt() time.Time { return g.createdAt }

// State returns the current lifecycle state.
func (g *Generation) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Generation) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// transition moves from one state to another and reports whether the
// generation was in the expected state.
func (g *Generation) transition(from, to State) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != from {
		return false
	}
	g.state = to
	return true
}

// Done is closed once the entry point has returned.
func (g *Generation) Done() <-chan struct{} { return g.done }

// Err returns the entry point's result. It is only meaningful after Done
// is closed.
func (g *Generation) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *Generation) finish(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
	close(g.done)
}

func (g *Generation) String() string {
	return fmt.Sprintf("generation %d (%s)", g.id, g.State())
}
