// Package syncguard provides the process-wide single-flight latch that keeps
// at most one background sync running at a time.
package syncguard

import (
	"sync"
	"time"
)

// State is the two-valued guard state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Guard is a mutex-guarded Idle/Running flag. Acquisition never blocks.
// The zero value is an idle guard.
type Guard struct {
	mu    sync.Mutex
	state State
	since time.Time
}

func New() *Guard { return &Guard{} }

// TryAcquire moves Idle to Running and reports whether it did.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Running {
		return false
	}
	g.state = Running
	g.since = time.Now()
	return true
}

// Release moves the guard back to Idle unconditionally.
func (g *Guard) Release() {
	g.mu.Lock()
	g.state = Idle
	g.since = time.Time{}
	g.mu.Unlock()
}

// Acquire is the scoped form of TryAcquire. When ok is true the caller must
// invoke release exactly once, usually via defer; extra calls are ignored so a
// stale release can never free a later holder.
func (g *Guard) Acquire() (release func(), ok bool) {
	if !g.TryAcquire() {
		return func() {}, false
	}
	var once sync.Once
	return func() { once.Do(g.Release) }, true
}

// State returns the current state and, when Running, when it was acquired.
func (g *Guard) State() (State, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.since
}
