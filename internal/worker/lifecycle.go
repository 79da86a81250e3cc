package worker

import "sync"

type State int

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Lifecycle tracks the loop's state. It only moves forward.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	stopped chan struct{}
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{stopped: make(chan struct{})}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Advance moves to s and reports whether the state changed. Moving backwards
// or to the current state is a no-op.
func (l *Lifecycle) Advance(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s <= l.state {
		return false
	}
	l.state = s
	if s == StateStopped {
		close(l.stopped)
	}
	return true
}

// Stopped is closed once the loop has returned.
func (l *Lifecycle) Stopped() <-chan struct{} {
	return l.stopped
}
