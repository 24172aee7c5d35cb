package daemon

import (
	"sync/atomic"
)

// State is the shutdown coordinator's state.
type State int32

const (
	StateRunning State = iota
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Coordinator lets any request handler ask for termination while the
// control goroutine blocks until it happens. Running moves to Stopping
// exactly once; Stopping is terminal.
type Coordinator struct {
	state     atomic.Int32
	requested chan struct{}
	tornDown  atomic.Bool
}

// NewCoordinator returns a coordinator in the Running state.
func NewCoordinator() *Coordinator {
	return &Coordinator{requested: make(chan struct{})}
}

// Request moves the coordinator to Stopping. Only the call that performs
// the transition returns true; later calls are no-ops.
func (c *Coordinator) Request() bool {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return false
	}
	close(c.requested)
	return true
}

// Requested is closed once shutdown has been requested.
func (c *Coordinator) Requested() <-chan struct{} {
	return c.requested
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Teardown runs fn unless a previous call already did, and reports
// whether fn ran.
func (c *Coordinator) Teardown(fn func()) bool {
	if !c.tornDown.CompareAndSwap(false, true) {
		return false
	}
	fn()
	return true
}
