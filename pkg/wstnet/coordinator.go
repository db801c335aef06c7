package wstnet

import (
	"fmt"
	"sync/atomic"
)

// SessionState is the teardown state of a Session
type SessionState int32

const (
	// StateProxying means both copy loops are running
	StateProxying SessionState = iota

	// StateDraining means one loop has exited, the cancellation signal has fired,
	// and the session is waiting for the other loop and releasing handles
	StateDraining

	// StateClosed means both loops exited and both handles were released
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateProxying:
		return "proxying"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// SessionEvent drives SessionState transitions
type SessionEvent int

const (
	// EventLoopExited is raised once, when the first copy loop finishes for any reason
	EventLoopExited SessionEvent = iota

	// EventHandlesReleased is raised once both loops have exited and both the TCP
	// socket and the WebSocket have been closed
	EventHandlesReleased
)

func (e SessionEvent) String() string {
	if e == EventLoopExited {
		return "loop-exited"
	}
	return "handles-released"
}

// NextState is the teardown transition function:
//
//     Proxying --loop-exited------> Draining
//     Draining --handles-released-> Closed
//
// Any other combination is invalid and returns an error with state unchanged.
func NextState(state SessionState, event SessionEvent) (SessionState, error) {
	switch {
	case state == StateProxying && event == EventLoopExited:
		return StateDraining, nil
	case state == StateDraining && event == EventHandlesReleased:
		return StateClosed, nil
	}
	return state, fmt.Errorf("invalid session transition %s --%s->", state, event)
}

// stateCell holds a SessionState that may be read from any goroutine
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() SessionState {
	return SessionState(c.v.Load())
}

// apply advances the cell with NextState. Only the session's coordinating
// goroutine calls apply.
func (c *stateCell) apply(event SessionEvent) (SessionState, error) {
	next, err := NextState(c.load(), event)
	if err != nil {
		return next, err
	}
	c.v.Store(int32(next))
	return next, nil
}
