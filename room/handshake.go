package room

import (
	"fmt"
	"sync"
)

// State is a connection's position in the handshake lifecycle.
type State int

const (
	Connecting State = iota
	Authenticating
	Authorized
	Rejected
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Authorized:
		return "authorized"
	case Rejected:
		return "rejected"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	Connecting:     {Authenticating, Closed},
	Authenticating: {Authorized, Rejected, Closed},
	Authorized:     {Active, Rejected, Closed},
	Rejected:       {Closed},
	Active:         {Closed},
}

// Handshake guards the lifecycle transitions of one connection.
type Handshake struct {
	mu    sync.Mutex
	state State
}

func NewHandshake() *Handshake {
	return &Handshake{state: Connecting}
}

func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Advance moves to next, or fails if the lifecycle does not allow it.
func (h *Handshake) Advance(next State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, allowed := range transitions[h.state] {
		if allowed == next {
			h.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal handshake transition %s -> %s", h.state, next)
}
