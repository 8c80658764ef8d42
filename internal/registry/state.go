// ABOUTME: Agent lifecycle state machine with a fixed transition table.
// ABOUTME: Defines the State type and legality checks for state changes.

package registry

import "fmt"

// State is an agent's position in the lifecycle state machine.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateStarting      State = "STARTING"
	StateReady         State = "READY"
	StateDegraded      State = "DEGRADED"
	StateFailed        State = "FAILED"
	StateStopping      State = "STOPPING"
	StateStopped       State = "STOPPED"
)

// transitions is the fixed adjacency table. A transition is legal only if the
// target state appears in the source state's set. FAILED and STOPPED are
// terminal and have no outgoing edges.
var transitions = map[State]map[State]bool{
	StateUninitialized: {StateStarting: true},
	StateStarting:      {StateReady: true, StateFailed: true},
	StateReady:         {StateDegraded: true, StateFailed: true, StateStopping: true},
	StateDegraded:      {StateReady: true, StateFailed: true, StateStopping: true},
	StateStopping:      {StateStopped: true},
	StateFailed:        {},
	StateStopped:       {},
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether the transition from s to target is in the
// adjacency table.
func (s State) CanTransition(target State) bool {
	return transitions[s][target]
}

// checkTransition returns an ErrInvalidTransition naming both states if the
// transition is not legal.
func checkTransition(from, to State) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, string(to))
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
