// Package job runs one scan request end to end: collection, analysis,
// scoring and dedup, behind a pollable state machine.
package job

import (
	"slices"

	"github.com/rotisserie/eris"
)

// State is a job lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ErrInvalidTransition is returned when a state change would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = eris.New("job: invalid state transition")

var transitions = map[State][]State{
	StateQueued:  {StateRunning},
	StateRunning: {StateCompleted, StateFailed, StateCancelled},
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
