package pipeline

import (
	"errors"
	"fmt"
)

// State is a stage of one pipeline run.
type State string

const (
	StatePlanning       State = "PLANNING"
	StateValidatingPlan State = "VALIDATING_PLAN"
	StateGenerating     State = "GENERATING"
	StateSuccess        State = "SUCCESS"
	StateFailed         State = "FAILED"
)

// ErrInvalidTransition is returned for a transition the table does not allow.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// validTransitions defines the pipeline state machine.
//
//nolint:gochecknoglobals // state machine definition
var validTransitions = map[State][]State{
	StatePlanning:       {StateValidatingPlan, StateFailed},
	StateValidatingPlan: {StateGenerating, StateFailed},
	StateGenerating:     {StateSuccess, StateFailed},
	StateSuccess:        {},
	StateFailed:         {},
}

// IsValidTransition reports whether from → to is allowed.
func IsValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidNextStates returns the states reachable from from.
func ValidNextStates(from State) []State {
	return validTransitions[from]
}

// IsTerminalState reports whether s ends a run.
func IsTerminalState(s State) bool {
	return s == StateSuccess || s == StateFailed
}

// Machine tracks one run through the table.
type Machine struct {
	state   State
	history []State
}

// NewMachine starts a machine in PLANNING.
func NewMachine() *Machine {
	return &Machine{state: StatePlanning, history: []State{StatePlanning}}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// History returns every state entered, in order.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

// Transition moves to to, or returns ErrInvalidTransition.
func (m *Machine) Transition(to State) error {
	if !IsValidTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}
