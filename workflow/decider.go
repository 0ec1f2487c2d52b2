package workflow

import (
	"fmt"
)

// Decider defines one workflow's behavior as a pure state machine.
//
// Decide turns an input and the current state into the side effects the
// workflow intends to perform. Evolve folds a recorded event into the state.
// Splitting intent from fact keeps the audit trail independent of side
// effect execution: replaying the event log through Evolve reconstructs
// state without re-executing anything.
//
// Both functions must be pure. Evolve must be total over all event variants:
// every event Translate can produce for this workflow has to be accepted.
// Unknown domain pairs must return a *TransitionError, not silently keep the
// previous state.
type Decider[TState, TInput, TOutput any] interface {
	// InitialState is the state of an instance that has not received its
	// first input yet.
	InitialState() TState

	// Decide returns the commands the workflow intends to perform for the
	// given input in the given state. Ordering is significant, it is the
	// order in which the corresponding events and dispatches occur.
	Decide(input TInput, state TState) ([]Command[TOutput], error)

	// Evolve returns the state after applying the given event.
	Evolve(state TState, event Event[TInput, TOutput]) (TState, error)
}

// TransitionErrorKind distinguishes a gap in the workflow's business logic
// from an inconsistency discovered while replaying recorded events.
type TransitionErrorKind int

const (
	// TransitionError_DecisionGap indicates Decide was called with an
	// (input, state) pair the workflow does not define.
	TransitionError_DecisionGap TransitionErrorKind = iota

	// TransitionError_ReplayInconsistency indicates Evolve was called with a
	// (state, event) pair the workflow does not define. Since events are
	// only ever produced by Translate from decided commands, hitting this
	// means the log and the decider disagree.
	TransitionError_ReplayInconsistency
)

func (k TransitionErrorKind) String() string {
	switch k {
	case TransitionError_DecisionGap:
		return "decision gap"
	case TransitionError_ReplayInconsistency:
		return "replay inconsistency"
	default:
		return "unknown"
	}
}

// TransitionError is returned by Decide and Evolve for (message, state)
// pairs the workflow does not define.
type TransitionError struct {
	Kind TransitionErrorKind

	// Message is the variant tag or type of the offending input or event
	Message string

	// State is the state the transition was attempted in
	State any
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("unsupported transition (%s): message %q in state %v", e.Kind, e.Message, e.State)
}

// NewDecisionError reports an (input, state) pair Decide does not define.
func NewDecisionError(input, state any) error {
	return &TransitionError{
		Kind:    TransitionError_DecisionGap,
		Message: fmt.Sprintf("%T", input),
		State:   state,
	}
}

// NewReplayError reports a (state, event) pair Evolve does not define.
func NewReplayError[TInput, TOutput any](event Event[TInput, TOutput], state any) error {
	return &TransitionError{
		Kind:    TransitionError_ReplayInconsistency,
		Message: event.Name(),
		State:   state,
	}
}
