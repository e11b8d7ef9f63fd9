package task

// State represents the lifecycle state of a Task.
type State string

const (
	StateUnconfirmed State = "UNCONFIRMED"
	StateRunnable    State = "RUNNABLE"
	StateInFlight    State = "IN_FLIGHT"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
	StateExpired     State = "EXPIRED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the task is in a final state.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateExpired:
		return true
	}
	return false
}

// ValidTransitions defines the allowed state transitions for Tasks.
// A task may cycle between RUNNABLE and IN_FLIGHT when a worker dies
// and the queue reclaims the task after a heartbeat timeout.
var ValidTransitions = map[State][]State{
	StateUnconfirmed: {StateRunnable, StateExpired},
	StateRunnable:    {StateInFlight},
	StateInFlight:    {StateRunnable, StateDone, StateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
