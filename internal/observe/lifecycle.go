package observe

// Observability is a side channel.
// Nothing in here may change what a command returns.

import (
	"fmt"
	"sync"
	"time"
)

// RunState is one step of a single run. Runs are single-shot.
type RunState string

const (
	StateCreated          RunState = "created"
	StateDirectoryEnsured RunState = "directory_ensured"
	StateLogOpened        RunState = "log_opened"
	StateLogicRunning     RunState = "logic_running"
	StateLogicSucceeded   RunState = "logic_succeeded"
	StateLogicFailed      RunState = "logic_failed"
	StateLogClosed        RunState = "log_closed"
	StateReturned         RunState = "returned"
	StateRethrown         RunState = "rethrown"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[RunState]map[RunState]bool{
	StateCreated: {
		StateDirectoryEnsured: true,
		StateRethrown:         true, // mkdir failed
	},
	StateDirectoryEnsured: {
		StateLogOpened: true,
		StateRethrown:  true, // opening bracket could not be written
	},
	StateLogOpened: {
		StateLogicRunning: true,
		StateLogicFailed:  true, // "input" record could not be appended
	},
	StateLogicRunning: {
		StateLogicSucceeded: true,
		StateLogicFailed:    true,
	},
	StateLogicSucceeded: {
		StateLogicFailed: true, // output persistence failed after logic returned
		StateLogClosed:   true,
	},
	StateLogicFailed: {
		StateLogClosed: true,
	},
	StateLogClosed: {
		StateReturned: true,
		StateRethrown: true,
	},
	// Terminal
	StateReturned: {},
	StateRethrown: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to RunState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if no transition leaves the state
func IsTerminalState(s RunState) bool {
	return s == StateReturned || s == StateRethrown
}

// Transition records one move of the lifecycle
type Transition struct {
	From RunState
	To   RunState
	At   time.Time
}

// Lifecycle tracks the state of one run and when it started/completed.
type Lifecycle struct {
	mu          sync.Mutex
	state       RunState
	history     []Transition
	clock       func() time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewLifecycle starts a lifecycle in StateCreated
func NewLifecycle(clock func() time.Time) *Lifecycle {
	if clock == nil {
		clock = time.Now
	}
	return &Lifecycle{
		state:     StateCreated,
		clock:     clock,
		StartedAt: clock(),
	}
}

// Advance moves to the next state, rejecting anything the table does not allow.
func (l *Lifecycle) Advance(to RunState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ValidateTransition(l.state, to); err != nil {
		return err
	}
	now := l.clock()
	l.history = append(l.history, Transition{From: l.state, To: to, At: now})
	l.state = to
	if IsTerminalState(to) {
		l.CompletedAt = now
	}
	return nil
}

// State returns the current state
func (l *Lifecycle) State() RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns a copy of the transitions so far
func (l *Lifecycle) History() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transition, len(l.history))
	copy(out, l.history)
	return out
}

// Duration returns execution duration
func (l *Lifecycle) Duration() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CompletedAt.IsZero() {
		return l.clock().Sub(l.StartedAt)
	}
	return l.CompletedAt.Sub(l.StartedAt)
}
