package report

// Observability is a side channel.
// Nothing in here may change what a command returns.

import (
	"fmt"
	"time"
)

// Result is immutable run-level truth. Set once at the end of a run.
type Result struct {
	// Identity
	Command   string `json:"command"`
	Stage     string `json:"stage"`
	RunPrefix string `json:"run_prefix"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Outcome
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`

	// Lifecycle
	FinalState string   `json:"final_state,omitempty"`
	States     []string `json:"states,omitempty"`
}

// NewResult creates an immutable result
func NewResult(command, stage, runPrefix string, startTime, endTime time.Time, outcome string, err error) *Result {
	r := &Result{
		Command:   command,
		Stage:     stage,
		RunPrefix: runPrefix,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
		Outcome:   outcome,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Failed reports whether the run ended in anything but success.
func (r *Result) Failed() bool {
	return r.Outcome != OutcomeSucceeded
}

// Summary is the one-line form ops grep for.
func (r *Result) Summary() string {
	errStr := ""
	if r.Error != "" {
		errStr = fmt.Sprintf(" | error=%q", r.Error)
	}
	stateStr := ""
	if r.FinalState != "" {
		stateStr = " | state=" + r.FinalState
	}
	return fmt.Sprintf("RUN %s/%s | %s | outcome=%s | runtime=%s%s%s",
		r.Stage,
		r.Command,
		r.RunPrefix,
		r.Outcome,
		r.Duration.Round(time.Millisecond),
		stateStr,
		errStr,
	)
}
