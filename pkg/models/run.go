// Package models provides the shared domain types for the nerovaagent system:
// run lifecycle, Critic decisions, viewport hittables, and the wire shapes the
// brain service and browser workers exchange.
package models

import "time"

// RunStatus is the lifecycle state of a goal-pursuing run.
type RunStatus string

const (
	// RunStatusInProgress marks a run that is still iterating.
	RunStatusInProgress RunStatus = "in_progress"

	// RunStatusStop is the normal terminal status requested by the Critic.
	RunStatusStop RunStatus = "stop"

	// RunStatusResend marks a step that must be retried without consuming
	// a hard step slot (blank decision, transient page state).
	RunStatusResend RunStatus = "resend"

	// RunStatusContinue marks a step that completed and handed control back
	// to the iteration loop.
	RunStatusContinue RunStatus = "continue"

	// RunStatusAwaitAssistance marks a run parked for operator input after
	// the Assistant could not produce a confident decision.
	RunStatusAwaitAssistance RunStatus = "await_assistance"

	// RunStatusHalt is the terminal status for unsupported or unresolvable
	// actions.
	RunStatusHalt RunStatus = "halt"

	// RunStatusAborted is the terminal status after AbortRun.
	RunStatusAborted RunStatus = "aborted"

	// RunStatusError is the terminal status for upstream or transport
	// failures that the loop cannot absorb.
	RunStatusError RunStatus = "error"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusStop, RunStatusHalt, RunStatusAborted, RunStatusError:
		return true
	default:
		return false
	}
}

// RunSummary is the final record of a run, persisted as summary.json and
// returned by the run API.
type RunSummary struct {
	// RunID is the unique run identifier.
	RunID string `json:"runId"`

	// Goal is the immutable base prompt the run pursued.
	Goal string `json:"goal"`

	// Status is the terminal status of the run.
	Status RunStatus `json:"status"`

	// Iterations is the number of hard steps consumed.
	Iterations int `json:"iterations"`

	// CompleteHistory holds the deduplicated milestone strings, in
	// first-seen order with first-seen casing.
	CompleteHistory []string `json:"completeHistory"`

	// SessionID is the brain-side continuation token adopted by the run.
	SessionID string `json:"sessionId,omitempty"`

	// ArtifactDir is the on-disk run directory.
	ArtifactDir string `json:"artifactDir,omitempty"`

	// Error carries the failure code when Status is error/halt/aborted.
	Error string `json:"error,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
