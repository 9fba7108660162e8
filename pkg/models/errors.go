package models

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced in HTTP bodies, summary.json, and logs.
const (
	CodePromptRequired      = "prompt_required"
	CodeScreenshotRequired  = "screenshot_required"
	CodeCriticKeyMissing    = "critic_api_key_missing"
	CodeCriticError         = "critic_error"
	CodeAssistantKeyMissing = "assistant_api_key_missing"
	CodeAssistantTimeout    = "assistant_timeout"
	CodeAssistantError      = "assistant_error"
	CodeAwaitAssistance     = "await_assistance"
	CodeRunControlMissing   = "run_control_unavailable"
	CodeRunActive           = "run_already_active"
	CodeAgentUnavailable    = "agent_unavailable"
	CodeAgentCommandTimeout = "agent_command_timeout"
	CodeAgentDisconnected   = "agent_disconnected"
	CodeAgentSocketNotOpen  = "agent_socket_not_open"
	CodePauseInterrupt      = "pause_interrupt"
	CodeRunAborted          = "run_aborted"
	CodeScreenshotFailed    = "screenshot_failed"
	CodeBrainError          = "brain_error"
	CodeMaxStepsReached     = "max_steps_reached"
)

// CodeUnsupportedMode builds the code for a rejected mode value.
func CodeUnsupportedMode(mode string) string {
	return "unsupported_mode_" + mode
}

// CodeCriticHTTP builds the code for a non-2xx critic response.
func CodeCriticHTTP(status int) string {
	return fmt.Sprintf("critic_http_%d", status)
}

// CodeUnsupportedAction builds the halt code for a Critic verb the loop
// cannot dispatch.
func CodeUnsupportedAction(action string) string {
	return "unsupported_action_" + action
}

// AgentError carries a stable error code through wrapping so callers can
// route on it after any number of fmt.Errorf("…: %w") layers.
type AgentError struct {
	Code string
	Err  error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *AgentError) Unwrap() error { return e.Err }

// Is reports code equality so errors.Is(err, models.NewError(code)) works.
func (e *AgentError) Is(target error) bool {
	var other *AgentError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError returns an error identified only by its code.
func NewError(code string) *AgentError {
	return &AgentError{Code: code}
}

// WrapError attaches a code to an underlying cause.
func WrapError(code string, err error) *AgentError {
	return &AgentError{Code: code, Err: err}
}

// ErrorCode extracts the code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return ErrorCode(err) == code
}
