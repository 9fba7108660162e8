package observability

import (
	"context"
	"log/slog"
)

// ContextKey is the type used for correlation IDs stored in contexts.
type ContextKey string

const (
	// RunIDKey is the context key for run IDs.
	RunIDKey ContextKey = "run_id"

	// SessionIDKey is the context key for brain session IDs.
	SessionIDKey ContextKey = "session_id"

	// AgentIDKey is the context key for browser agent IDs.
	AgentIDKey ContextKey = "agent_id"
)

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// RunID retrieves the run ID from the context, or "".
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// WithSessionID adds a brain session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// SessionID retrieves the brain session ID from the context, or "".
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithAgentID adds a browser agent ID to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// AgentID retrieves the browser agent ID from the context, or "".
func AgentID(ctx context.Context) string {
	if id, ok := ctx.Value(AgentIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext returns the logger annotated with every correlation ID
// present in the context. Handlers call this once and log through the result.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := RunID(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	if id := SessionID(ctx); id != "" {
		logger = logger.With("session_id", id)
	}
	if id := AgentID(ctx); id != "" {
		logger = logger.With("agent_id", id)
	}
	if id := GetTraceID(ctx); id != "" {
		logger = logger.With("trace_id", id)
	}
	return logger
}
