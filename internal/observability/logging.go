// Package observability provides the ambient logging, metrics, and tracing
// facilities shared by the brain service, the control loop, and the workers.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format selects the output format: "json" or "text".
	// JSON is the serve-mode default; text suits interactive runs.
	Format string

	// Output is the destination writer (defaults to os.Stderr).
	Output io.Writer

	// AddSource includes file:line in records.
	AddSource bool

	// RedactPatterns are extra regexes applied on top of the defaults.
	RedactPatterns []string

	// LevelVar, when set, becomes the handler's leveler so the caller can
	// retune the level at runtime (config hot reload). It is initialized
	// from Level.
	LevelVar *slog.LevelVar
}

// DefaultRedactPatterns match credentials that must never reach a log line.
var DefaultRedactPatterns = []string{
	// OpenAI-style API keys
	`sk-[a-zA-Z0-9_-]{20,}`,
	// Bearer tokens in header dumps
	`(?i)bearer\s+[a-zA-Z0-9_\-\.]{16,}`,
	// Explicit key-value leaks
	`(?i)(api[_-]?key|criticKey|assistantKey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
}

// NewLogger builds a *slog.Logger whose handler redacts credential-shaped
// substrings from the message and every string attribute before emission.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	var leveler slog.Leveler = ParseLevel(cfg.Level)
	if cfg.LevelVar != nil {
		cfg.LevelVar.Set(ParseLevel(cfg.Level))
		leveler = cfg.LevelVar
	}
	opts := &slog.HandlerOptions{Level: leveler, AddSource: cfg.AddSource}

	var inner slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		inner = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		inner = slog.NewTextHandler(cfg.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(cfg.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return slog.New(&redactingHandler{inner: inner, redacts: redacts})
}

// ParseLevel maps a config level string onto a slog level, defaulting to
// Info for anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactingHandler rewrites string values through the redaction patterns.
type redactingHandler struct {
	inner   slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted), redacts: h.redacts}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), redacts: h.redacts}
}

func (h *redactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redact(attr.Value.String()))
	case slog.KindGroup:
		members := attr.Value.Group()
		redacted := make([]any, 0, len(members))
		for _, member := range members {
			redacted = append(redacted, h.redactAttr(member))
		}
		return slog.Group(attr.Key, redacted...)
	default:
		return attr
	}
}

func (h *redactingHandler) redact(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, "***")
	}
	return s
}
