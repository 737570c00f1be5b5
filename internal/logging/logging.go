// Package logging provides structured JSON logging with sanitization.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// sensitiveKeys are keys that should be sanitized in logs.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"sid",
	"key",
	"credential",
	"auth",
}

// sensitiveQuery matches credentials carried in request URLs, which end up
// in transport error strings.
var sensitiveQuery = regexp.MustCompile(`(?i)\b(_sid|sid|passwd|password|account)=[^&\s"']*`)

// level is shared by every handler built by Setup so it can change at runtime.
var level = new(slog.LevelVar)

// SanitizingHandler wraps a slog.Handler to sanitize sensitive data.
type SanitizingHandler struct {
	handler  slog.Handler
	sanitize bool
}

// NewSanitizingHandler creates a new sanitizing handler.
func NewSanitizingHandler(handler slog.Handler, sanitize bool) *SanitizingHandler {
	return &SanitizingHandler{
		handler:  handler,
		sanitize: sanitize,
	}
}

// Enabled implements slog.Handler.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.sanitize {
		return h.handler.Handle(ctx, r)
	}

	newRecord := slog.NewRecord(r.Time, r.Level, ScrubString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(h.sanitizeAttr(a))
		return true
	})

	return h.handler.Handle(ctx, newRecord)
}

// WithAttrs implements slog.Handler.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.sanitize {
		sanitized := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			sanitized[i] = h.sanitizeAttr(a)
		}
		attrs = sanitized
	}
	return &SanitizingHandler{
		handler:  h.handler.WithAttrs(attrs),
		sanitize: h.sanitize,
	}
}

// WithGroup implements slog.Handler.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{
		handler:  h.handler.WithGroup(name),
		sanitize: h.sanitize,
	}
}

// sanitizeAttr redacts an attribute whose key is sensitive and scrubs
// credentials embedded in string values.
func (h *SanitizingHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		attrs := a.Value.Group()
		sanitized := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			sanitized[i] = h.sanitizeAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitized...)}
	case slog.KindString:
		return slog.String(a.Key, ScrubString(a.Value.String()))
	}

	return a
}

// IsSensitiveKey reports whether an attribute or parameter name carries a
// secret.
func IsSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(k, sensitive) {
			return true
		}
	}
	return false
}

// ScrubString redacts session ids and passwords found in URL query syntax.
func ScrubString(s string) string {
	if !strings.Contains(s, "=") {
		return s
	}
	return sensitiveQuery.ReplaceAllString(s, "$1=[REDACTED]")
}

// ParseLevel maps a config level name to a slog level; unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the level of loggers built by Setup.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// Level returns the current level of loggers built by Setup.
func Level() slog.Level {
	return level.Level()
}

// New builds a sanitizing JSON logger on w using the shared level.
func New(w io.Writer, sanitize bool) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(NewSanitizingHandler(jsonHandler, sanitize))
}

// Setup initializes the global logger on stderr, which keeps stdout free for
// the MCP stdio channel.
func Setup(levelName string, sanitize bool) *slog.Logger {
	SetLevel(levelName)
	logger := New(os.Stderr, sanitize)
	slog.SetDefault(logger)
	return logger
}
