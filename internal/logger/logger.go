// Package logger sets up structured JSON logging with log/slog. A trace id
// (scan id, runner cycle) stored in the context is stamped on every record
// logged with a *Context method.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type traceKey struct{}

// TraceAttr is the attribute key carrying the trace id.
const TraceAttr = "trace_id"

// Init creates the process logger for service, writing JSON to stdout, and
// installs it as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	h := traceHandler{slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})}
	l := slog.New(h).With(slog.String("service", service))
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values
// yield info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "warning":
		return slog.LevelWarn
	default:
		if lvl.UnmarshalText([]byte(v)) != nil {
			return slog.LevelInfo
		}
	}
	return lvl
}

// WithTraceID returns ctx carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace id in ctx, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// traceHandler adds trace_id from the record's context.
type traceHandler struct{ slog.Handler }

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := TraceID(ctx); id != "" {
		r.AddAttrs(slog.String(TraceAttr, id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}
