package correlation

import (
	"context"
	"log/slog"
)

// LogHandler decorates a slog.Handler so every record carries the
// correlation id from the context as a "correlation_id" attribute.
type LogHandler struct {
	inner slog.Handler
}

// NewLogHandler wraps inner with correlation id stamping.
func NewLogHandler(inner slog.Handler) *LogHandler {
	return &LogHandler{inner: inner}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.String("correlation_id", FromContext(ctx)))
	return h.inner.Handle(ctx, record)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{inner: h.inner.WithGroup(name)}
}
