package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{
			name:     "carries id",
			ctx:      With(context.Background(), "corr-1"),
			expected: "corr-1",
		},
		{
			name:     "empty context",
			ctx:      context.Background(),
			expected: Unknown,
		},
		{
			name:     "empty id falls back to unknown",
			ctx:      With(context.Background(), ""),
			expected: Unknown,
		},
		{
			name:     "inner overrides outer",
			ctx:      With(With(context.Background(), "outer"), "inner"),
			expected: "inner",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromContext(tt.ctx); got != tt.expected {
				t.Errorf("FromContext() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLogHandler_StampsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewTextHandler(&buf, nil)))

	ctx := With(context.Background(), "corr-42")
	logger.InfoContext(ctx, "Published event", "queue", "telegram_events")

	out := buf.String()
	if !strings.Contains(out, "correlation_id=corr-42") {
		t.Errorf("log output missing correlation id: %s", out)
	}
}

func TestLogHandler_UnknownWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewTextHandler(&buf, nil)))

	logger.Info("no context")

	if !strings.Contains(buf.String(), "correlation_id=-") {
		t.Errorf("log output missing unknown marker: %s", buf.String())
	}
}
