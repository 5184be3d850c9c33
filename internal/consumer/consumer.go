// Package consumer runs the per-service dispatch loop: pull a delivery from
// the input queue, thread the correlation id, dispatch through the router,
// acknowledge. Every service shares this loop.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/internal/queue"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// ErrMissingCorrelationID aborts the process: an event without a correlation
// id is a programming error upstream, not a recoverable delivery.
var ErrMissingCorrelationID = errors.New("missing correlation_id in event")

// Loop consumes one queue and dispatches every delivery through the router.
type Loop struct {
	client    queue.Client
	router    *router.Router
	queueName string
}

// New creates a dispatch loop over the named queue.
func New(client queue.Client, r *router.Router, queueName string) *Loop {
	return &Loop{
		client:    client,
		router:    r,
		queueName: queueName,
	}
}

// Run blocks until the context is cancelled or a fatal condition is hit.
// Fatal conditions (missing correlation id, context corruption) are returned
// so main can abort the process; everything else is logged and dropped.
func (l *Loop) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Starting consumer", "queue", l.queueName)

	for {
		msg, err := l.client.Receive(ctx, l.queueName)
		if err != nil {
			if ctx.Err() != nil {
				slog.InfoContext(ctx, "Stopping consumer", "queue", l.queueName)
				return nil
			}
			slog.ErrorContext(ctx, "Error receiving from queue", "queue", l.queueName, "error", err)
			continue
		}

		if err := l.handle(ctx, msg); err != nil {
			// The delivery was not acknowledged; requeue it for another
			// consumer before aborting.
			if nackErr := l.client.Nack(ctx, msg); nackErr != nil {
				slog.ErrorContext(ctx, "Failed to nack message", "error", nackErr)
			}
			return fmt.Errorf("consumer %s: %w", l.queueName, err)
		}
	}
}

// handle processes one delivery. A non-nil return is fatal for the process.
func (l *Loop) handle(ctx context.Context, msg queue.Message) error {
	// Peek at the correlation id before full parsing: JSON noise is dropped,
	// but a well-formed event without a correlation id means a producer bug.
	var head struct {
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.Unmarshal(msg.Body(), &head); err != nil {
		slog.ErrorContext(ctx, "Invalid JSON in message, dropping", "queue", l.queueName, "error", err)
		return l.ack(ctx, msg)
	}
	if head.CorrelationID == "" {
		slog.ErrorContext(ctx, "Fatal: missing correlation_id in event", "queue", l.queueName)
		return ErrMissingCorrelationID
	}

	ctx = correlation.With(ctx, head.CorrelationID)

	env, err := envelopes.FromWire(msg.Body())
	if err != nil {
		slog.ErrorContext(ctx, "Malformed envelope, dropping", "queue", l.queueName, "error", err)
		return l.ack(ctx, msg)
	}

	if l.router.Lookup(env) == nil {
		slog.WarnContext(ctx, "No handler registered for event",
			"event_type", env.Type, "version", env.Version)
		return l.ack(ctx, msg)
	}

	if _, err := l.router.Dispatch(ctx, env); err != nil {
		if errors.Is(err, router.ErrContextCorrupted) {
			slog.ErrorContext(ctx, "Fatal: correlation context corrupted", "error", err)
			return err
		}
		slog.ErrorContext(ctx, "Dispatch failed",
			"event_type", env.Type, "version", env.Version, "error", err)
	}

	return l.ack(ctx, msg)
}

func (l *Loop) ack(ctx context.Context, msg queue.Message) error {
	if err := l.client.Ack(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to ack message", "queue", l.queueName, "error", err)
	}
	return nil
}
