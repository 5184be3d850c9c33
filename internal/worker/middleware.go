package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// maybeRateLimitIncrement runs after every dispatch. When the handler flagged
// the request as meaningful it charges the user's quota and sends the
// optimistic "processing" reply, recorded under the optimistic-reply key so
// the gateway can delete it once the real media lands.
func (s *Service) maybeRateLimitIncrement(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	if !sc.IncrementRateLimit {
		return "skipped", nil
	}

	count, err := s.limiter.Increment(ctx, sc.UserID)
	if err != nil {
		return nil, fmt.Errorf("rate limit increment: %w", err)
	}
	slog.InfoContext(ctx, "Rate limit incremented", "user_id", sc.UserID, "use_count", count)

	reply := env.Derive(events.TypeGatewayReply, map[string]any{
		"chat_id":             sc.ChatID,
		"text":                "🫡 Let me process that for you.",
		"reply_to_message_id": sc.MessageID,
		"persistence_key":     events.OptimisticReplyKey,
	})
	if err := s.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, reply); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Sent optimistic reply", "chat_id", sc.ChatID)
	return count, nil
}

// dispatchMessageUpdate edits the chain's optimistic reply — when one was
// recorded — to carry the given text. Used to surface download failures.
func (s *Service) dispatchMessageUpdate(ctx context.Context, text string) error {
	correlationID := correlation.FromContext(ctx)

	messageID, chatID, ok, err := s.cache.Message(ctx, correlationID, events.OptimisticReplyKey)
	if err != nil {
		return fmt.Errorf("look up optimistic reply: %w", err)
	}
	if !ok {
		slog.WarnContext(ctx, "No optimistic reply recorded, nothing to update")
		return nil
	}

	update := envelopes.New(events.TypeGatewayMessageUpdate, map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, envelopes.WithCorrelationID(correlationID))
	return s.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, update)
}
