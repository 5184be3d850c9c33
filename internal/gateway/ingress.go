package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"

	"github.com/zxeenu/heavy-telegram-bot/internal/auth"
	"github.com/zxeenu/heavy-telegram-bot/internal/cache"
	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/ratelimit"
	"github.com/zxeenu/heavy-telegram-bot/internal/telegram"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// Ingress turns raw chat messages into events.telegram.raw envelopes. Every
// message starts a fresh causal chain.
type Ingress struct {
	publisher Publisher
	cache     *cache.Store
	auth      *auth.Authenticator
	limiter   *ratelimit.FixedWindow
}

// NewIngress creates the ingress half of the gateway.
func NewIngress(publisher Publisher, store *cache.Store, authenticator *auth.Authenticator, limiter *ratelimit.FixedWindow) *Ingress {
	return &Ingress{
		publisher: publisher,
		cache:     store,
		auth:      authenticator,
		limiter:   limiter,
	}
}

// Run long-polls the platform for messages until the context is cancelled.
func (i *Ingress) Run(ctx context.Context, bot *telego.Bot) error {
	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Gateway ingress started, polling for messages")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			i.HandleMessage(ctx, update.Message)
		}
	}
}

// HandleMessage authenticates, fingerprints and publishes one chat message.
func (i *Ingress) HandleMessage(ctx context.Context, msg *telego.Message) {
	correlationID := uuid.NewString()
	ctx = correlation.With(ctx, correlationID)

	if msg.From == nil {
		slog.InfoContext(ctx, "Message without sender, dropping")
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	allowed, err := i.auth.IsAllowed(ctx, userID, chatID)
	if err != nil {
		slog.ErrorContext(ctx, "Authentication check failed", "error", err)
		return
	}
	if !allowed {
		slog.InfoContext(ctx, "Unauthenticated message dropped",
			"user_id", userID, "chat_id", chatID)
		return
	}

	// Non-mutating check: only the worker decides what counts against the
	// quota. The flag rides along as an advisory signal.
	withinQuota, err := i.limiter.Allowed(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Rate limit check failed", "error", err)
		return
	}

	if err := i.cache.SetStartTime(ctx, correlationID, time.Now()); err != nil {
		slog.WarnContext(ctx, "Failed to record chain start time", "error", err)
	}

	env := envelopes.New(events.TypeTelegramRaw, telegram.Serialize(msg),
		envelopes.WithCorrelationID(correlationID),
		envelopes.WithRateLimited(!withinQuota))

	if err := i.publisher.PublishEnvelope(ctx, events.QueueTelegramEvents, env); err != nil {
		slog.ErrorContext(ctx, "Failed to publish raw event", "error", err)
		return
	}

	// Admin messages also flow to the gateway's own queue so administrative
	// command tokens can be mapped there.
	if i.auth.IsAdmin(userID) {
		if err := i.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, env); err != nil {
			slog.ErrorContext(ctx, "Failed to publish admin copy", "error", err)
		}
	}

	slog.InfoContext(ctx, telegram.Summary(msg))
}
