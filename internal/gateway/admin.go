package gateway

import (
	"context"
	"log/slog"

	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/internal/telegram"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// adminCommands maps administrative chat tokens to gateway commands. Only
// admin messages reach gateway_events (the ingress filters), so no further
// permission check happens here.
var adminCommands = map[string]string{
	".grace": events.TypeGatewayGrace,
	".smite": events.TypeGatewaySmite,
}

// handleAdminRaw maps the admin's command token onto a gateway command event
// and republishes it on the gateway's own queue.
func (e *Egress) handleAdminRaw(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	msg := telegram.Normalize(env.Payload)
	if len(msg.Parts) == 0 {
		return nil, nil
	}

	eventType, ok := adminCommands[msg.Parts[0]]
	if !ok {
		return nil, nil
	}

	command := env.Derive(eventType, env.Payload)
	if err := e.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, command); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Admin token mapped to gateway command",
		"token", msg.Parts[0], "event_type", eventType)
	return eventType, nil
}
