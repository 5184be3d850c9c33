// The gateway bridges Telegram and the event bus: it ingests raw chat
// messages onto telegram_events and executes gateway commands from
// gateway_events.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zxeenu/heavy-telegram-bot/internal/auth"
	"github.com/zxeenu/heavy-telegram-bot/internal/config"
	"github.com/zxeenu/heavy-telegram-bot/internal/consumer"
	"github.com/zxeenu/heavy-telegram-bot/internal/container"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/gateway"
	"github.com/zxeenu/heavy-telegram-bot/internal/ratelimit"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/internal/telegram"
)

func main() {
	container.SetupLogging("gateway")

	if err := run(); err != nil {
		slog.Error("Gateway terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	c, err := container.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	chat, err := telegram.NewClient(cfg.TelegramToken)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(c.Redis,
		ratelimit.WithWindow(cfg.Tunables.RateLimitWindow),
		ratelimit.WithMaxRequests(cfg.Tunables.RateLimitMax))
	authenticator := auth.New(cfg.AdminUserID, c.Cache)

	ingress := gateway.NewIngress(c, c.Cache, authenticator, limiter)

	egress := gateway.NewEgress(c, c.Cache, chat, gateway.EgressConfig{
		DownloadsDir:     cfg.DownloadsDir,
		CleanupThreshold: cfg.Tunables.CleanupThreshold,
		CleanupMaxDelete: cfg.Tunables.CleanupMaxDelete,
	})
	r := router.New()
	egress.Register(r)

	loop := consumer.New(c.Bus, r, events.QueueGatewayEvents)

	slog.InfoContext(ctx, "Gateway service started")

	errc := make(chan error, 2)
	go func() { errc <- ingress.Run(ctx, chat.Bot()) }()
	go func() { errc <- loop.Run(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
		return nil
	case err := <-errc:
		return err
	}
}
