// The media-pirate worker maps chat command tokens to download commands,
// stages the fetched media in the object bucket and tells the gateway when
// an artifact is ready.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zxeenu/heavy-telegram-bot/internal/config"
	"github.com/zxeenu/heavy-telegram-bot/internal/consumer"
	"github.com/zxeenu/heavy-telegram-bot/internal/container"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/media"
	"github.com/zxeenu/heavy-telegram-bot/internal/ratelimit"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/internal/worker"
)

func main() {
	container.SetupLogging("media-pirate")

	if err := run(); err != nil {
		slog.Error("MediaPirate terminated", "error", err)
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

	slog.InfoContext(ctx, "MediaPirate service started")

	if err := c.Bucket.Ensure(ctx); err != nil {
		return err
	}

	limiter := ratelimit.New(c.Redis,
		ratelimit.WithWindow(cfg.Tunables.RateLimitWindow),
		ratelimit.WithMaxRequests(cfg.Tunables.RateLimitMax))
	downloader := media.NewYTDLP(cfg.DownloadsDir)

	svc := worker.New(c, c.Cache, limiter, c.Bucket, downloader)
	r := router.New()
	svc.Register(r)

	return consumer.New(c.Bus, r, events.QueueTelegramEvents).Run(ctx)
}
