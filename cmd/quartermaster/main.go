// The quartermaster is reserved for failure fan-out. For now it drains its
// queue and logs what it sees; no handlers are registered yet.
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
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
)

func main() {
	container.SetupLogging("quartermaster")

	if err := run(); err != nil {
		slog.Error("QuarterMaster terminated", "error", err)
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

	slog.InfoContext(ctx, "QuarterMaster service started")

	// An empty route table: every delivery is logged as unrouted and
	// acknowledged, which is all the stub needs to do.
	return consumer.New(c.Bus, router.New(), events.QueueQuartermasterEvents).Run(ctx)
}
