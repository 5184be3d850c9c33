// Package container assembles the shared collaborators of a service — bus,
// cache, bucket — from configuration. Each main constructs one container at
// startup and passes it down; nothing in here is a global.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/zxeenu/heavy-telegram-bot/internal/cache"
	"github.com/zxeenu/heavy-telegram-bot/internal/config"
	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/internal/queue"
	"github.com/zxeenu/heavy-telegram-bot/internal/staging"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// Container owns the connections a service shares across handlers.
type Container struct {
	Config *config.Config
	Bus    queue.Client
	Redis  *redis.Client
	Cache  *cache.Store
	Bucket *staging.Bucket
}

// SetupLogging installs the process-wide structured logger with correlation
// id stamping. Call it before anything logs.
func SetupLogging(service string) {
	handler := correlation.NewLogHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(slog.New(handler).With("service", service))
}

// New connects to the broker, the cache and the object store.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	bus, err := newBus(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.InfoContext(ctx, "Connected to Redis", "addr", cfg.RedisAddr())

	minioClient, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3Secure,
	})
	if err != nil {
		_ = bus.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &Container{
		Config: cfg,
		Bus:    bus,
		Redis:  rdb,
		Cache:  cache.New(rdb),
		Bucket: staging.NewBucket(minioClient, cfg.S3Bucket),
	}, nil
}

func newBus(ctx context.Context, cfg *config.Config) (queue.Client, error) {
	switch cfg.Transport {
	case config.TransportSQS:
		return queue.NewSQSClient(ctx, queue.SQSConfig{
			Region:   cfg.SQSRegion,
			Endpoint: cfg.SQSEndpoint,
		})
	default:
		client, err := queue.NewRabbitMQClient(cfg.AMQPURL(), cfg.QueueDurable)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "Connected to RabbitMQ", "host", cfg.RabbitMQHost)
		return client, nil
	}
}

// PublishEnvelope serializes the envelope and publishes it to the named
// queue.
func (c *Container) PublishEnvelope(ctx context.Context, queueName string, env *envelopes.Envelope) error {
	body, err := env.ToWire()
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}
	if err := c.Bus.Publish(ctx, queueName, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published event", "queue", queueName, "event_type", env.Type)
	return nil
}

// Close releases broker and cache connections.
func (c *Container) Close() {
	if err := c.Bus.Close(); err != nil {
		slog.Error("Failed to close bus", "error", err)
	}
	if err := c.Redis.Close(); err != nil {
		slog.Error("Failed to close redis", "error", err)
	}
}
