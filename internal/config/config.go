// Package config loads service configuration from the environment, with an
// optional YAML overrides file for tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selects the bus implementation.
const (
	TransportRabbitMQ = "rabbitmq"
	TransportSQS      = "sqs"
)

// Config is everything a service needs to come up.
type Config struct {
	// Broker
	Transport     string
	RabbitMQUser  string
	RabbitMQPass  string
	RabbitMQHost  string
	RabbitMQPort  int
	RabbitMQVHost string
	SQSRegion     string
	SQSEndpoint   string
	QueueDurable  bool

	// Cache
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Object store
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Secure    bool
	S3Bucket    string

	// Chat platform
	TelegramToken string
	AdminUserID   int64

	// Local staging
	DownloadsDir string

	// Tunables (overridable via BOT_CONFIG_FILE)
	Tunables Tunables
}

// Tunables are the runtime knobs with sane defaults.
type Tunables struct {
	RateLimitWindow  time.Duration
	RateLimitMax     int
	CleanupThreshold int64
	CleanupMaxDelete int
}

// tunablesFile is the YAML shape of the overrides file. Zero values mean
// "keep the default"; durations are plain seconds.
type tunablesFile struct {
	RateLimitWindowSeconds int   `yaml:"rate_limit_window_seconds"`
	RateLimitMax           int   `yaml:"rate_limit_max"`
	CleanupThreshold       int64 `yaml:"cleanup_threshold"`
	CleanupMaxDelete       int   `yaml:"cleanup_max_delete"`
}

func defaultTunables() Tunables {
	return Tunables{
		RateLimitWindow:  60 * time.Second,
		RateLimitMax:     5,
		CleanupThreshold: 100,
		CleanupMaxDelete: 100,
	}
}

// AMQPURL builds the broker connection string.
func (c *Config) AMQPURL() string {
	vhost := c.RabbitMQVHost
	if !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.RabbitMQUser, c.RabbitMQPass, c.RabbitMQHost, c.RabbitMQPort, vhost)
}

// RedisAddr builds the cache address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Load reads the environment and the optional overrides file named by
// BOT_CONFIG_FILE. Missing required variables are reported together.
func Load() (*Config, error) {
	var missing []string

	requireString := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	optionalString := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Transport:     optionalString("BUS_TRANSPORT", TransportRabbitMQ),
		RabbitMQVHost: optionalString("RABBITMQ_VHOST", "/"),
		SQSRegion:     optionalString("SQS_REGION", "eu-west-1"),
		SQSEndpoint:   os.Getenv("SQS_ENDPOINT"),
		QueueDurable:  boolEnv("QUEUE_DURABLE", false),
		S3Secure:      boolEnv("S3_SECURE", false),
		DownloadsDir:  optionalString("DOWNLOADS_DIR", "./downloads"),
		Tunables:      defaultTunables(),
	}

	switch cfg.Transport {
	case TransportRabbitMQ:
		cfg.RabbitMQUser = requireString("RABBITMQ_USER")
		cfg.RabbitMQPass = requireString("RABBITMQ_PASS")
		cfg.RabbitMQHost = requireString("RABBITMQ_HOST")
		port, err := intEnv("RABBITMQ_PORT", 0)
		if err != nil {
			return nil, err
		}
		if port == 0 {
			missing = append(missing, "RABBITMQ_PORT")
		}
		cfg.RabbitMQPort = port
	case TransportSQS:
		// Region has a default; credentials come from the standard AWS chain.
	default:
		return nil, fmt.Errorf("unknown BUS_TRANSPORT %q", cfg.Transport)
	}

	cfg.RedisHost = requireString("REDIS_HOST")
	redisPort, err := intEnv("REDIS_PORT", 6379)
	if err != nil {
		return nil, err
	}
	cfg.RedisPort = redisPort
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.S3Endpoint = requireString("S3_ENDPOINT")
	cfg.S3AccessKey = requireString("S3_ACCESS_KEY")
	cfg.S3SecretKey = requireString("S3_SECRET_KEY")
	cfg.S3Bucket = requireString("S3_BUCKET_NAME")

	cfg.TelegramToken = requireString("TELEGRAM_BOT_TOKEN")
	adminID, err := int64Env("TELEGRAM_ADMIN_USER_ID", 0)
	if err != nil {
		return nil, err
	}
	if adminID == 0 {
		missing = append(missing, "TELEGRAM_ADMIN_USER_ID")
	}
	cfg.AdminUserID = adminID

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if path := os.Getenv("BOT_CONFIG_FILE"); path != "" {
		if err := loadOverrides(path, &cfg.Tunables); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func loadOverrides(path string, t *Tunables) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var file tunablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if file.RateLimitWindowSeconds < 0 || file.RateLimitMax < 0 ||
		file.CleanupThreshold < 0 || file.CleanupMaxDelete < 0 {
		return fmt.Errorf("config file %s: tunables must not be negative", path)
	}

	if file.RateLimitWindowSeconds > 0 {
		t.RateLimitWindow = time.Duration(file.RateLimitWindowSeconds) * time.Second
	}
	if file.RateLimitMax > 0 {
		t.RateLimitMax = file.RateLimitMax
	}
	if file.CleanupThreshold > 0 {
		t.CleanupThreshold = file.CleanupThreshold
	}
	if file.CleanupMaxDelete > 0 {
		t.CleanupMaxDelete = file.CleanupMaxDelete
	}
	return nil
}

func boolEnv(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
