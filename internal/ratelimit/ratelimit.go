// Package ratelimit implements a fixed-window request limiter on Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults for the per-user quota.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 5
)

// FixedWindow counts requests per user in fixed wall-clock windows.
//
// Allowed never mutates the counter: callers decide whether a request is
// meaningful enough to charge via Increment, so non-command chat traffic
// does not burn quota.
type FixedWindow struct {
	rdb         *redis.Client
	window      time.Duration
	maxRequests int
	now         func() time.Time
}

// Option tunes the limiter.
type Option func(*FixedWindow)

// WithWindow overrides the window length.
func WithWindow(window time.Duration) Option {
	return func(l *FixedWindow) { l.window = window }
}

// WithMaxRequests overrides the per-window quota.
func WithMaxRequests(n int) Option {
	return func(l *FixedWindow) { l.maxRequests = n }
}

// withClock fixes the clock for tests.
func withClock(now func() time.Time) Option {
	return func(l *FixedWindow) { l.now = now }
}

// New creates a limiter with the default 5 requests per 60 seconds.
func New(rdb *redis.Client, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		rdb:         rdb,
		window:      DefaultWindow,
		maxRequests: DefaultMaxRequests,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *FixedWindow) key(userID int64) string {
	windowSeconds := int64(l.window / time.Second)
	windowStart := l.now().Unix() / windowSeconds * windowSeconds
	return fmt.Sprintf("rate_limit:%d:%d", userID, windowStart)
}

// Allowed reports whether the user still has quota in the current window.
func (l *FixedWindow) Allowed(ctx context.Context, userID int64) (bool, error) {
	raw, err := l.rdb.Get(ctx, l.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	current, err := strconv.Atoi(raw)
	if err != nil {
		return false, fmt.Errorf("corrupt rate limit counter %q: %w", raw, err)
	}
	return current < l.maxRequests, nil
}

// Increment charges one request against the user's window and returns the new
// count. The first increment in a window attaches the window-length TTL.
func (l *FixedWindow) Increment(ctx context.Context, userID int64) (int64, error) {
	key := l.key(userID)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
