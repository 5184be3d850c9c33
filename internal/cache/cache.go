// Package cache is the documented Redis keyspace shared by the services:
// correlation timing, content-id caching, interest locks, access grants and
// the disk-cleanup counter. Nothing outside this package touches these keys.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLs for the keyspace. Window-shaped keys expire on their own; the
// interest lock is shorter than the content cache so a crashed builder
// cannot block replays for long.
const (
	ContentIDTTL      = 600 * time.Second
	InterestLockTTL   = 500 * time.Second
	AccessGrantTTL    = 7 * 24 * time.Hour
	CleanupCounterTTL = 24 * time.Hour
)

const cleanupCounterKey = "cleanup_event_counter"

// Store wraps the Redis client with the documented key layout.
type Store struct {
	rdb *redis.Client
}

// New creates a Store over an established Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func correlationKey(correlationID string) string {
	return "correlation_id:" + correlationID
}

// SetStartTime records when a causal chain began, for elapsed-time reporting
// when the media is finally delivered.
func (s *Store) SetStartTime(ctx context.Context, correlationID string, t time.Time) error {
	return s.rdb.HSet(ctx, correlationKey(correlationID), "start_time",
		strconv.FormatFloat(float64(t.UnixMilli())/1000, 'f', 3, 64)).Err()
}

// StartTime returns the recorded chain start, or ok=false when none exists.
func (s *Store) StartTime(ctx context.Context, correlationID string) (time.Time, bool, error) {
	raw, err := s.rdb.HGet(ctx, correlationKey(correlationID), "start_time").Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt start_time %q: %w", raw, err)
	}
	return time.UnixMilli(int64(seconds * 1000)), true, nil
}

// DeleteStartTime drops the chain timing record.
func (s *Store) DeleteStartTime(ctx context.Context, correlationID string) error {
	return s.rdb.Del(ctx, correlationKey(correlationID)).Err()
}

func persistenceKey(correlationID, key string) string {
	return correlationKey(correlationID) + ":" + key
}

// RecordMessage stores a platform message under a persistence key so a later
// handler in the same chain can edit or delete it.
func (s *Store) RecordMessage(ctx context.Context, correlationID, key string, messageID, chatID int64) error {
	return s.rdb.HSet(ctx, persistenceKey(correlationID, key),
		"message_id", messageID,
		"chat_id", chatID,
	).Err()
}

// Message returns the message recorded under the persistence key;
// ok=false when either field is missing.
func (s *Store) Message(ctx context.Context, correlationID, key string) (messageID, chatID int64, ok bool, err error) {
	vals, err := s.rdb.HMGet(ctx, persistenceKey(correlationID, key), "message_id", "chat_id").Result()
	if err != nil {
		return 0, 0, false, err
	}
	messageID, okMsg := parseInt(vals[0])
	chatID, okChat := parseInt(vals[1])
	if !okMsg || !okChat {
		return 0, 0, false, nil
	}
	return messageID, chatID, true, nil
}

// ClearMessage removes the recorded message fields. Missing fields are fine.
func (s *Store) ClearMessage(ctx context.Context, correlationID, key string) error {
	return s.rdb.HDel(ctx, persistenceKey(correlationID, key), "message_id", "chat_id").Err()
}

func contentKey(kind, objectHash string) string {
	return kind + "_content:" + objectHash
}

func interestKey(kind, objectHash string) string {
	return "ongoing_" + kind + "_content:" + objectHash
}

// ContentID returns the platform-side file id cached for the object hash,
// or "" when not cached.
func (s *Store) ContentID(ctx context.Context, kind, objectHash string) (string, error) {
	id, err := s.rdb.Get(ctx, contentKey(kind, objectHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// StoreContentID caches the platform-side file id for replays.
func (s *Store) StoreContentID(ctx context.Context, kind, objectHash, fileID string) error {
	return s.rdb.Set(ctx, contentKey(kind, objectHash), fileID, ContentIDTTL).Err()
}

// AcquireInterestLock claims the at-most-one-builder lock for the object.
// Returns false when another handler already holds it.
func (s *Store) AcquireInterestLock(ctx context.Context, kind, objectHash string) (bool, error) {
	return s.rdb.SetNX(ctx, interestKey(kind, objectHash), "1", InterestLockTTL).Result()
}

// ReleaseInterestLock frees the builder lock.
func (s *Store) ReleaseInterestLock(ctx context.Context, kind, objectHash string) error {
	return s.rdb.Del(ctx, interestKey(kind, objectHash)).Err()
}

func gracedChatKey(chatID int64) string {
	return fmt.Sprintf("graced_chat:%d", chatID)
}

// GrantChat authorizes a chat for one week.
func (s *Store) GrantChat(ctx context.Context, chatID int64) error {
	return s.rdb.Set(ctx, gracedChatKey(chatID), "access_granted", AccessGrantTTL).Err()
}

// RevokeChat removes a chat's grant.
func (s *Store) RevokeChat(ctx context.Context, chatID int64) error {
	return s.rdb.Del(ctx, gracedChatKey(chatID)).Err()
}

// ChatGranted reports whether the chat currently holds a grant.
func (s *Store) ChatGranted(ctx context.Context, chatID int64) (bool, error) {
	_, err := s.rdb.Get(ctx, gracedChatKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IncrCleanupCounter bumps the rolling event counter behind the periodic
// downloads cleanup. The first increment attaches the daily TTL.
func (s *Store) IncrCleanupCounter(ctx context.Context) (int64, error) {
	count, err := s.rdb.Incr(ctx, cleanupCounterKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, cleanupCounterKey, CleanupCounterTTL).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// ResetCleanupCounter zeroes the counter after a cleanup has been scheduled.
func (s *Store) ResetCleanupCounter(ctx context.Context) error {
	return s.rdb.Del(ctx, cleanupCounterKey).Err()
}

func parseInt(v any) (int64, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
