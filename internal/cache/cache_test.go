package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTime_RoundTrip(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)
	ctx := context.Background()

	start := time.UnixMilli(1714557600500)
	mock.ExpectHSet("correlation_id:corr-1", "start_time", "1714557600.500").SetVal(1)
	require.NoError(t, s.SetStartTime(ctx, "corr-1", start))

	mock.ExpectHGet("correlation_id:corr-1", "start_time").SetVal("1714557600.500")
	got, ok, err := s.StartTime(ctx, "corr-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, start.UnixMilli(), got.UnixMilli())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartTime_Missing(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)

	mock.ExpectHGet("correlation_id:corr-2", "start_time").RedisNil()
	_, ok, err := s.StartTime(context.Background(), "corr-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessage_RoundTrip(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)
	ctx := context.Background()

	mock.ExpectHSet("correlation_id:corr-3:optimistic_reply",
		"message_id", int64(10), "chat_id", int64(-20)).SetVal(2)
	require.NoError(t, s.RecordMessage(ctx, "corr-3", "optimistic_reply", 10, -20))

	mock.ExpectHMGet("correlation_id:corr-3:optimistic_reply", "message_id", "chat_id").
		SetVal([]any{"10", "-20"})
	messageID, chatID, ok, err := s.Message(ctx, "corr-3", "optimistic_reply")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), messageID)
	assert.Equal(t, int64(-20), chatID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessage_MissingFieldsAreNotAnError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)

	mock.ExpectHMGet("correlation_id:corr-4:optimistic_reply", "message_id", "chat_id").
		SetVal([]any{nil, nil})
	_, _, ok, err := s.Message(context.Background(), "corr-4", "optimistic_reply")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContentID(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)
	ctx := context.Background()

	mock.ExpectSet("video_content:abc123", "file-id-9", ContentIDTTL).SetVal("OK")
	require.NoError(t, s.StoreContentID(ctx, "video", "abc123", "file-id-9"))

	mock.ExpectGet("video_content:abc123").SetVal("file-id-9")
	id, err := s.ContentID(ctx, "video", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "file-id-9", id)

	mock.ExpectGet("audio_content:missing").RedisNil()
	id, err = s.ContentID(ctx, "audio", "missing")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestInterestLock(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)
	ctx := context.Background()

	mock.ExpectSetNX("ongoing_video_content:abc", "1", InterestLockTTL).SetVal(true)
	ok, err := s.AcquireInterestLock(ctx, "video", "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("ongoing_video_content:abc", "1", InterestLockTTL).SetVal(false)
	ok, err = s.AcquireInterestLock(ctx, "video", "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectDel("ongoing_video_content:abc").SetVal(1)
	require.NoError(t, s.ReleaseInterestLock(ctx, "video", "abc"))
}

func TestChatGrants(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)
	ctx := context.Background()

	mock.ExpectSet("graced_chat:-100", "access_granted", AccessGrantTTL).SetVal("OK")
	require.NoError(t, s.GrantChat(ctx, -100))

	mock.ExpectGet("graced_chat:-100").SetVal("access_granted")
	ok, err := s.ChatGranted(ctx, -100)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectDel("graced_chat:-100").SetVal(1)
	require.NoError(t, s.RevokeChat(ctx, -100))

	mock.ExpectGet("graced_chat:-100").RedisNil()
	ok, err = s.ChatGranted(ctx, -100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanupCounter(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := New(rdb)
	ctx := context.Background()

	// First increment attaches the TTL.
	mock.ExpectIncr("cleanup_event_counter").SetVal(1)
	mock.ExpectExpire("cleanup_event_counter", CleanupCounterTTL).SetVal(true)
	count, err := s.IncrCleanupCounter(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Later increments do not.
	mock.ExpectIncr("cleanup_event_counter").SetVal(2)
	count, err = s.IncrCleanupCounter(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	mock.ExpectDel("cleanup_event_counter").SetVal(1)
	require.NoError(t, s.ResetCleanupCounter(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}
