package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxeenu/heavy-telegram-bot/internal/cache"
	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/media"
	"github.com/zxeenu/heavy-telegram-bot/internal/ratelimit"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/internal/staging"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// capturingPublisher records published envelopes per queue.
type capturingPublisher struct {
	published map[string][]*envelopes.Envelope
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{published: map[string][]*envelopes.Envelope{}}
}

func (p *capturingPublisher) PublishEnvelope(ctx context.Context, queueName string, env *envelopes.Envelope) error {
	p.published[queueName] = append(p.published[queueName], env)
	return nil
}

// fakeStager simulates the staging bucket.
type fakeStager struct {
	objects  map[string]staging.Metadata
	uploads  []string
	presigns []string
}

func newFakeStager() *fakeStager {
	return &fakeStager{objects: map[string]staging.Metadata{}}
}

func (f *fakeStager) Stat(ctx context.Context, key string) (staging.Metadata, bool, error) {
	meta, ok := f.objects[key]
	return meta, ok, nil
}

func (f *fakeStager) Upload(ctx context.Context, key, filePath, contentType string, meta staging.Metadata) error {
	f.objects[key] = meta
	f.uploads = append(f.uploads, key)
	return nil
}

func (f *fakeStager) PresignedGet(ctx context.Context, key, contentType, filename string) (string, error) {
	f.presigns = append(f.presigns, key)
	return "https://minio.local/media/" + key + "?X-Amz-Signature=sig", nil
}

// fakeDownloader writes a stub file and reports it.
type fakeDownloader struct {
	dir   string
	calls int
	err   error
}

func (f *fakeDownloader) Download(ctx context.Context, url string, kind media.Kind) (media.Result, error) {
	f.calls++
	if f.err != nil {
		return media.Result{}, f.err
	}
	path := filepath.Join(f.dir, "stub.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		return media.Result{}, err
	}
	return media.Result{
		Path:        path,
		Extension:   ".mp4",
		ContentType: "video/mp4",
		Filename:    "stub.mp4",
	}, nil
}

func rawMessagePayload(text, replyText string) map[string]any {
	payload := map[string]any{
		"id":   float64(11),
		"text": text,
		"chat": map[string]any{"id": float64(-200), "type": "group"},
		"from_user": map[string]any{
			"id":       float64(7),
			"username": "captain",
		},
	}
	if replyText != "" {
		payload["reply_to_message_id"] = float64(5)
		payload["reply_to_message"] = map[string]any{"id": float64(5), "text": replyText}
	}
	return payload
}

func newTestService(t *testing.T, mockSetup func(redismock.ClientMock), downloader media.Downloader) (*Service, *capturingPublisher, *fakeStager, *router.Router) {
	t.Helper()

	rdb, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(false)
	if mockSetup != nil {
		mockSetup(mock)
	}

	publisher := newCapturingPublisher()
	stager := newFakeStager()
	svc := New(publisher, cache.New(rdb), ratelimit.New(rdb), stager, downloader)

	r := router.New()
	svc.Register(r)
	return svc, publisher, stager, r
}

func dispatch(t *testing.T, r *router.Router, env *envelopes.Envelope) {
	t.Helper()
	ctx := correlation.With(context.Background(), env.CorrelationID)
	_, err := r.Dispatch(ctx, env)
	require.NoError(t, err)
}

func TestRawMessage_MapsCommandAndChargesQuota(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, _, r := newTestService(t, func(mock redismock.ClientMock) {
		mock.Regexp().ExpectGet(`rate_limit:7:\d+`).RedisNil()
		mock.Regexp().ExpectIncr(`rate_limit:7:\d+`).SetVal(1)
		mock.Regexp().ExpectExpire(`rate_limit:7:\d+`, ratelimit.DefaultWindow).SetVal(true)
	}, downloader)

	env := envelopes.New(events.TypeTelegramRaw, rawMessagePayload(".vdl https://host/clip?x=1", ""),
		envelopes.WithCorrelationID("corr-w1"))
	dispatch(t, r, env)

	commands := publisher.published[events.QueueTelegramEvents]
	require.Len(t, commands, 1)
	assert.Equal(t, events.TypeVideoDownload, commands[0].Type)
	assert.Equal(t, "corr-w1", commands[0].CorrelationID)

	replies := publisher.published[events.QueueGatewayEvents]
	require.Len(t, replies, 1)
	assert.Equal(t, events.TypeGatewayReply, replies[0].Type)
	assert.Equal(t, "🫡 Let me process that for you.", replies[0].Payload["text"])
	assert.Equal(t, events.OptimisticReplyKey, replies[0].Payload["persistence_key"])
	assert.Equal(t, "corr-w1", replies[0].CorrelationID)
}

func TestRawMessage_UnknownTokenDropped(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, _, r := newTestService(t, nil, downloader)

	env := envelopes.New(events.TypeTelegramRaw, rawMessagePayload("hello there", ""),
		envelopes.WithCorrelationID("corr-w2"))
	dispatch(t, r, env)

	assert.Empty(t, publisher.published[events.QueueTelegramEvents])
	assert.Empty(t, publisher.published[events.QueueGatewayEvents])
}

func TestRawMessage_RateLimited(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, _, r := newTestService(t, func(mock redismock.ClientMock) {
		mock.Regexp().ExpectGet(`rate_limit:7:\d+`).SetVal("5")
	}, downloader)

	env := envelopes.New(events.TypeTelegramRaw, rawMessagePayload(".vdl https://host/clip", ""),
		envelopes.WithCorrelationID("corr-w3"))
	dispatch(t, r, env)

	assert.Empty(t, publisher.published[events.QueueTelegramEvents],
		"no command event may be published for a rate-limited user")

	replies := publisher.published[events.QueueGatewayEvents]
	require.Len(t, replies, 1)
	assert.Equal(t, events.TypeGatewayReply, replies[0].Type)
	assert.Equal(t, "⏳ Too many requests. Please try again shortly.", replies[0].Payload["text"])
	assert.True(t, replies[0].IsRateLimited)
}

func TestDownload_BucketHitSkipsDownloader(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, stager, r := newTestService(t, nil, downloader)

	normalized, err := staging.NormalizeURL("https://host/clip?x=1")
	require.NoError(t, err)
	key := staging.ObjectKey("video", staging.HashURL(normalized))
	stager.objects[key] = staging.Metadata{Extension: ".mp4", OriginalName: "clip.mp4"}

	env := envelopes.New(events.TypeVideoDownload, rawMessagePayload(".vdl https://host/clip?x=1", ""),
		envelopes.WithCorrelationID("corr-w4"))
	dispatch(t, r, env)

	assert.Zero(t, downloader.calls, "staged object must not be re-downloaded")

	ready := publisher.published[events.QueueGatewayEvents]
	require.Len(t, ready, 1)
	assert.Equal(t, events.TypeVideoReady, ready[0].Type)
	assert.Contains(t, ready[0].Payload["presigned_url"], key)
	assert.Equal(t, "corr-w4", ready[0].CorrelationID)
}

func TestDownload_StagesAndPublishesReady(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, stager, r := newTestService(t, nil, downloader)

	env := envelopes.New(events.TypeVideoDownload, rawMessagePayload(".vdl https://host/clip?x=2", ""),
		envelopes.WithCorrelationID("corr-w5"))
	dispatch(t, r, env)

	assert.Equal(t, 1, downloader.calls)

	normalized, err := staging.NormalizeURL("https://host/clip?x=2")
	require.NoError(t, err)
	key := staging.ObjectKey("video", staging.HashURL(normalized))
	require.Contains(t, stager.objects, key)
	assert.Equal(t, ".mp4", stager.objects[key].Extension)
	assert.Equal(t, normalized, stager.objects[key].CleanedURL)

	ready := publisher.published[events.QueueGatewayEvents]
	require.Len(t, ready, 1)
	assert.Equal(t, events.TypeVideoReady, ready[0].Type)
	assert.Equal(t, int64(11), ready[0].Payload["message_id"])
	assert.Equal(t, int64(-200), ready[0].Payload["chat_id"])

	// Temp file cleaned up after upload.
	_, statErr := os.Stat(filepath.Join(downloader.dir, "stub.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_IdenticalNormalizedURLsShareObjectKey(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, stager, r := newTestService(t, nil, downloader)

	first := envelopes.New(events.TypeVideoDownload, rawMessagePayload(".vdl https://host/clip?x=1", ""),
		envelopes.WithCorrelationID("corr-a"))
	dispatch(t, r, first)

	second := envelopes.New(events.TypeVideoDownload, rawMessagePayload(".vdl https://host/clip?x=2", ""),
		envelopes.WithCorrelationID("corr-b"))
	dispatch(t, r, second)

	// Second request hits the staged object; only one download happened.
	assert.Equal(t, 1, downloader.calls)
	assert.Len(t, stager.uploads, 1)

	ready := publisher.published[events.QueueGatewayEvents]
	require.Len(t, ready, 2)
	assert.Contains(t, ready[0].Payload["presigned_url"], stager.uploads[0])
	assert.Contains(t, ready[1].Payload["presigned_url"], stager.uploads[0])
}

func TestDownload_URLFromReply(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, _, r := newTestService(t, nil, downloader)

	env := envelopes.New(events.TypeAudioDownload, rawMessagePayload(".adl", "https://host/song"),
		envelopes.WithCorrelationID("corr-w6"))
	dispatch(t, r, env)

	assert.Equal(t, 1, downloader.calls)
	ready := publisher.published[events.QueueGatewayEvents]
	require.Len(t, ready, 1)
	assert.Equal(t, events.TypeAudioReady, ready[0].Type)
}

func TestDownload_UnsupportedSourceUpdatesOptimisticReply(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir(), err: media.ErrUnsupportedSource}
	_, publisher, _, r := newTestService(t, func(mock redismock.ClientMock) {
		mock.ExpectHMGet("correlation_id:corr-w7:optimistic_reply", "message_id", "chat_id").
			SetVal([]any{"33", "-200"})
	}, downloader)

	env := envelopes.New(events.TypeVideoDownload, rawMessagePayload(".vdl https://host/broken", ""),
		envelopes.WithCorrelationID("corr-w7"))
	dispatch(t, r, env)

	updates := publisher.published[events.QueueGatewayEvents]
	require.Len(t, updates, 1)
	assert.Equal(t, events.TypeGatewayMessageUpdate, updates[0].Type)
	assert.Equal(t, "💣 Unsupported source", updates[0].Payload["text"])
	assert.Equal(t, int64(33), updates[0].Payload["message_id"])
}

func TestDownload_NoURLIsDropped(t *testing.T) {
	downloader := &fakeDownloader{dir: t.TempDir()}
	_, publisher, _, r := newTestService(t, nil, downloader)

	env := envelopes.New(events.TypeVideoDownload, rawMessagePayload(".vdl", ""),
		envelopes.WithCorrelationID("corr-w8"))
	dispatch(t, r, env)

	assert.Empty(t, publisher.published[events.QueueGatewayEvents])
	assert.Zero(t, downloader.calls)
}
