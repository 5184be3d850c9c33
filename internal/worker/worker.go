// Package worker implements the media-pirate service: it maps chat command
// tokens to command events, downloads the requested media, stages it in the
// object bucket and announces readiness to the gateway.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/zxeenu/heavy-telegram-bot/internal/cache"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/media"
	"github.com/zxeenu/heavy-telegram-bot/internal/ratelimit"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/internal/staging"
	"github.com/zxeenu/heavy-telegram-bot/internal/telegram"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// commandEvents maps chat command tokens to the command events they trigger.
var commandEvents = map[string]string{
	".vdl": events.TypeVideoDownload,
	".adl": events.TypeAudioDownload,
}

// kindForEvent maps a download command event back to its media kind.
var kindForEvent = map[string]media.Kind{
	events.TypeVideoDownload: media.KindVideo,
	events.TypeAudioDownload: media.KindAudio,
}

// readyEventForKind maps a media kind to the ready event the gateway consumes.
var readyEventForKind = map[media.Kind]string{
	media.KindVideo: events.TypeVideoReady,
	media.KindAudio: events.TypeAudioReady,
}

// Publisher sends derived envelopes onto the bus.
type Publisher interface {
	PublishEnvelope(ctx context.Context, queueName string, env *envelopes.Envelope) error
}

// Stager is the slice of the staging bucket the worker uses.
type Stager interface {
	Stat(ctx context.Context, key string) (staging.Metadata, bool, error)
	Upload(ctx context.Context, key, filePath, contentType string, meta staging.Metadata) error
	PresignedGet(ctx context.Context, key, contentType, filename string) (string, error)
}

// Service wires the worker's handlers and middleware onto a router.
type Service struct {
	publisher  Publisher
	cache      *cache.Store
	limiter    *ratelimit.FixedWindow
	bucket     Stager
	downloader media.Downloader
}

// New creates the worker service.
func New(publisher Publisher, store *cache.Store, limiter *ratelimit.FixedWindow, bucket Stager, downloader media.Downloader) *Service {
	return &Service{
		publisher:  publisher,
		cache:      store,
		limiter:    limiter,
		bucket:     bucket,
		downloader: downloader,
	}
}

// Register declares the worker's routes and middleware.
func (s *Service) Register(r *router.Router) {
	router.RegisterGuard(r)
	r.MustRegisterAfter("maybe_rate_limit_increment", s.maybeRateLimitIncrement)

	r.MustRoute(events.TypeTelegramRaw, 1, router.Options{}, s.handleRawMessage)
	r.MustRoute(events.TypeVideoDownload, 1, router.Options{}, s.handleDownload)
	r.MustRoute(events.TypeAudioDownload, 1, router.Options{}, s.handleDownload)
}

// handleRawMessage maps the leading command token of a chat message to a
// command event and republishes it, charging the rate limit only for
// meaningful (command-bearing) traffic.
func (s *Service) handleRawMessage(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	msg := telegram.Normalize(env.Payload)
	if len(msg.Parts) == 0 {
		slog.InfoContext(ctx, "Message has no actionable keywords, skipping")
		return nil, nil
	}

	commandWord := msg.Parts[0]
	eventType, ok := commandEvents[commandWord]
	if !ok {
		slog.InfoContext(ctx, "No command mapping for token, skipping", "token", commandWord)
		return nil, nil
	}

	allowed, err := s.limiter.Allowed(ctx, msg.FromUserID)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		reply := env.Derive(events.TypeGatewayReply, map[string]any{
			"chat_id":             msg.ChatID,
			"text":                "⏳ Too many requests. Please try again shortly.",
			"reply_to_message_id": msg.MessageID,
		}, envelopes.WithRateLimited(true))
		if err := s.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, reply); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "Request dropped: user is rate limited", "user_id", msg.FromUserID)
		return "rate_limited", nil
	}

	command := env.Derive(eventType, env.Payload)
	if err := s.publisher.PublishEnvelope(ctx, events.QueueTelegramEvents, command); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Command token mapped to command event",
		"token", commandWord, "event_type", eventType)

	// Charge the quota and send the optimistic reply once dispatch unwinds.
	sc.IncrementRateLimit = true
	sc.UserID = msg.FromUserID
	sc.ChatID = msg.ChatID
	sc.MessageID = msg.MessageID
	return eventType, nil
}

// handleDownload resolves the requested URL, stages the artifact under its
// content hash (downloading only on a bucket miss) and publishes the ready
// event carrying a presigned link.
func (s *Service) handleDownload(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	kind := kindForEvent[env.Type]
	msg := telegram.Normalize(env.Payload)

	rawURL := resolveURL(msg)
	if rawURL == "" {
		slog.WarnContext(ctx, "Command does not contain a valid URL")
		return nil, nil
	}

	normalized, err := staging.NormalizeURL(rawURL)
	if err != nil {
		slog.WarnContext(ctx, "Rejecting unusable URL", "url", rawURL, "error", err)
		return nil, s.reportUnsupported(ctx)
	}

	urlHash := staging.HashURL(normalized)
	objectKey := staging.ObjectKey(string(kind), urlHash)

	meta, exists, err := s.bucket.Stat(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	if exists {
		slog.InfoContext(ctx, "Object already staged, skipping download", "object", objectKey)
		return s.publishReady(ctx, env, kind, objectKey, meta, msg)
	}

	result, err := s.downloader.Download(ctx, rawURL, kind)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedSource) {
			slog.WarnContext(ctx, "Download not supported", "url", rawURL)
			return nil, s.reportUnsupported(ctx)
		}
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}

	meta = staging.Metadata{
		Extension:         result.Extension,
		OriginalName:      result.Filename,
		SourceURLHash:     urlHash,
		DownloadTimestamp: time.Now().UTC(),
		OriginalURL:       rawURL,
		CleanedURL:        normalized,
		URLDomain:         staging.Domain(normalized),
	}
	if err := s.bucket.Upload(ctx, objectKey, result.Path, result.ContentType, meta); err != nil {
		return nil, err
	}

	if err := os.Remove(result.Path); err != nil {
		slog.WarnContext(ctx, "Failed to clean up temp file", "path", result.Path, "error", err)
	}

	return s.publishReady(ctx, env, kind, objectKey, staging.Metadata{
		Extension:    result.Extension,
		OriginalName: result.Filename,
	}, msg)
}

func (s *Service) publishReady(ctx context.Context, env *envelopes.Envelope, kind media.Kind, objectKey string, meta staging.Metadata, msg telegram.NormalizedMessage) (any, error) {
	contentType := contentTypeFor(kind, meta.Extension)
	filename := meta.OriginalName
	if filename == "" {
		filename = "download" + meta.Extension
	}

	presigned, err := s.bucket.PresignedGet(ctx, objectKey, contentType, filename)
	if err != nil {
		return nil, err
	}

	ready := env.Derive(readyEventForKind[kind], map[string]any{
		"presigned_url": presigned,
		"message_id":    msg.MessageID,
		"chat_id":       msg.ChatID,
	})
	if err := s.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, ready); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Published ready event", "event_type", ready.Type, "object", objectKey)
	return objectKey, nil
}

// reportUnsupported edits the user's optimistic reply into an error caption.
func (s *Service) reportUnsupported(ctx context.Context) error {
	return s.dispatchMessageUpdate(ctx, "💣 Unsupported source")
}

// resolveURL picks the download URL from the command argument or, failing
// that, from the replied-to message.
func resolveURL(msg telegram.NormalizedMessage) string {
	if len(msg.Parts) > 1 && isHTTPURL(msg.Parts[1]) {
		return strings.TrimSpace(msg.Parts[1])
	}
	if isHTTPURL(msg.ReplyText) {
		return strings.TrimSpace(msg.ReplyText)
	}
	return ""
}

func isHTTPURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func contentTypeFor(kind media.Kind, extension string) string {
	switch extension {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".webm":
		return "video/webm"
	case ".m4a":
		return "audio/mp4"
	}
	if kind == media.KindAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}
