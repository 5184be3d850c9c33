// Package gateway bridges the chat platform and the bus: the ingress side
// wraps raw chat messages into envelopes, the egress side executes commands
// and delivers staged media back to the user.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/zxeenu/heavy-telegram-bot/internal/cache"
	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/media"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/internal/staging"
	"github.com/zxeenu/heavy-telegram-bot/internal/telegram"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// deferBase is how long a contender sleeps before re-publishing a ready
// event it could not claim the interest lock for. A fraction of a second of
// jitter keeps contenders from thundering back in step.
const deferBase = 2 * time.Second

// Publisher sends envelopes onto the bus.
type Publisher interface {
	PublishEnvelope(ctx context.Context, queueName string, env *envelopes.Envelope) error
}

// Egress executes gateway commands and delivers staged media.
type Egress struct {
	publisher    Publisher
	cache        *cache.Store
	chat         telegram.API
	httpClient   *http.Client
	downloadsDir string

	cleanupThreshold int64
	cleanupMaxDelete int

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// EgressConfig carries the tunables the egress needs.
type EgressConfig struct {
	DownloadsDir     string
	CleanupThreshold int64
	CleanupMaxDelete int
}

// NewEgress creates the egress service.
func NewEgress(publisher Publisher, store *cache.Store, chat telegram.API, cfg EgressConfig) *Egress {
	return &Egress{
		publisher:        publisher,
		cache:            store,
		chat:             chat,
		httpClient:       http.DefaultClient,
		downloadsDir:     cfg.DownloadsDir,
		cleanupThreshold: cfg.CleanupThreshold,
		cleanupMaxDelete: cfg.CleanupMaxDelete,
		sleep:            time.Sleep,
	}
}

// Register declares the egress routes and middleware.
func (e *Egress) Register(r *router.Router) {
	router.RegisterGuard(r)
	r.MustRegisterAfter("disk_cleanup_counter", e.diskCleanupCounter)
	r.MustRegisterMiddleware("maybe_cleanup_correlation", e.maybeCleanupCorrelation)

	readyOpts := router.Options{After: []string{"maybe_cleanup_correlation"}}
	r.MustRoute(events.TypeVideoReady, 1, readyOpts, e.readyHandler(media.KindVideo))
	r.MustRoute(events.TypeAudioReady, 1, readyOpts, e.readyHandler(media.KindAudio))

	r.MustRoute(events.TypeTelegramRaw, 1, router.Options{}, e.handleAdminRaw)
	r.MustRoute(events.TypeGatewayReply, 1, router.Options{}, e.handleReply)
	r.MustRoute(events.TypeGatewayMessageUpdate, 1, router.Options{}, e.handleMessageUpdate)
	r.MustRoute(events.TypeGatewayDownloadsCleanup, 1, router.Options{}, e.handleDownloadsCleanup)
	r.MustRoute(events.TypeGatewayGrace, 1, router.Options{}, e.handleGrace)
	r.MustRoute(events.TypeGatewaySmite, 1, router.Options{}, e.handleSmite)
}

// readyPayload validates the fields every *.ready event must carry.
func readyPayload(env *envelopes.Envelope) (presignedURL string, messageID, chatID int64, err error) {
	presignedURL, _ = env.Payload["presigned_url"].(string)
	messageID = asInt64(env.Payload["message_id"])
	chatID = asInt64(env.Payload["chat_id"])
	if presignedURL == "" || messageID == 0 || chatID == 0 {
		return "", 0, 0, fmt.Errorf("malformed ready payload")
	}
	return presignedURL, messageID, chatID, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// readyHandler delivers a staged artifact to the user. Duplicate ready
// events for the same object coalesce on the interest lock: the holder
// uploads once and caches the platform file id, contenders replay the cached
// id or defer themselves.
func (e *Egress) readyHandler(kind media.Kind) router.Handler {
	return func(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
		presignedURL, messageID, chatID, err := readyPayload(env)
		if err != nil {
			slog.ErrorContext(ctx, "Malformed payload, aborting", "event_type", env.Type)
			return nil, nil
		}

		baseURL, err := staging.PresignedBase(presignedURL)
		if err != nil {
			slog.ErrorContext(ctx, "Unparseable presigned URL, aborting", "error", err)
			return nil, nil
		}
		objectName := staging.HashURL(baseURL)

		cachedID, err := e.cache.ContentID(ctx, string(kind), objectName)
		if err != nil {
			return nil, err
		}
		if cachedID != "" {
			return e.deliverCached(ctx, kind, objectName, cachedID, chatID, messageID, sc)
		}

		acquired, err := e.cache.AcquireInterestLock(ctx, string(kind), objectName)
		if err != nil {
			return nil, err
		}
		if !acquired {
			// Someone else is uploading this object right now. Back off and
			// re-publish the envelope onto the queue it came from; by then
			// the content id is usually cached.
			delay := deferBase + time.Duration(rand.Int63n(int64(time.Second)))
			slog.InfoContext(ctx, "Interest lock held elsewhere, deferring",
				"object", objectName, "delay", delay)
			e.sleep(delay)
			if err := e.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, env); err != nil {
				return nil, err
			}
			return "deferred", nil
		}

		return e.deliverFresh(ctx, kind, objectName, presignedURL, chatID, messageID, sc)
	}
}

func (e *Egress) deliverCached(ctx context.Context, kind media.Kind, objectName, fileID string, chatID, messageID int64, sc *router.Scratch) (any, error) {
	caption := e.finalCaption(ctx)

	_, err := e.chat.SendMedia(ctx, kind, chatID, telegram.Source{FileID: fileID}, caption, messageID)
	if err != nil {
		return nil, fmt.Errorf("send cached %s: %w", kind, err)
	}
	slog.InfoContext(ctx, "Delivered cached media", "kind", kind, "object", objectName, "file_id", fileID)

	if err := e.cache.ReleaseInterestLock(ctx, string(kind), objectName); err != nil {
		slog.WarnContext(ctx, "Failed to release interest lock", "error", err)
	}
	sc.CleanupCorrelationStart = true
	return "cached", nil
}

func (e *Egress) deliverFresh(ctx context.Context, kind media.Kind, objectName, presignedURL string, chatID, messageID int64, sc *router.Scratch) (any, error) {
	filePath, err := e.fetchToDisk(ctx, presignedURL, objectName)
	if err != nil {
		return nil, err
	}

	correlationID := correlation.FromContext(ctx)
	initialCaption := fmt.Sprintf("🚀 **Downloading**\nID: `%s`", correlationID)

	sent, err := e.chat.SendMedia(ctx, kind, chatID, telegram.Source{Path: filePath}, initialCaption, messageID)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", kind, err)
	}

	if err := e.chat.EditCaption(ctx, chatID, sent.MessageID, e.finalCaption(ctx)); err != nil {
		slog.WarnContext(ctx, "Failed to edit caption", "error", err)
	}

	if sent.FileID != "" {
		if err := e.cache.StoreContentID(ctx, string(kind), objectName, sent.FileID); err != nil {
			slog.WarnContext(ctx, "Failed to cache content id", "error", err)
		}
		slog.InfoContext(ctx, "Media uploaded and content id cached",
			"kind", kind, "object", objectName, "file_id", sent.FileID)
	}

	if err := e.cache.ReleaseInterestLock(ctx, string(kind), objectName); err != nil {
		slog.WarnContext(ctx, "Failed to release interest lock", "error", err)
	}

	e.cleanupOptimisticReply(ctx)
	sc.CleanupCorrelationStart = true
	return "delivered", nil
}

// fetchToDisk downloads the presigned URL into the downloads directory named
// by the object hash, skipping the fetch when the file is already present.
func (e *Egress) fetchToDisk(ctx context.Context, presignedURL, objectName string) (string, error) {
	filePath := filepath.Join(e.downloadsDir, objectName)
	if _, err := os.Stat(filePath); err == nil {
		slog.InfoContext(ctx, "File already on disk, skipping fetch", "path", filePath)
		return filePath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedURL, nil)
	if err != nil {
		return "", fmt.Errorf("build staging request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch staged artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch staged artifact: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(e.downloadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = os.Remove(filePath)
		return "", fmt.Errorf("write staging file: %w", err)
	}

	slog.InfoContext(ctx, "File written to downloads directory", "path", filePath)
	return filePath, nil
}

// finalCaption renders the delivery caption with the elapsed wall time since
// the chain started.
func (e *Egress) finalCaption(ctx context.Context) string {
	correlationID := correlation.FromContext(ctx)

	start, ok, err := e.cache.StartTime(ctx, correlationID)
	if err != nil || !ok {
		if err != nil {
			slog.WarnContext(ctx, "Failed to read start time", "error", err)
		}
		return fmt.Sprintf("🚀 **Download Complete**\nID: `%s`", correlationID)
	}

	elapsed := time.Since(start)
	return fmt.Sprintf("🚀 **Download Complete**\nTook: __%s__\nID: `%s`",
		humanElapsed(elapsed), correlationID)
}

// humanElapsed renders sub-second times in milliseconds and everything else
// rounded to hundredths of a second.
func humanElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2f ms", float64(d.Microseconds())/1000)
	}
	return d.Round(10 * time.Millisecond).String()
}

// cleanupOptimisticReply deletes the worker's "processing" message, if one
// was recorded for this chain. Missing records are a no-op.
func (e *Egress) cleanupOptimisticReply(ctx context.Context) {
	correlationID := correlation.FromContext(ctx)

	messageID, chatID, ok, err := e.cache.Message(ctx, correlationID, events.OptimisticReplyKey)
	if err != nil {
		slog.WarnContext(ctx, "Failed to look up optimistic reply", "error", err)
		return
	}
	if !ok {
		return
	}

	if err := e.chat.DeleteMessage(ctx, chatID, messageID); err != nil {
		slog.WarnContext(ctx, "Failed to delete optimistic reply", "error", err)
	}
	if err := e.cache.ClearMessage(ctx, correlationID, events.OptimisticReplyKey); err != nil {
		slog.WarnContext(ctx, "Failed to clear optimistic reply record", "error", err)
	}
	slog.InfoContext(ctx, "Handled optimistic reply cleanup",
		"message_id", messageID, "chat_id", chatID)
}
