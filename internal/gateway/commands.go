package gateway

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/zxeenu/heavy-telegram-bot/internal/correlation"
	"github.com/zxeenu/heavy-telegram-bot/internal/events"
	"github.com/zxeenu/heavy-telegram-bot/internal/router"
	"github.com/zxeenu/heavy-telegram-bot/internal/telegram"
	"github.com/zxeenu/heavy-telegram-bot/pkg/envelopes"
)

// handleReply sends a plain-text reply into a chat. When the payload names a
// persistence key the resulting message id is recorded under the chain so a
// later handler can edit or delete it.
func (e *Egress) handleReply(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	chatID := asInt64(env.Payload["chat_id"])
	text, _ := env.Payload["text"].(string)
	replyTo := asInt64(env.Payload["reply_to_message_id"])

	if chatID == 0 || text == "" || replyTo == 0 {
		slog.ErrorContext(ctx, "Malformed payload, aborting", "event_type", env.Type)
		return nil, nil
	}

	sent, err := e.chat.SendMessage(ctx, chatID, text, replyTo)
	if err != nil {
		return nil, err
	}

	if key, _ := env.Payload["persistence_key"].(string); key != "" {
		correlationID := correlation.FromContext(ctx)
		if err := e.cache.RecordMessage(ctx, correlationID, key, sent.MessageID, chatID); err != nil {
			slog.WarnContext(ctx, "Failed to record message under persistence key",
				"key", key, "error", err)
		}
	}
	return sent.MessageID, nil
}

// handleMessageUpdate edits the caption of an existing message.
func (e *Egress) handleMessageUpdate(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	chatID := asInt64(env.Payload["chat_id"])
	messageID := asInt64(env.Payload["message_id"])
	text, _ := env.Payload["text"].(string)

	if chatID == 0 || messageID == 0 || text == "" {
		slog.ErrorContext(ctx, "Malformed payload, aborting", "event_type", env.Type)
		return nil, nil
	}

	if err := e.chat.EditCaption(ctx, chatID, messageID, text); err != nil {
		return nil, err
	}
	return messageID, nil
}

// handleDownloadsCleanup unlinks the oldest files from the local staging
// directory. Files vanishing concurrently is expected and non-fatal.
func (e *Egress) handleDownloadsCleanup(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	maxDelete := int(asInt64(env.Payload["max_delete"]))
	if maxDelete <= 0 {
		maxDelete = e.cleanupMaxDelete
	}

	deleted, err := deleteOldestFiles(e.downloadsDir, maxDelete)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Download cleanup executed",
		"max_delete", maxDelete, "total_deleted", len(deleted))
	return len(deleted), nil
}

// deleteOldestFiles removes up to maxDelete files from dir, oldest mtime
// first.
func deleteOldestFiles(dir string, maxDelete int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type fileAge struct {
		path  string
		mtime int64
	}
	files := make([]fileAge, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileAge{
			path:  filepath.Join(dir, entry.Name()),
			mtime: info.ModTime().UnixNano(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime < files[j].mtime })
	if len(files) > maxDelete {
		files = files[:maxDelete]
	}

	deleted := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.Remove(f.path); err != nil {
			// The send flow may have removed it already.
			continue
		}
		deleted = append(deleted, f.path)
	}
	return deleted, nil
}

// handleGrace authorizes the source chat for a week and reacts to the
// message that asked.
func (e *Egress) handleGrace(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	msg := telegram.Normalize(env.Payload)
	if msg.ChatID == 0 {
		slog.ErrorContext(ctx, "Malformed payload, aborting", "event_type", env.Type)
		return nil, nil
	}

	if err := e.cache.GrantChat(ctx, msg.ChatID); err != nil {
		return nil, err
	}
	if err := e.chat.React(ctx, msg.ChatID, msg.MessageID, "👍"); err != nil {
		slog.WarnContext(ctx, "Failed to react to grace command", "error", err)
	}
	slog.InfoContext(ctx, "Chat graced", "chat_id", msg.ChatID)
	return msg.ChatID, nil
}

// handleSmite revokes the source chat's grant.
func (e *Egress) handleSmite(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	msg := telegram.Normalize(env.Payload)
	if msg.ChatID == 0 {
		slog.ErrorContext(ctx, "Malformed payload, aborting", "event_type", env.Type)
		return nil, nil
	}

	if err := e.cache.RevokeChat(ctx, msg.ChatID); err != nil {
		return nil, err
	}
	if err := e.chat.React(ctx, msg.ChatID, msg.MessageID, "🔥"); err != nil {
		slog.WarnContext(ctx, "Failed to react to smite command", "error", err)
	}
	slog.InfoContext(ctx, "Chat smitten", "chat_id", msg.ChatID)
	return msg.ChatID, nil
}

// diskCleanupCounter is the global after-middleware that schedules a
// downloads cleanup once enough events have flowed through the gateway.
func (e *Egress) diskCleanupCounter(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	count, err := e.cache.IncrCleanupCounter(ctx)
	if err != nil {
		return nil, err
	}
	if count < e.cleanupThreshold {
		return count, nil
	}

	if err := e.cache.ResetCleanupCounter(ctx); err != nil {
		return nil, err
	}

	cleanup := envelopes.New(events.TypeGatewayDownloadsCleanup, map[string]any{
		"max_delete": e.cleanupMaxDelete,
	})
	if err := e.publisher.PublishEnvelope(ctx, events.QueueGatewayEvents, cleanup); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Scheduled downloads cleanup", "after_events", count)
	return count, nil
}

// maybeCleanupCorrelation is the opt-in after-middleware that removes the
// chain's start-time record once the media has been delivered.
func (e *Egress) maybeCleanupCorrelation(ctx context.Context, env *envelopes.Envelope, sc *router.Scratch) (any, error) {
	if !sc.CleanupCorrelationStart {
		return "skipped", nil
	}
	correlationID := correlation.FromContext(ctx)
	if err := e.cache.DeleteStartTime(ctx, correlationID); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Correlation timing record removed")
	return "cleaned", nil
}
