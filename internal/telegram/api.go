// Package telegram adapts the chat platform behind a narrow interface: the
// gateway sends and edits messages through API, and raw platform messages are
// flattened into the bounded payload shape carried on the bus.
package telegram

import (
	"context"

	"github.com/zxeenu/heavy-telegram-bot/internal/media"
)

// Source selects where outgoing media comes from: a local file, or a
// platform-side file id cached from a previous upload.
type Source struct {
	Path   string
	FileID string
}

// SentMessage reports the outcome of a send: the new message id and, for
// media uploads, the platform-side file id usable for cheap replays.
type SentMessage struct {
	MessageID int64
	FileID    string
}

// API is the surface of the chat platform the gateway depends on.
type API interface {
	// SendMessage sends a plain-text reply. replyTo of zero means no reply
	// threading.
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (SentMessage, error)

	// SendMedia uploads a video or audio file, or replays a cached file id.
	SendMedia(ctx context.Context, kind media.Kind, chatID int64, src Source, caption string, replyTo int64) (SentMessage, error)

	// EditCaption replaces the caption of a media message.
	EditCaption(ctx context.Context, chatID, messageID int64, caption string) error

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// React attaches an emoji reaction to a message.
	React(ctx context.Context, chatID, messageID int64, emoji string) error
}
