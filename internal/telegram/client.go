package telegram

import (
	"context"
	"fmt"
	"os"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/zxeenu/heavy-telegram-bot/internal/media"
)

// Client implements API on the Bot API via telego.
type Client struct {
	bot *telego.Bot
}

// NewClient creates a bot client for the given token.
func NewClient(token string) (*Client, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Client{bot: bot}, nil
}

// Bot exposes the underlying telego bot for the ingress long-poller.
func (c *Client) Bot() *telego.Bot {
	return c.bot
}

func replyParams(replyTo int64) *telego.ReplyParameters {
	if replyTo == 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: int(replyTo)}
}

// SendMessage sends a plain-text message, optionally as a reply.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (SentMessage, error) {
	params := tu.Message(tu.ID(chatID), text)
	params.ReplyParameters = replyParams(replyTo)

	msg, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return SentMessage{}, fmt.Errorf("failed to send message: %w", err)
	}
	return SentMessage{MessageID: int64(msg.MessageID)}, nil
}

func inputFile(src Source) (telego.InputFile, *os.File, error) {
	if src.FileID != "" {
		return tu.FileFromID(src.FileID), nil, nil
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return telego.InputFile{}, nil, fmt.Errorf("failed to open media file: %w", err)
	}
	return tu.File(f), f, nil
}

// SendMedia uploads a local file or replays a cached file id as video or
// audio.
func (c *Client) SendMedia(ctx context.Context, kind media.Kind, chatID int64, src Source, caption string, replyTo int64) (SentMessage, error) {
	file, handle, err := inputFile(src)
	if err != nil {
		return SentMessage{}, err
	}
	if handle != nil {
		defer handle.Close()
	}

	switch kind {
	case media.KindAudio:
		params := &telego.SendAudioParams{
			ChatID:          tu.ID(chatID),
			Audio:           file,
			Caption:         caption,
			ReplyParameters: replyParams(replyTo),
		}
		msg, err := c.bot.SendAudio(ctx, params)
		if err != nil {
			return SentMessage{}, fmt.Errorf("failed to send audio: %w", err)
		}
		sent := SentMessage{MessageID: int64(msg.MessageID)}
		if msg.Audio != nil {
			sent.FileID = msg.Audio.FileID
		}
		return sent, nil

	default:
		params := &telego.SendVideoParams{
			ChatID:          tu.ID(chatID),
			Video:           file,
			Caption:         caption,
			ReplyParameters: replyParams(replyTo),
		}
		msg, err := c.bot.SendVideo(ctx, params)
		if err != nil {
			return SentMessage{}, fmt.Errorf("failed to send video: %w", err)
		}
		sent := SentMessage{MessageID: int64(msg.MessageID)}
		if msg.Video != nil {
			sent.FileID = msg.Video.FileID
		}
		return sent, nil
	}
}

// EditCaption replaces a media message's caption.
func (c *Client) EditCaption(ctx context.Context, chatID, messageID int64, caption string) error {
	_, err := c.bot.EditMessageCaption(ctx, &telego.EditMessageCaptionParams{
		ChatID:    tu.ID(chatID),
		MessageID: int(messageID),
		Caption:   caption,
	})
	if err != nil {
		return fmt.Errorf("failed to edit caption: %w", err)
	}
	return nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: int(messageID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// React attaches an emoji reaction.
func (c *Client) React(ctx context.Context, chatID, messageID int64, emoji string) error {
	err := c.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: int(messageID),
		Reaction: []telego.ReactionType{
			&telego.ReactionTypeEmoji{
				Type:  telego.ReactionEmoji,
				Emoji: emoji,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to react: %w", err)
	}
	return nil
}
