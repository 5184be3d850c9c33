package telegram

import (
	"strings"
	"time"

	"github.com/mymmrac/telego"
)

// Serialize flattens a platform message into the bounded payload shape
// carried in events.telegram.raw. Only documented fields cross the bus;
// nothing downstream ever sees an SDK type.
//
// Shape:
//
//	id                  message id
//	chat                {id, type, title?}
//	from_user           {id, username?, first_name?}
//	text                message text (or caption for media posts)
//	date                RFC3339
//	reply_to_message_id present when the message is a reply
//	reply_to_message    {id, text, from_user?} when the message is a reply
//	media_type          present for non-text messages
func Serialize(msg *telego.Message) map[string]any {
	payload := map[string]any{
		"id":   int64(msg.MessageID),
		"chat": serializeChat(&msg.Chat),
		"text": textOrCaption(msg),
		"date": time.Unix(msg.Date, 0).UTC().Format(time.RFC3339),
	}

	if msg.From != nil {
		payload["from_user"] = serializeUser(msg.From)
	}
	if mediaType := mediaType(msg); mediaType != "" {
		payload["media_type"] = mediaType
	}
	if msg.ReplyToMessage != nil {
		replied := msg.ReplyToMessage
		payload["reply_to_message_id"] = int64(replied.MessageID)
		reply := map[string]any{
			"id":   int64(replied.MessageID),
			"text": textOrCaption(replied),
		}
		if replied.From != nil {
			reply["from_user"] = serializeUser(replied.From)
		}
		payload["reply_to_message"] = reply
	}

	return payload
}

func serializeChat(chat *telego.Chat) map[string]any {
	out := map[string]any{
		"id":   chat.ID,
		"type": chat.Type,
	}
	if chat.Title != "" {
		out["title"] = chat.Title
	}
	return out
}

func serializeUser(user *telego.User) map[string]any {
	out := map[string]any{
		"id": user.ID,
	}
	if user.Username != "" {
		out["username"] = user.Username
	}
	if user.FirstName != "" {
		out["first_name"] = user.FirstName
	}
	return out
}

func textOrCaption(msg *telego.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func mediaType(msg *telego.Message) string {
	switch {
	case msg.Sticker != nil:
		return "sticker"
	case len(msg.Photo) > 0:
		return "photo"
	case msg.Document != nil:
		return "document"
	case msg.Video != nil:
		return "video"
	case msg.Audio != nil:
		return "audio"
	case msg.Voice != nil:
		return "voice"
	case msg.Location != nil:
		return "location"
	default:
		return ""
	}
}

// Summary renders the one-line human log entry for an incoming message.
func Summary(msg *telego.Message) string {
	parts := []string{}

	if msg.From != nil {
		user := msg.From.Username
		if user == "" {
			user = "unknown"
		}
		parts = append(parts, "User: "+user)
	}
	parts = append(parts,
		"Chat Type: "+msg.Chat.Type,
		"Text: "+preview(textOrCaption(msg), 50),
	)
	if mediaType := mediaType(msg); mediaType != "" {
		parts = append(parts, "Message Type: "+mediaType)
	}
	if msg.ReplyToMessage != nil {
		parts = append(parts, "Reply to: "+preview(textOrCaption(msg.ReplyToMessage), 30))
	}
	return strings.Join(parts, " | ")
}

func preview(s string, n int) string {
	if s == "" {
		return "<no text>"
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
