package telegram

import (
	"strings"
)

// NormalizedMessage is the structured view of an events.telegram.raw payload
// after it has crossed the wire. Numeric fields arrive as JSON numbers; zero
// values mean the field was absent.
type NormalizedMessage struct {
	MessageID        int64
	ChatID           int64
	Text             string
	Parts            []string // whitespace-split, empties dropped
	FromUserID       int64
	FromUserName     string
	ReplyToMessageID int64
	ReplyText        string
}

// Normalize extracts the structured fields out of a raw payload map.
// Malformed or missing fields degrade to zero values; callers validate what
// they need.
func Normalize(payload map[string]any) NormalizedMessage {
	n := NormalizedMessage{
		MessageID: asInt64(payload["id"]),
		Text:      asString(payload["text"]),
	}

	if chat, ok := payload["chat"].(map[string]any); ok {
		n.ChatID = asInt64(chat["id"])
	}
	if user, ok := payload["from_user"].(map[string]any); ok {
		n.FromUserID = asInt64(user["id"])
		n.FromUserName = asString(user["username"])
	}

	n.ReplyToMessageID = asInt64(payload["reply_to_message_id"])
	if reply, ok := payload["reply_to_message"].(map[string]any); ok {
		n.ReplyText = asString(reply["text"])
	}

	n.Parts = strings.Fields(n.Text)
	return n
}

func asString(v any) string {
	s, _ := v.(string)
	return s
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
