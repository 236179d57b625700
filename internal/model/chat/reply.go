package chat

import (
	"encoding/json"
	"fmt"
)

// ReplyStatus discriminates the shapes of a POST /chat response.
type ReplyStatus string

const (
	// StatusSuccess carries the final avatar url inline.
	StatusSuccess ReplyStatus = "success"
	// StatusGeneratingAvatar defers the avatar to a later push event.
	StatusGeneratingAvatar ReplyStatus = "generating_avatar"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`
}

// Reply is the decoded POST /chat response.
type Reply struct {
	Status    ReplyStatus `json:"status"`
	ReplyText string      `json:"reply_text"`
	AvatarURL string      `json:"avatar_url,omitempty"`
}

// Deferred reports whether the avatar will arrive over the push channel.
func (r Reply) Deferred() bool {
	return r.Status == StatusGeneratingAvatar
}

// ParseReply decodes and validates a POST /chat body.
func ParseReply(data []byte) (Reply, error) {
	var raw struct {
		Status    ReplyStatus `json:"status"`
		ReplyText *string     `json:"reply_text"`
		AvatarURL string      `json:"avatar_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reply{}, fmt.Errorf("decode chat reply: %w", err)
	}

	switch raw.Status {
	case StatusSuccess, StatusGeneratingAvatar:
	default:
		return Reply{}, fmt.Errorf("unrecognized chat reply status %q", raw.Status)
	}
	if raw.ReplyText == nil {
		return Reply{}, fmt.Errorf("chat reply missing reply_text")
	}

	return Reply{Status: raw.Status, ReplyText: *raw.ReplyText, AvatarURL: raw.AvatarURL}, nil
}
