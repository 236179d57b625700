// Package event decodes the server-to-client envelopes delivered over the
// per-session push channel.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind is the envelope discriminator.
type Kind string

// KindAvatarUpdate announces that a deferred avatar image is ready.
const KindAvatarUpdate Kind = "avatar_update"

// Event is a decoded push envelope. The set of variants is closed: callers
// type-switch over AvatarUpdate and Unknown.
type Event interface {
	Kind() Kind
	isEvent()
}

// AvatarUpdate carries the url of a freshly generated avatar.
type AvatarUpdate struct {
	AvatarURL string `json:"avatar_url"`
}

func (AvatarUpdate) Kind() Kind { return KindAvatarUpdate }
func (AvatarUpdate) isEvent()   {}

// Unknown is any envelope this client does not understand. It is never an
// error so newer servers can add event kinds.
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (u Unknown) Kind() Kind { return Kind(u.Name) }
func (Unknown) isEvent()     {}

type envelope struct {
	Event     string `json:"event"`
	Type      string `json:"type"`
	AvatarURL string `json:"avatar_url"`
}

// Decode parses one push frame. The discriminator is read from "event" and,
// when that is absent, from "type".
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode push envelope: %w", err)
	}

	name := env.Event
	if name == "" {
		name = env.Type
	}

	switch Kind(name) {
	case KindAvatarUpdate:
		if env.AvatarURL == "" {
			return Unknown{Name: name, Raw: append(json.RawMessage(nil), data...)}, nil
		}
		return AvatarUpdate{AvatarURL: env.AvatarURL}, nil
	default:
		return Unknown{Name: name, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// Encode renders an event in the wire form the backend uses.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case AvatarUpdate:
		return json.Marshal(struct {
			Event     Kind   `json:"event"`
			AvatarURL string `json:"avatar_url"`
		}{Event: KindAvatarUpdate, AvatarURL: e.AvatarURL})
	case Unknown:
		if len(e.Raw) > 0 {
			return e.Raw, nil
		}
		return json.Marshal(map[string]string{"event": e.Name})
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}
