// Package pipeline sends user messages and reconciles the reply with the
// active session's transcript and avatar.
package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/avatar"
	"github.com/zhouzirui/z-tavern/client/internal/service/history"
)

// ErrNoActiveSession is returned when a message is sent with nothing selected.
var ErrNoActiveSession = errors.New("no active session")

// Outcome is the terminal state of one send.
type Outcome int

const (
	// Idle: empty input, nothing happened.
	Idle Outcome = iota
	// Applied: reply and avatar applied.
	Applied
	// AppliedPending: reply applied, avatar awaits a push event.
	AppliedPending
	// Failed: an error notice was appended in place of a reply.
	Failed
	// Stale: the session stopped being active before the reply was applied.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Idle:
		return "idle"
	case Applied:
		return "applied"
	case AppliedPending:
		return "applied_pending"
	case Failed:
		return "failed"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Sender posts a chat turn to the backend.
type Sender interface {
	SendChat(ctx context.Context, sessionID, text string) (chat.Reply, error)
}

// Pipeline 负责发送用户消息并回写回复与头像状态
type Pipeline struct {
	sender     Sender
	transcript *history.Transcript
	avatars    *avatar.Holder
	active     history.ActiveFunc
}

// New creates a pipeline writing into transcript and avatars for the session
// reported by active.
func New(sender Sender, transcript *history.Transcript, avatars *avatar.Holder, active history.ActiveFunc) *Pipeline {
	return &Pipeline{
		sender:     sender,
		transcript: transcript,
		avatars:    avatars,
		active:     active,
	}
}

// Send trims text, echoes it into the transcript, posts it and applies the
// reply. The echo is never rolled back. On failure the error is returned
// together with Failed after the error notice has been appended.
func (p *Pipeline) Send(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Idle, nil
	}

	sessionID := p.active()
	if sessionID == "" {
		return Idle, ErrNoActiveSession
	}

	logger := log.With().
		Str("component", "pipeline").
		Str("session_id", sessionID).
		Str("request_id", uuid.NewString()).
		Logger()

	gen, ok := p.transcript.Track(sessionID, chat.UserMessage(text))
	if !ok {
		logger.Debug().Msg("transcript not bound to active session, message not sent")
		return Stale, nil
	}
	rev := p.avatars.Revision()
	logger.Debug().Msg("sending")

	reply, err := p.sender.SendChat(ctx, sessionID, text)

	// Leaving and re-entering the session rebuilds its transcript without
	// the echo; the generation catches that where the id alone cannot.
	if p.active() != sessionID || p.transcript.Generation() != gen {
		logger.Debug().Err(err).Msg("session changed while sending, reply discarded")
		return Stale, nil
	}

	if err != nil {
		logger.Warn().Err(err).Msg("send failed")
		if !p.transcript.AppendSince(sessionID, gen, chat.BotMessage(chat.ErrorNotice)) {
			return Stale, nil
		}
		return Failed, errors.Wrap(err, "send message")
	}

	if !p.transcript.AppendSince(sessionID, gen, chat.BotMessage(reply.ReplyText)) {
		logger.Debug().Msg("transcript rebound while sending, reply discarded")
		return Stale, nil
	}

	if reply.Deferred() {
		p.avatars.MarkPendingSince(sessionID, rev)
		logger.Debug().Msg("reply applied, avatar pending")
		return AppliedPending, nil
	}

	p.avatars.Apply(sessionID, reply.AvatarURL)
	logger.Debug().Str("avatar_url", reply.AvatarURL).Msg("reply applied")
	return Applied, nil
}
