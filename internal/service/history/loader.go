// Package history loads and guards the message history of the active session.
package history

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
)

// Fetcher fetches a stored transcript.
type Fetcher interface {
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// ActiveFunc reports the currently selected session id.
type ActiveFunc func() string

// Loader performs one-shot history loads into a Transcript and discards
// results that resolve after the selection moved on.
type Loader struct {
	fetcher    Fetcher
	transcript *Transcript
	active     ActiveFunc

	mu     sync.Mutex
	ticket uint64
}

// NewLoader wires a loader to its transcript and the active-id source.
func NewLoader(fetcher Fetcher, transcript *Transcript, active ActiveFunc) *Loader {
	return &Loader{fetcher: fetcher, transcript: transcript, active: active}
}

// Load clears the transcript, binds it to sessionID and fetches the history.
// The result is applied only when this is still the newest load and
// sessionID is still the active session. A fetch failure leaves the
// transcript empty and is returned for logging only.
func (l *Loader) Load(ctx context.Context, sessionID string) (applied bool, err error) {
	return l.Fetch(ctx, sessionID, l.Begin(sessionID))
}

// Begin is the synchronous half of Load: it invalidates earlier loads and
// resets the transcript to an empty list for sessionID.
func (l *Loader) Begin(sessionID string) uint64 {
	l.mu.Lock()
	l.ticket++
	ticket := l.ticket
	l.mu.Unlock()

	l.transcript.Reset(sessionID)
	return ticket
}

// Fetch is the asynchronous half of Load for a ticket returned by Begin.
func (l *Loader) Fetch(ctx context.Context, sessionID string, ticket uint64) (applied bool, err error) {
	if sessionID == "" {
		return false, nil
	}

	msgs, err := l.fetcher.ListMessages(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("component", "history").Str("session_id", sessionID).Msg("failed to load history")
		return false, err
	}

	if !l.current(ticket, sessionID) {
		log.Debug().Str("component", "history").Str("session_id", sessionID).Msg("discarding stale history result")
		return false, nil
	}
	return l.transcript.Replace(sessionID, msgs), nil
}

func (l *Loader) current(ticket uint64, sessionID string) bool {
	l.mu.Lock()
	latest := l.ticket
	l.mu.Unlock()
	if ticket != latest {
		return false
	}
	return l.active == nil || l.active() == sessionID
}
