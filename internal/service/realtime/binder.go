package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DialFunc opens an unstarted channel for a session.
type DialFunc func(ctx context.Context, sessionID string) (*Channel, error)

// Binder keeps at most one live channel, bound to the active session.
// Rebinding tears the previous channel down completely before dialing, so
// two channels are never live at once.
type Binder struct {
	dial    DialFunc
	handler Handler

	// op serializes Rebind and Close; mu guards current only, so handlers
	// calling IsCurrent never wait on a rebind in progress.
	op      sync.Mutex
	mu      sync.Mutex
	current *Channel
}

// NewBinder 创建通道绑定器
func NewBinder(dial DialFunc, handler Handler) *Binder {
	return &Binder{dial: dial, handler: handler}
}

// Rebind closes the current channel and opens one for sessionID. An empty
// sessionID just closes. Rebinding to the session of an already open
// channel is a no-op.
func (b *Binder) Rebind(ctx context.Context, sessionID string) (*Channel, error) {
	b.op.Lock()
	defer b.op.Unlock()

	b.mu.Lock()
	old := b.current
	if old != nil && sessionID != "" && old.SessionID() == sessionID && old.State() == Open {
		b.mu.Unlock()
		return old, nil
	}
	b.current = nil
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if sessionID == "" {
		return nil, nil
	}

	ch, err := b.dial(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("component", "realtime").Str("session_id", sessionID).Msg("push channel unavailable")
		return nil, err
	}

	b.mu.Lock()
	b.current = ch
	b.mu.Unlock()

	ch.Serve(b.handler)
	return ch, nil
}

// IsCurrent reports whether ch is the channel currently bound.
func (b *Binder) IsCurrent(ch *Channel) bool {
	if ch == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current == ch
}

// Current returns the bound channel, or nil.
func (b *Binder) Current() *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Close releases the bound channel.
func (b *Binder) Close() {
	_, _ = b.Rebind(context.Background(), "")
}
