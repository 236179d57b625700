// Package avatar tracks the avatar state of the active session context.
package avatar

import (
	"sync"

	model "github.com/zhouzirui/z-tavern/client/internal/model/avatar"
)

// Holder owns one avatar.State bound to a session id. Like the transcript,
// updates addressed to a session other than the bound one are dropped.
type Holder struct {
	defaultURL string

	mu        sync.RWMutex
	sessionID string
	state     model.State
	// revision counts resets and pushed resolutions.
	revision uint64
	onChange func()
}

// NewHolder creates a holder that resets to defaultURL.
func NewHolder(defaultURL string) *Holder {
	return &Holder{defaultURL: defaultURL, state: model.Initial(defaultURL)}
}

// OnChange registers a callback fired after every applied mutation.
func (h *Holder) OnChange(fn func()) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// Reset binds the holder to sessionID and restores the default avatar.
func (h *Holder) Reset(sessionID string) {
	h.update(func() bool {
		h.sessionID = sessionID
		h.state = model.Initial(h.defaultURL)
		h.revision++
		return true
	})
}

// Apply sets a synchronously delivered avatar and clears pending.
func (h *Holder) Apply(sessionID, url string) bool {
	return h.update(func() bool {
		if !h.boundLocked(sessionID) {
			return false
		}
		if url != "" {
			h.state.URL = url
		}
		h.state.Pending = false
		return true
	})
}

// MarkPending keeps the current url as a placeholder and flags pending.
func (h *Holder) MarkPending(sessionID string) bool {
	return h.update(func() bool {
		if !h.boundLocked(sessionID) {
			return false
		}
		h.state.Pending = true
		return true
	})
}

// MarkPendingSince is MarkPending that does nothing when a reset or a
// pushed resolution happened after rev was read. A push can overtake the
// HTTP reply that announced it.
func (h *Holder) MarkPendingSince(sessionID string, rev uint64) bool {
	return h.update(func() bool {
		if !h.boundLocked(sessionID) || h.revision != rev {
			return false
		}
		h.state.Pending = true
		return true
	})
}

// Revision returns a value that changes on every Reset and Resolve.
func (h *Holder) Revision() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.revision
}

// Resolve applies a pushed avatar url. It is accepted whether or not a
// pending reply exists, matching the backend which may push at any time.
func (h *Holder) Resolve(sessionID, url string) bool {
	return h.update(func() bool {
		if !h.boundLocked(sessionID) || url == "" {
			return false
		}
		h.state = model.State{URL: url, Pending: false}
		h.revision++
		return true
	})
}

// State returns the current avatar state.
func (h *Holder) State() model.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// SessionID returns the session the holder is bound to.
func (h *Holder) SessionID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessionID
}

func (h *Holder) boundLocked(sessionID string) bool {
	return sessionID != "" && sessionID == h.sessionID
}

func (h *Holder) update(mutate func() bool) bool {
	h.mu.Lock()
	changed := mutate()
	fn := h.onChange
	h.mu.Unlock()
	if changed && fn != nil {
		fn()
	}
	return changed
}
