package history

import (
	"sync"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
)

// Transcript is the displayed message list of the active session. Every
// write names the session it belongs to; writes for any session other than
// the one the transcript is currently bound to are dropped.
//
// The generation advances whenever the list is reset or replaced wholesale,
// so a writer can tell that the messages it appended earlier are gone.
type Transcript struct {
	mu         sync.RWMutex
	sessionID  string
	generation uint64
	messages   []chat.Message
	onChange   func()
}

// NewTranscript creates an unbound, empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// OnChange registers a callback fired after every applied mutation.
func (t *Transcript) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Reset clears the messages and binds the transcript to sessionID.
func (t *Transcript) Reset(sessionID string) {
	t.mu.Lock()
	t.sessionID = sessionID
	t.generation++
	t.messages = nil
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Replace swaps in a whole history. It never merges with prior content.
func (t *Transcript) Replace(sessionID string, msgs []chat.Message) bool {
	t.mu.Lock()
	if sessionID == "" || t.sessionID != sessionID {
		t.mu.Unlock()
		return false
	}
	t.generation++
	t.messages = append([]chat.Message(nil), msgs...)
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Append adds one message at the end, preserving send order.
func (t *Transcript) Append(sessionID string, msg chat.Message) bool {
	_, ok := t.Track(sessionID, msg)
	return ok
}

// Track appends msg like Append and returns the generation it landed in.
func (t *Transcript) Track(sessionID string, msg chat.Message) (uint64, bool) {
	t.mu.Lock()
	if sessionID == "" || t.sessionID != sessionID {
		t.mu.Unlock()
		return 0, false
	}
	t.messages = append(t.messages, msg)
	gen := t.generation
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return gen, true
}

// AppendSince appends msg only while the transcript is still in generation
// gen, i.e. nothing reset or replaced it after the caller's earlier write.
func (t *Transcript) AppendSince(sessionID string, gen uint64, msg chat.Message) bool {
	t.mu.Lock()
	if sessionID == "" || t.sessionID != sessionID || t.generation != gen {
		t.mu.Unlock()
		return false
	}
	t.messages = append(t.messages, msg)
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Messages returns a copy of the current list.
func (t *Transcript) Messages() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]chat.Message(nil), t.messages...)
}

// Generation returns the current generation.
func (t *Transcript) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// View returns the bound session, generation and a copy of the messages
// read together.
func (t *Transcript) View() (string, uint64, []chat.Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID, t.generation, append([]chat.Message(nil), t.messages...)
}

// SessionID returns the session the transcript is bound to.
func (t *Transcript) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}
