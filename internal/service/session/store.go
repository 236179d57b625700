// Package session keeps the ordered session list and the active selection.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrDeleteDeclined       = errors.New("session deletion was not confirmed")
	ErrConfirmationRequired = errors.New("session deletion requires a confirmer")
)

// Backend is the subset of the REST client the store needs.
type Backend interface {
	ListSessions(ctx context.Context) ([]chat.Session, error)
	CreateSession(ctx context.Context, title string) (chat.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Confirmer asks the user before a destructive delete.
type Confirmer interface {
	Confirm(ctx context.Context, s chat.Session) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, s chat.Session) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, s chat.Session) (bool, error) {
	return f(ctx, s)
}

// AlwaysConfirm approves every delete. Intended for non-interactive callers
// that already obtained consent.
var AlwaysConfirm = ConfirmFunc(func(context.Context, chat.Session) (bool, error) { return true, nil })

// SelectionListener observes effective changes of the active session id.
type SelectionListener func(oldID, newID string)

// Store holds the server-ordered session list and the active id. Network
// failures never partially apply: local state only changes after the server
// call succeeded.
type Store struct {
	backend Backend

	mu           sync.RWMutex
	sessions     []chat.Session
	activeID     string
	autoCreating bool
	listeners    []SelectionListener
}

// NewStore creates an empty store.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// OnSelectionChange registers a listener. Listeners run on the goroutine that
// caused the change, after the store lock is released.
func (s *Store) OnSelectionChange(l SelectionListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Sessions returns a copy of the ordered list.
func (s *Store) Sessions() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Session(nil), s.sessions...)
}

// ActiveID returns the selected session id, or "" when nothing is selected.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Lookup finds a session by id.
func (s *Store) Lookup(id string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return chat.Session{}, false
	}
	return s.sessions[idx], true
}

// Load fetches the list from the server and replaces the local copy. The
// current selection is kept when it still exists; otherwise the first session
// is selected. An empty list triggers exactly one automatic create.
func (s *Store) Load(ctx context.Context) error {
	sessions, err := s.backend.ListSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("failed to fetch sessions")
		return errors.Wrap(err, "list sessions")
	}

	s.mu.Lock()
	s.sessions = append([]chat.Session(nil), sessions...)
	oldID := s.activeID
	if s.indexLocked(s.activeID) < 0 {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
	}
	newID := s.activeID
	empty := len(s.sessions) == 0
	s.mu.Unlock()

	s.notify(oldID, newID)

	if empty {
		return s.ensureNotEmpty(ctx)
	}
	return nil
}

// Create asks the server for a new session, prepends it and selects it.
func (s *Store) Create(ctx context.Context, title string) (chat.Session, error) {
	if strings.TrimSpace(title) == "" {
		title = chat.DefaultSessionTitle
	}

	created, err := s.backend.CreateSession(ctx, title)
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("title", title).Msg("failed to create session")
		return chat.Session{}, errors.Wrap(err, "create session")
	}

	s.mu.Lock()
	if idx := s.indexLocked(created.ID); idx >= 0 {
		s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	}
	s.sessions = append([]chat.Session{created}, s.sessions...)
	oldID := s.activeID
	s.activeID = created.ID
	s.mu.Unlock()

	log.Debug().Str("component", "session").Str("session_id", created.ID).Msg("session created")
	s.notify(oldID, created.ID)
	return created, nil
}

// Select makes id the active session. Unknown ids and re-selecting the active
// id are no-ops; the return value reports whether the selection changed.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	if s.indexLocked(id) < 0 || s.activeID == id {
		s.mu.Unlock()
		return false
	}
	oldID := s.activeID
	s.activeID = id
	s.mu.Unlock()

	s.notify(oldID, id)
	return true
}

// ClearSelection deselects the active session.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	oldID := s.activeID
	s.activeID = ""
	s.mu.Unlock()
	s.notify(oldID, "")
}

// Delete removes a session after the confirmer approved it. Deleting the
// active session clears the selection; deleting the last session triggers an
// automatic create.
func (s *Store) Delete(ctx context.Context, id string, confirmer Confirmer) error {
	target, ok := s.Lookup(id)
	if !ok {
		return ErrSessionNotFound
	}
	if confirmer == nil {
		return ErrConfirmationRequired
	}

	approved, err := confirmer.Confirm(ctx, target)
	if err != nil {
		return errors.Wrap(err, "confirm delete")
	}
	if !approved {
		return ErrDeleteDeclined
	}

	if err := s.backend.DeleteSession(ctx, id); err != nil {
		log.Warn().Err(err).Str("component", "session").Str("session_id", id).Msg("failed to delete session")
		return errors.Wrapf(err, "delete session %s", id)
	}

	s.mu.Lock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	}
	oldID := s.activeID
	if s.activeID == id {
		s.activeID = ""
	}
	newID := s.activeID
	empty := len(s.sessions) == 0
	s.mu.Unlock()

	s.notify(oldID, newID)

	if empty {
		return s.ensureNotEmpty(ctx)
	}
	return nil
}

// ensureNotEmpty creates the default session unless another caller is
// already doing so or the list was refilled meanwhile.
func (s *Store) ensureNotEmpty(ctx context.Context) error {
	s.mu.Lock()
	if len(s.sessions) > 0 || s.autoCreating {
		s.mu.Unlock()
		return nil
	}
	s.autoCreating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.autoCreating = false
		s.mu.Unlock()
	}()

	_, err := s.Create(ctx, chat.DefaultSessionTitle)
	return err
}

func (s *Store) notify(oldID, newID string) {
	if oldID == newID {
		return
	}
	s.mu.RLock()
	listeners := append([]SelectionListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(oldID, newID)
	}
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, item := range s.sessions {
		if item.ID == id {
			return i
		}
	}
	return -1
}
