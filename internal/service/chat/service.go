// Package chat is the in-memory store behind the local mock backend.
package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/client/internal/analysis/emotion"
	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("user_message is required")
)

const titleWords = 5

type storedSession struct {
	session chat.Session
	seq     uint64
}

// Turn is the outcome of one chat exchange.
type Turn struct {
	ReplyText string
	Decision  emotion.Decision
}

// Service encapsulates conversation state management.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]storedSession
	messages map[string][]chat.WireMessage
	seq      uint64
	now      func() time.Time
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]storedSession),
		messages: make(map[string][]chat.WireMessage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions a session with the given title.
func (s *Service) CreateSession(_ context.Context, title string) (chat.Session, error) {
	if strings.TrimSpace(title) == "" {
		title = chat.DefaultSessionTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked("session_"+uuid.NewString(), title), nil
}

func (s *Service) createLocked(id, title string) chat.Session {
	s.seq++
	session := chat.Session{
		ID:        id,
		Title:     title,
		CreatedAt: chat.Timestamp{Time: s.now()},
	}
	s.sessions[id] = storedSession{session: session, seq: s.seq}
	s.messages[id] = make([]chat.WireMessage, 0, 16)
	return session
}

// ListSessions returns all sessions, newest first.
func (s *Service) ListSessions(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	stored := make([]storedSession, 0, len(s.sessions))
	for _, item := range s.sessions {
		stored = append(stored, item)
	}
	s.mu.RUnlock()

	sort.Slice(stored, func(i, j int) bool { return stored[i].seq > stored[j].seq })
	out := make([]chat.Session, len(stored))
	for i, item := range stored {
		out[i] = item.session
	}
	return out, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return item.session, nil
}

// DeleteSession removes a session and its messages.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

// LoadTranscript returns stored messages for the provided session. Unknown
// sessions have an empty transcript.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.WireMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[sessionID]
	copied := make([]chat.WireMessage, len(messages))
	copy(copied, messages)
	return copied, nil
}

// Chat records the user's message, produces a reply and titles a session
// still named "New Chat" after the first words of the message. Unknown
// session ids are created on the fly.
func (s *Service) Chat(_ context.Context, sessionID, userMessage string) (Turn, error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" || strings.TrimSpace(sessionID) == "" {
		return Turn{}, ErrEmptyMessage
	}

	decision := emotion.Analyze(userMessage)
	turn := Turn{ReplyText: emotion.Reply(decision), Decision: decision}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.sessions[sessionID]
	if !ok {
		s.createLocked(sessionID, chat.DefaultSessionTitle)
		item = s.sessions[sessionID]
	}

	now := chat.Timestamp{Time: s.now()}
	s.messages[sessionID] = append(s.messages[sessionID],
		chat.WireMessage{Sender: string(chat.SenderUser), Content: userMessage, Timestamp: now},
		chat.WireMessage{Sender: string(chat.SenderBot), Content: turn.ReplyText, Timestamp: now},
	)

	if item.session.HasDefaultTitle() {
		item.session.Title = titleFrom(userMessage)
		s.sessions[sessionID] = item
	}
	return turn, nil
}

func titleFrom(message string) string {
	words := strings.Fields(message)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	return strings.Join(words, " ")
}

// GenerateAvatar stands in for image generation: it waits delay and returns
// the path of a freshly generated avatar for the decision.
func (s *Service) GenerateAvatar(ctx context.Context, d emotion.Decision, delay time.Duration) (string, error) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "/static/avatars/generated_" + string(d.Emotion) + "_" + uuid.NewString()[:8] + ".png", nil
}
