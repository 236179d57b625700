package chat

// DefaultSessionTitle is the title the backend assigns to a fresh conversation
// until the first user message renames it.
const DefaultSessionTitle = "New Chat"

// Session captures one independent conversation as listed by the backend.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt Timestamp `json:"created_at"`
}

// HasDefaultTitle reports whether the backend has not yet renamed the session.
func (s Session) HasDefaultTitle() bool {
	return s.Title == DefaultSessionTitle
}
