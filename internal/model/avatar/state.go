package avatar

const (
	// DefaultURL is shown whenever a session context is (re)entered.
	DefaultURL = "http://localhost:8000/static/avatars/default.png"
	// FallbackURL is shown when the current url fails to load.
	FallbackURL = "https://via.placeholder.com/200?text=Avatar"
)

// State is the avatar shown for the active session.
//
// Pending means a reply was accepted but the avatar image is still being
// generated; URL keeps the previous image as a placeholder until the push
// channel delivers the new one. A pending state has no timeout.
type State struct {
	URL     string `json:"url"`
	Pending bool   `json:"pending"`
}

// Initial returns the state every session context starts from.
func Initial(defaultURL string) State {
	if defaultURL == "" {
		defaultURL = DefaultURL
	}
	return State{URL: defaultURL}
}

// DisplayURL returns the image to render. loadFailed is reported by the
// display layer when fetching URL failed.
func (s State) DisplayURL(loadFailed bool, fallbackURL string) string {
	if loadFailed || s.URL == "" {
		if fallbackURL == "" {
			return FallbackURL
		}
		return fallbackURL
	}
	return s.URL
}
