package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"

	"github.com/zhouzirui/z-tavern/client/internal/model/avatar"
	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/engine"
	"github.com/zhouzirui/z-tavern/client/internal/service/realtime"
)

// console prints engine views as a running transcript. It remembers what it
// already printed so each view only adds the difference.
type console struct {
	mu       sync.Mutex
	w        io.Writer
	renderer *glamour.TermRenderer

	activeID    string
	generation  uint64
	printed     int
	shownAvatar avatar.State
	channel     realtime.State
}

func newConsole(w io.Writer, markdown bool) (*console, error) {
	c := &console{w: w, channel: realtime.Closed}
	if markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err != nil {
			return nil, errors.Wrap(err, "create markdown renderer")
		}
		c.renderer = r
	}
	return c, nil
}

func (c *console) notice(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "-- "+format+"\n", args...)
}

func (c *console) sessions(sessions []chat.Session, activeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printSessions(c.w, sessions, activeID)
}

func (c *console) avatar(s avatar.State, fallbackURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printAvatar(s, fallbackURL)
}

func (c *console) render(v engine.View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v.ActiveID != c.activeID {
		c.activeID = v.ActiveID
		c.generation = v.Generation
		c.printed = 0
		c.shownAvatar = avatar.State{}
		if v.ActiveID == "" {
			fmt.Fprintln(c.w, "== no session selected")
		} else {
			fmt.Fprintf(c.w, "== %s\n", sessionTitle(v.Sessions, v.ActiveID))
		}
	}
	if v.ActiveID == "" {
		return
	}

	if v.Generation != c.generation {
		c.generation = v.Generation
		if c.printed > 0 {
			fmt.Fprintln(c.w, "-- history reloaded")
		}
		c.printed = 0
	}
	if len(v.Messages) < c.printed {
		c.printed = 0
	}
	for _, m := range v.Messages[c.printed:] {
		c.printMessage(m)
	}
	c.printed = len(v.Messages)

	if v.Avatar != c.shownAvatar {
		c.shownAvatar = v.Avatar
		c.printAvatar(v.Avatar, v.FallbackAvatarURL)
	}
	if v.Channel != c.channel {
		if v.Channel == realtime.Closed && c.channel == realtime.Open {
			fmt.Fprintln(c.w, "-- live updates disconnected, use /reconnect")
		}
		c.channel = v.Channel
	}
}

func (c *console) printMessage(m chat.Message) {
	switch m.Sender {
	case chat.SenderUser:
		fmt.Fprintf(c.w, "you> %s\n", m.Text)
	case chat.SenderBot:
		fmt.Fprintf(c.w, "bot> %s\n", c.markdown(m.Text))
	default:
		fmt.Fprintf(c.w, "%s> %s\n", m.Sender, m.Text)
	}
}

func (c *console) printAvatar(s avatar.State, fallbackURL string) {
	url := s.DisplayURL(false, fallbackURL)
	if s.Pending {
		fmt.Fprintf(c.w, "[avatar] %s (generating...)\n", url)
		return
	}
	fmt.Fprintf(c.w, "[avatar] %s\n", url)
}

func (c *console) markdown(text string) string {
	if c.renderer == nil {
		return text
	}
	out, err := c.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}

func sessionTitle(sessions []chat.Session, id string) string {
	for _, s := range sessions {
		if s.ID == id {
			return s.Title
		}
	}
	return id
}
