package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/client/internal/model/event"
)

func newHubServer(t *testing.T, hub *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/ws/")
		hub.Add(id, conn)
		defer hub.Remove(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"
}

func waitConnected(t *testing.T, hub *Hub, id string, want bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Connected(id) != want {
		if time.Now().After(deadline) {
			t.Fatalf("connected(%s) never became %v", id, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSendDeliversEncodedEvent(t *testing.T) {
	hub := NewHub()
	base := newHubServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(base+"s1", nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()
	waitConnected(t, hub, "s1", true)

	if err := hub.Send("s1", event.AvatarUpdate{AvatarURL: "http://x/a.png"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read err: %v", err)
	}
	ev, err := event.Decode(data)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if ev != (event.AvatarUpdate{AvatarURL: "http://x/a.png"}) {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestHubSendWithoutConnection(t *testing.T) {
	hub := NewHub()
	if err := hub.Send("nobody", event.AvatarUpdate{AvatarURL: "u"}); err != ErrNoConnection {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
}

func TestHubReplacesOldConnection(t *testing.T) {
	hub := NewHub()
	base := newHubServer(t, hub)

	first, _, err := websocket.DefaultDialer.Dial(base+"s1", nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer first.Close()
	waitConnected(t, hub, "s1", true)

	second, _, err := websocket.DefaultDialer.Dial(base+"s1", nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer second.Close()

	// The first connection is closed by the hub once the second registers.
	_ = first.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected first connection to be closed")
	}
	waitConnected(t, hub, "s1", true)

	if err := hub.Send("s1", event.AvatarUpdate{AvatarURL: "u2"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := second.ReadMessage(); err != nil {
		t.Fatalf("second connection should receive: %v", err)
	}

	hub.CloseAll()
	waitConnected(t, hub, "s1", false)
}
