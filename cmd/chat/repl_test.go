package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	"github.com/zhouzirui/z-tavern/client/internal/handler"
	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
	chatservice "github.com/zhouzirui/z-tavern/client/internal/service/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/engine"
	"github.com/zhouzirui/z-tavern/client/internal/service/push"
	"github.com/zhouzirui/z-tavern/client/internal/service/session"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startEngine(t *testing.T) *engine.Engine {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	host := srv.Listener.Addr().String()
	mock := handler.NewRouter(config.MockConfig{PublicURL: "http://" + host}, chatservice.NewService(), push.NewHub())
	srv.Config.Handler = mock
	srv.Start()
	t.Cleanup(func() {
		_ = mock.Close()
		srv.Close()
	})

	cfg := config.Defaults().Client
	cfg.APIURL = "http://" + host + "/api/v1"
	cfg.WSURL = "ws://" + host + "/ws"
	cfg.HTTPTimeout = 2 * time.Second

	eng, err := engine.New(engine.Options{Backend: api.NewClient(cfg), Config: cfg})
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)
	require.NoError(t, eng.Start(context.Background()))
	return eng
}

func runScript(t *testing.T, eng *engine.Engine, script string) string {
	t.Helper()
	var out lockedBuffer
	c, err := newConsole(&out, false)
	require.NoError(t, err)

	r := &repl{engine: eng, in: strings.NewReader(script), out: c, confirmer: session.AlwaysConfirm}
	done := make(chan error, 1)
	go func() { done <- r.run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("repl did not finish")
	}
	return out.String()
}

func TestReplScriptedSession(t *testing.T) {
	eng := startEngine(t)

	out := runScript(t, eng, "/new\n/list\nThanks this is great news\n/quit\nnever sent\n")

	require.Contains(t, out, "type /help for commands")
	require.Contains(t, out, "   2. New Chat")

	v := eng.Snapshot()
	require.Len(t, v.Sessions, 2)
	require.Equal(t, v.Sessions[0].ID, v.ActiveID)
	require.Equal(t, "Thanks this is great news", v.Sessions[0].Title)
	require.Equal(t, chat.UserMessage("Thanks this is great news"), v.Messages[0])
	require.Len(t, v.Messages, 2)
	require.True(t, strings.HasSuffix(v.Avatar.URL, "/static/avatars/happy_01.png"))
}

func TestReplSwitchAndDelete(t *testing.T) {
	eng := startEngine(t)

	out := runScript(t, eng, "/new Other\n/switch 2\n/switch 9\n/delete 1\n/bogus\n")

	require.Contains(t, out, `no session "9"`)
	require.Contains(t, out, "session deleted")
	require.Contains(t, out, "unknown command /bogus")

	v := eng.Snapshot()
	require.Len(t, v.Sessions, 1)
	require.Equal(t, v.Sessions[0].ID, v.ActiveID)
	require.Equal(t, chat.DefaultSessionTitle, v.Sessions[0].Title)
}

func TestReplDeleteActiveLeavesNothingSelected(t *testing.T) {
	eng := startEngine(t)

	out := runScript(t, eng, "/new Other\n/delete\nhello\n")

	require.Contains(t, out, "session deleted")
	require.Contains(t, out, "no session selected, use /new or /switch")
	require.Equal(t, "", eng.Snapshot().ActiveID)
}

func TestReadLinesStopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	lines, next := readLines(strings.NewReader("one\ntwo\n"), done)

	next <- struct{}{}
	require.Equal(t, "one", <-lines)

	// A scanned line nobody reads must not pin the goroutine.
	next <- struct{}{}
	close(done)
	close(next)
	select {
	case _, ok := <-lines:
		if ok {
			_, ok = <-lines
		}
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reader did not exit")
	}
}
