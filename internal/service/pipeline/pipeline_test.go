package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/z-tavern/client/internal/model/avatar"
	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/avatar"
	"github.com/zhouzirui/z-tavern/client/internal/service/history"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  int
	reply  chat.Reply
	err    error
	before func()
}

func (f *fakeSender) SendChat(_ context.Context, _, _ string) (chat.Reply, error) {
	f.mu.Lock()
	f.calls++
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	return f.reply, f.err
}

type fixture struct {
	sender     *fakeSender
	transcript *history.Transcript
	avatars    *avatar.Holder
	active     string
	pipeline   *Pipeline
}

func newFixture(sender *fakeSender) *fixture {
	f := &fixture{
		sender:     sender,
		transcript: history.NewTranscript(),
		avatars:    avatar.NewHolder("default.png"),
		active:     "X",
	}
	f.transcript.Reset("X")
	f.avatars.Reset("X")
	f.pipeline = New(sender, f.transcript, f.avatars, func() string { return f.active })
	return f
}

func TestSendEmptyIsNoop(t *testing.T) {
	f := newFixture(&fakeSender{})

	for _, text := range []string{"", "   ", "\n\t"} {
		outcome, err := f.pipeline.Send(context.Background(), text)
		require.NoError(t, err)
		require.Equal(t, Idle, outcome)
	}
	require.Zero(t, f.sender.calls)
	require.Empty(t, f.transcript.Messages())
}

func TestSendSuccessAppliesAvatar(t *testing.T) {
	f := newFixture(&fakeSender{reply: chat.Reply{Status: chat.StatusSuccess, ReplyText: "yay", AvatarURL: "happy.png"}})
	f.avatars.MarkPending("X")

	outcome, err := f.pipeline.Send(context.Background(), "  great day  ")
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)
	require.Equal(t, []chat.Message{chat.UserMessage("great day"), chat.BotMessage("yay")}, f.transcript.Messages())
	require.Equal(t, model.State{URL: "happy.png"}, f.avatars.State())
}

func TestSendGeneratingAvatarLeavesPending(t *testing.T) {
	f := newFixture(&fakeSender{reply: chat.Reply{Status: chat.StatusGeneratingAvatar, ReplyText: "hello"}})

	outcome, err := f.pipeline.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, AppliedPending, outcome)
	require.Equal(t, []chat.Message{chat.UserMessage("hi"), chat.BotMessage("hello")}, f.transcript.Messages())
	require.Equal(t, model.State{URL: "default.png", Pending: true}, f.avatars.State())

	require.True(t, f.avatars.Resolve("X", "u1"))
	require.Equal(t, model.State{URL: "u1"}, f.avatars.State())
}

func TestSendFailureAppendsNoticeAndKeepsEcho(t *testing.T) {
	f := newFixture(&fakeSender{err: errors.New("connection refused")})

	outcome, err := f.pipeline.Send(context.Background(), "hi")
	require.Error(t, err)
	require.Equal(t, Failed, outcome)
	require.Equal(t, []chat.Message{chat.UserMessage("hi"), chat.BotMessage(chat.ErrorNotice)}, f.transcript.Messages())
	require.Equal(t, model.State{URL: "default.png"}, f.avatars.State())
}

func TestSendEchoIsVisibleBeforeReply(t *testing.T) {
	sender := &fakeSender{reply: chat.Reply{Status: chat.StatusSuccess, ReplyText: "ok"}}
	f := newFixture(sender)
	var during []chat.Message
	sender.before = func() { during = f.transcript.Messages() }

	_, err := f.pipeline.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, []chat.Message{chat.UserMessage("hi")}, during)
}

func TestSendReplyAfterSwitchIsStale(t *testing.T) {
	sender := &fakeSender{reply: chat.Reply{Status: chat.StatusGeneratingAvatar, ReplyText: "hello"}}
	f := newFixture(sender)
	sender.before = func() {
		f.active = "Y"
		f.transcript.Reset("Y")
		f.avatars.Reset("Y")
	}

	outcome, err := f.pipeline.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, Stale, outcome)
	require.Empty(t, f.transcript.Messages())
	require.Equal(t, model.State{URL: "default.png"}, f.avatars.State())
}

func TestSendReplyAfterLeavingAndReturningIsStale(t *testing.T) {
	sender := &fakeSender{reply: chat.Reply{Status: chat.StatusSuccess, ReplyText: "hello", AvatarURL: "u1"}}
	f := newFixture(sender)
	sender.before = func() {
		// X -> Y -> X: X's transcript is rebuilt from the server without the echo.
		f.active = "Y"
		f.transcript.Reset("Y")
		f.avatars.Reset("Y")
		f.active = "X"
		f.transcript.Reset("X")
		f.avatars.Reset("X")
		f.transcript.Replace("X", []chat.Message{chat.UserMessage("earlier")})
	}

	outcome, err := f.pipeline.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, Stale, outcome)
	require.Equal(t, []chat.Message{chat.UserMessage("earlier")}, f.transcript.Messages())
	require.Equal(t, model.State{URL: "default.png"}, f.avatars.State())
}

func TestSendFailureAfterLeavingAndReturningIsStale(t *testing.T) {
	sender := &fakeSender{err: errors.New("offline")}
	f := newFixture(sender)
	sender.before = func() { f.transcript.Reset("X") }

	outcome, err := f.pipeline.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, Stale, outcome)
	require.Empty(t, f.transcript.Messages())
}

func TestSendPushOvertakingReplyWins(t *testing.T) {
	sender := &fakeSender{reply: chat.Reply{Status: chat.StatusGeneratingAvatar, ReplyText: "hello"}}
	f := newFixture(sender)
	sender.before = func() { f.avatars.Resolve("X", "u1") }

	outcome, err := f.pipeline.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, AppliedPending, outcome)
	require.Equal(t, model.State{URL: "u1"}, f.avatars.State())
}

func TestSendWithoutActiveSession(t *testing.T) {
	f := newFixture(&fakeSender{})
	f.active = ""

	outcome, err := f.pipeline.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrNoActiveSession)
	require.Equal(t, Idle, outcome)
	require.Zero(t, f.sender.calls)
}
