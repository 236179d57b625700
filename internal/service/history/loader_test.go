package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
)

// gatedFetcher blocks each fetch until the test releases it.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	data  map[string][]chat.Message
	err   error
}

func newGatedFetcher(data map[string][]chat.Message) *gatedFetcher {
	return &gatedFetcher{gates: map[string]chan struct{}{}, data: data}
}

func (f *gatedFetcher) gate(id string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.gates[id]
	if !ok {
		ch = make(chan struct{})
		f.gates[id] = ch
	}
	return ch
}

func (f *gatedFetcher) ListMessages(ctx context.Context, id string) ([]chat.Message, error) {
	select {
	case <-f.gate(id):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.data[id], nil
}

type activeID struct {
	mu sync.Mutex
	id string
}

func (a *activeID) set(id string) {
	a.mu.Lock()
	a.id = id
	a.mu.Unlock()
}

func (a *activeID) get() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

func TestLoadAppliesHistoryForActiveSession(t *testing.T) {
	fetcher := newGatedFetcher(map[string][]chat.Message{
		"A": {chat.UserMessage("hi"), chat.BotMessage("hello")},
	})
	close(fetcher.gate("A"))
	active := &activeID{id: "A"}
	transcript := NewTranscript()
	loader := NewLoader(fetcher, transcript, active.get)

	applied, err := loader.Load(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, "A", transcript.SessionID())
	require.Equal(t, []chat.Message{chat.UserMessage("hi"), chat.BotMessage("hello")}, transcript.Messages())
}

func TestLoadClearsImmediately(t *testing.T) {
	fetcher := newGatedFetcher(map[string][]chat.Message{"B": {chat.UserMessage("b")}})
	active := &activeID{id: "A"}
	transcript := NewTranscript()
	transcript.Reset("A")
	transcript.Append("A", chat.UserMessage("old"))
	loader := NewLoader(fetcher, transcript, active.get)

	active.set("B")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = loader.Load(context.Background(), "B")
	}()

	require.Eventually(t, func() bool {
		return transcript.SessionID() == "B" && len(transcript.Messages()) == 0
	}, time.Second, 5*time.Millisecond)

	close(fetcher.gate("B"))
	<-done
	require.Equal(t, []chat.Message{chat.UserMessage("b")}, transcript.Messages())
}

func TestSlowFetchForPreviousSessionIsDiscarded(t *testing.T) {
	fetcher := newGatedFetcher(map[string][]chat.Message{
		"A": {chat.UserMessage("from A")},
		"B": {chat.UserMessage("from B")},
	})
	active := &activeID{id: "A"}
	transcript := NewTranscript()
	loader := NewLoader(fetcher, transcript, active.get)

	resultA := make(chan bool, 1)
	go func() {
		applied, _ := loader.Load(context.Background(), "A")
		resultA <- applied
	}()
	require.Eventually(t, func() bool { return transcript.SessionID() == "A" }, time.Second, 5*time.Millisecond)

	active.set("B")
	close(fetcher.gate("B"))
	applied, err := loader.Load(context.Background(), "B")
	require.NoError(t, err)
	require.True(t, applied)

	close(fetcher.gate("A"))
	require.False(t, <-resultA)
	require.Equal(t, "B", transcript.SessionID())
	require.Equal(t, []chat.Message{chat.UserMessage("from B")}, transcript.Messages())
}

func TestSwitchAwayAndBackOnlyNewestLoadApplies(t *testing.T) {
	fetcher := newGatedFetcher(map[string][]chat.Message{"A": {chat.UserMessage("a")}})
	active := &activeID{id: "A"}
	transcript := NewTranscript()
	loader := NewLoader(fetcher, transcript, active.get)

	first := make(chan bool, 1)
	go func() {
		applied, _ := loader.Load(context.Background(), "A")
		first <- applied
	}()
	require.Eventually(t, func() bool { return transcript.SessionID() == "A" }, time.Second, 5*time.Millisecond)

	// A -> B -> A while the first fetch is still in flight.
	active.set("B")
	transcript.Reset("B")
	active.set("A")
	second := make(chan bool, 1)
	go func() {
		applied, _ := loader.Load(context.Background(), "A")
		second <- applied
	}()
	require.Eventually(t, func() bool { return transcript.SessionID() == "A" }, time.Second, 5*time.Millisecond)

	close(fetcher.gate("A"))
	results := []bool{<-first, <-second}
	require.ElementsMatch(t, []bool{false, true}, results)
	require.Equal(t, []chat.Message{chat.UserMessage("a")}, transcript.Messages())
}

func TestLoadFailureLeavesEmptyTranscript(t *testing.T) {
	fetcher := newGatedFetcher(nil)
	fetcher.err = errors.New("offline")
	close(fetcher.gate("A"))
	active := &activeID{id: "A"}
	transcript := NewTranscript()
	transcript.Reset("Z")
	transcript.Append("Z", chat.UserMessage("stale"))
	loader := NewLoader(fetcher, transcript, active.get)

	applied, err := loader.Load(context.Background(), "A")
	require.Error(t, err)
	require.False(t, applied)
	require.Empty(t, transcript.Messages())
	require.Equal(t, "A", transcript.SessionID())
}

func TestTranscriptDropsWritesForOtherSessions(t *testing.T) {
	transcript := NewTranscript()
	transcript.Reset("A")

	require.True(t, transcript.Append("A", chat.UserMessage("1")))
	require.False(t, transcript.Append("B", chat.UserMessage("2")))
	require.False(t, transcript.Replace("B", []chat.Message{chat.BotMessage("x")}))
	require.False(t, transcript.Append("", chat.UserMessage("3")))
	require.Equal(t, []chat.Message{chat.UserMessage("1")}, transcript.Messages())
}

func TestBeginInvalidatesEarlierTicket(t *testing.T) {
	fetcher := newGatedFetcher(map[string][]chat.Message{"A": {chat.UserMessage("a")}})
	close(fetcher.gate("A"))
	active := &activeID{id: "A"}
	transcript := NewTranscript()
	loader := NewLoader(fetcher, transcript, active.get)

	first := loader.Begin("A")
	second := loader.Begin("A")
	require.Greater(t, second, first)

	applied, err := loader.Fetch(context.Background(), "A", first)
	require.NoError(t, err)
	require.False(t, applied)
	require.Empty(t, transcript.Messages())

	applied, err = loader.Fetch(context.Background(), "A", second)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestTranscriptGenerationGuardsLaterWrites(t *testing.T) {
	transcript := NewTranscript()
	transcript.Reset("A")

	gen, ok := transcript.Track("A", chat.UserMessage("hi"))
	require.True(t, ok)
	require.True(t, transcript.AppendSince("A", gen, chat.BotMessage("hello")))

	transcript.Reset("B")
	transcript.Reset("A")
	require.NotEqual(t, gen, transcript.Generation())
	require.False(t, transcript.AppendSince("A", gen, chat.BotMessage("late")))
	require.Empty(t, transcript.Messages())

	gen = transcript.Generation()
	require.True(t, transcript.Replace("A", []chat.Message{chat.UserMessage("x")}))
	require.False(t, transcript.AppendSince("A", gen, chat.BotMessage("late")))

	id, current, msgs := transcript.View()
	require.Equal(t, "A", id)
	require.Equal(t, transcript.Generation(), current)
	require.Equal(t, []chat.Message{chat.UserMessage("x")}, msgs)
}
