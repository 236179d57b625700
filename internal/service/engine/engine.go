// Package engine owns the active-session context: it reacts to selection
// changes by tearing down the previous session's history and push channel
// before building fresh ones for the new session.
package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	avatarmodel "github.com/zhouzirui/z-tavern/client/internal/model/avatar"
	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	"github.com/zhouzirui/z-tavern/client/internal/model/event"
	"github.com/zhouzirui/z-tavern/client/internal/service/avatar"
	"github.com/zhouzirui/z-tavern/client/internal/service/history"
	"github.com/zhouzirui/z-tavern/client/internal/service/pipeline"
	"github.com/zhouzirui/z-tavern/client/internal/service/realtime"
	"github.com/zhouzirui/z-tavern/client/internal/service/session"
)

// ErrClosed is returned by operations after Shutdown.
var ErrClosed = errors.New("engine is shut down")

// Backend is everything the engine needs from the server.
type Backend interface {
	session.Backend
	history.Fetcher
	pipeline.Sender
	PushURL(sessionID string) string
}

// Options configures a new Engine.
type Options struct {
	Backend Backend
	Config  config.ClientConfig
	// Dial overrides how push channels are opened.
	Dial realtime.DialFunc
}

// View is what the presentation layer renders.
type View struct {
	Sessions          []chat.Session
	ActiveID          string
	Messages          []chat.Message
	// Generation changes whenever Messages was reset or reloaded rather
	// than appended to.
	Generation        uint64
	Avatar            avatarmodel.State
	FallbackAvatarURL string
	Channel           realtime.State
}

// syncState records which session the worker last bound to. ready closes
// once that session's history load has settled.
type syncState struct {
	id    string
	ready chan struct{}
}

// Engine 聚合会话、历史、推送通道与消息管道
type Engine struct {
	cfg        config.ClientConfig
	store      *session.Store
	transcript *history.Transcript
	loader     *history.Loader
	avatars    *avatar.Holder
	binder     *realtime.Binder
	pipeline   *pipeline.Pipeline

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	calls  chan func()
	done   chan struct{}

	lifeMu  sync.Mutex
	started bool
	closed  bool

	syncMu      sync.Mutex
	synced      syncState
	syncChanged chan struct{}

	subMu   sync.Mutex
	subs    map[uint64]chan View
	nextSub uint64
}

// New wires the components together. Nothing touches the network until
// Start.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("engine: backend is required")
	}
	cfg := opts.Config
	if cfg.DefaultAvatarURL == "" {
		cfg.DefaultAvatarURL = avatarmodel.DefaultURL
	}
	if cfg.FallbackAvatarURL == "" {
		cfg.FallbackAvatarURL = avatarmodel.FallbackURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	close(ready)

	e := &Engine{
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		wake:        make(chan struct{}, 1),
		calls:       make(chan func()),
		done:        make(chan struct{}),
		synced:      syncState{ready: ready},
		syncChanged: make(chan struct{}),
		subs:        map[uint64]chan View{},
	}

	backend := opts.Backend
	e.store = session.NewStore(backend)
	e.transcript = history.NewTranscript()
	e.loader = history.NewLoader(backend, e.transcript, e.store.ActiveID)
	e.avatars = avatar.NewHolder(cfg.DefaultAvatarURL)
	e.pipeline = pipeline.New(backend, e.transcript, e.avatars, e.store.ActiveID)

	dial := opts.Dial
	if dial == nil {
		dial = e.dialer(backend)
	}
	e.binder = realtime.NewBinder(dial, e.handleEvent)

	e.store.OnSelectionChange(func(oldID, newID string) {
		log.Debug().Str("component", "engine").Str("old_session_id", oldID).Str("session_id", newID).Msg("selection changed")
		e.kick()
		e.publish()
	})
	e.transcript.OnChange(e.publish)
	e.avatars.OnChange(e.publish)
	return e, nil
}

func (e *Engine) dialer(backend Backend) realtime.DialFunc {
	opts := realtime.DefaultOptions()
	opts.HandshakeTimeout = e.cfg.HandshakeTimeout
	opts.PingInterval = e.cfg.PingInterval
	opts.OnClose = func(ch *realtime.Channel, err error) {
		if err != nil {
			log.Warn().Err(err).Str("component", "engine").Str("session_id", ch.SessionID()).
				Msg("push channel lost, pending avatars stay pending until reconnect")
		}
		e.publish()
	}
	return func(ctx context.Context, sessionID string) (*realtime.Channel, error) {
		return realtime.Dial(ctx, backend.PushURL(sessionID), sessionID, opts)
	}
}

// Start launches the worker and loads the session list. A load failure is
// returned but leaves the engine usable; Refresh can retry.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.lifeMu.Unlock()
		return nil
	}
	e.started = true
	e.lifeMu.Unlock()

	go e.run()
	return e.store.Load(ctx)
}

// Shutdown stops the worker, releases the push channel and closes all
// subscriptions. It is safe to call more than once.
func (e *Engine) Shutdown() {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return
	}
	e.closed = true
	started := e.started
	e.lifeMu.Unlock()

	e.cancel()
	if started {
		<-e.done
	}
	e.binder.Close()

	e.subMu.Lock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.subMu.Unlock()
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
			e.syncActive()
		case fn := <-e.calls:
			fn()
		}
	}
}

// kick asks the worker to catch up with the current selection. Signals
// coalesce; the worker always reads the latest active id.
func (e *Engine) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// syncActive is the session-change transition. Only the worker runs it.
func (e *Engine) syncActive() {
	id := e.store.ActiveID()

	e.syncMu.Lock()
	oldID := e.synced.id
	e.syncMu.Unlock()
	if id == oldID {
		return
	}

	logger := log.With().Str("component", "engine").Str("old_session_id", oldID).Str("session_id", id).Logger()
	logger.Debug().Msg("rebinding active session")

	// Old channel is fully closed before anything for the new id exists.
	_, _ = e.binder.Rebind(e.ctx, "")
	ticket := e.loader.Begin(id)
	e.avatars.Reset(id)

	ready := make(chan struct{})
	e.setSynced(syncState{id: id, ready: ready})
	if id == "" {
		close(ready)
		return
	}

	go func() {
		defer close(ready)
		_, _ = e.loader.Fetch(e.ctx, id, ticket)
	}()

	if _, err := e.binder.Rebind(e.ctx, id); err != nil {
		logger.Warn().Err(err).Msg("continuing without push channel")
	}
	e.publish()
}

func (e *Engine) setSynced(st syncState) {
	e.syncMu.Lock()
	e.synced = st
	close(e.syncChanged)
	e.syncChanged = make(chan struct{})
	e.syncMu.Unlock()
}

// waitSynced blocks until the worker has bound the active session and its
// history load has settled.
func (e *Engine) waitSynced(ctx context.Context) error {
	for {
		active := e.store.ActiveID()
		e.syncMu.Lock()
		st, changed := e.synced, e.syncChanged
		e.syncMu.Unlock()

		if st.id == active {
			select {
			case <-st.ready:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-e.ctx.Done():
				return ErrClosed
			}
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.ctx.Done():
			return ErrClosed
		}
	}
}

// onWorker runs fn on the worker goroutine and waits for it.
func (e *Engine) onWorker(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.calls <- func() { defer close(finished); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handleEvent(ch *realtime.Channel, ev event.Event) {
	logger := log.With().Str("component", "engine").Str("session_id", ch.SessionID()).Str("channel_id", ch.ID()).Logger()

	switch ev := ev.(type) {
	case event.AvatarUpdate:
		if !e.binder.IsCurrent(ch) || ch.SessionID() != e.store.ActiveID() {
			logger.Debug().Msg("ignoring avatar update from stale channel")
			return
		}
		if e.avatars.Resolve(ch.SessionID(), ev.AvatarURL) {
			logger.Debug().Str("avatar_url", ev.AvatarURL).Msg("avatar resolved")
		}
	default:
		logger.Debug().Str("event", string(ev.Kind())).Msg("ignoring push event")
	}
}

func (e *Engine) isClosed() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.closed
}

// CreateSession creates and selects a new session.
func (e *Engine) CreateSession(ctx context.Context, title string) (chat.Session, error) {
	if e.isClosed() {
		return chat.Session{}, ErrClosed
	}
	return e.store.Create(ctx, title)
}

// SelectSession switches the active session. It reports whether the
// selection changed.
func (e *Engine) SelectSession(id string) bool {
	if e.isClosed() {
		return false
	}
	return e.store.Select(id)
}

// DeleteSession deletes a session after confirmation. With
// ReselectAfterDelete set, deleting the active session selects the first
// remaining one instead of leaving nothing selected.
func (e *Engine) DeleteSession(ctx context.Context, id string, confirmer session.Confirmer) error {
	if e.isClosed() {
		return ErrClosed
	}
	wasActive := e.store.ActiveID() == id
	if err := e.store.Delete(ctx, id, confirmer); err != nil {
		return err
	}
	if wasActive && e.cfg.ReselectAfterDelete && e.store.ActiveID() == "" {
		if remaining := e.store.Sessions(); len(remaining) > 0 {
			e.store.Select(remaining[0].ID)
		}
	}
	return nil
}

// Send sends text in the active session. It waits for the session's
// history load to settle so the load cannot wipe the local echo.
func (e *Engine) Send(ctx context.Context, text string) (pipeline.Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return pipeline.Idle, nil
	}
	if e.isClosed() {
		return pipeline.Idle, ErrClosed
	}
	if err := e.waitSynced(ctx); err != nil {
		return pipeline.Idle, err
	}

	sessionID := e.store.ActiveID()
	outcome, err := e.pipeline.Send(ctx, text)

	if outcome == pipeline.Applied || outcome == pipeline.AppliedPending {
		// The server titles a session from its first message.
		if s, ok := e.store.Lookup(sessionID); ok && s.HasDefaultTitle() {
			_ = e.Refresh(ctx)
		}
	}
	return outcome, err
}

// Refresh reloads the session list from the server.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	if err := e.store.Load(ctx); err != nil {
		return err
	}
	e.publish()
	return nil
}

// Reconnect re-dials the push channel of the active session if it was lost.
// Nothing reconnects automatically.
func (e *Engine) Reconnect(ctx context.Context) error {
	var err error
	if callErr := e.onWorker(ctx, func() {
		e.syncActive()
		_, err = e.binder.Rebind(e.ctx, e.store.ActiveID())
		e.publish()
	}); callErr != nil {
		return callErr
	}
	return err
}

// Snapshot returns the current view. Messages and avatar are only reported
// once they belong to the active session.
func (e *Engine) Snapshot() View {
	active := e.store.ActiveID()
	v := View{
		Sessions:          e.store.Sessions(),
		ActiveID:          active,
		Avatar:            avatarmodel.Initial(e.cfg.DefaultAvatarURL),
		FallbackAvatarURL: e.cfg.FallbackAvatarURL,
		Channel:           realtime.Closed,
	}
	if id, gen, msgs := e.transcript.View(); active != "" && id == active {
		v.Messages = msgs
		v.Generation = gen
	}
	if active != "" && e.avatars.SessionID() == active {
		v.Avatar = e.avatars.State()
	}
	if ch := e.binder.Current(); ch != nil && ch.SessionID() == active {
		v.Channel = ch.State()
	}
	return v
}

// Subscribe returns a channel receiving views after every change. The
// channel holds one view; a slow reader only sees the latest. The returned
// func unsubscribes.
func (e *Engine) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	e.subMu.Lock()
	if e.isClosed() {
		e.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.Snapshot()
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) publish() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if len(e.subs) == 0 {
		return
	}
	v := e.Snapshot()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
