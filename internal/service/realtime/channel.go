// Package realtime maintains the per-session push connection that delivers
// out-of-band events such as avatar_update.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/client/internal/model/event"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
)

// State is the lifecycle of one channel instance.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives decoded events together with the channel they arrived on,
// so the receiver can check whether that channel is still the bound one.
// Handlers run on the channel's read goroutine and must not call Close on it.
type Handler func(ch *Channel, ev event.Event)

// Options 连接选项
type Options struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// PongWait is added to PingInterval to form the read deadline.
	PongWait time.Duration
	Header   http.Header
	// OnClose is called once when the channel reaches Closed. err is nil
	// for a local Close.
	OnClose func(ch *Channel, err error)
}

// DefaultOptions 默认连接选项
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         10 * time.Second,
	}
}

// Channel is one push connection bound to exactly one session id for its
// whole life. Rebinding means closing it and dialing a new one.
type Channel struct {
	id        string
	sessionID string
	url       string
	opts      Options
	conn      *websocket.Conn
	log       zerolog.Logger

	state atomic.Int32

	mu        sync.Mutex
	started   bool
	closing   bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a channel for sessionID. The returned channel is Open but does
// not read until Serve is called, which lets the owner publish it as the
// current binding before any event can be delivered.
func Dial(ctx context.Context, url, sessionID string, opts Options) (*Channel, error) {
	ch := &Channel{
		id:        uuid.NewString(),
		sessionID: sessionID,
		url:       url,
		opts:      opts,
		done:      make(chan struct{}),
	}
	ch.log = log.With().
		Str("component", "realtime").
		Str("channel_id", ch.id).
		Str("session_id", sessionID).
		Logger()
	ch.state.Store(int32(Connecting))

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		ch.state.Store(int32(Closed))
		return nil, &api.NetworkError{Op: "open push channel", Err: err}
	}

	ch.conn = conn
	ch.state.Store(int32(Open))
	ch.log.Debug().Str("url", url).Msg("push channel open")
	return ch, nil
}

// ID identifies this channel instance in logs.
func (c *Channel) ID() string { return c.id }

// SessionID is the session this channel is bound to.
func (c *Channel) SessionID() string { return c.sessionID }

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Done is closed once the channel is Closed and its goroutines have exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Serve starts the read and keepalive loops. Calling it more than once, or
// after Close, is a no-op.
func (c *Channel) Serve(handler Handler) {
	c.mu.Lock()
	if c.started || c.closing || c.State() != Open {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.armReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.armReadDeadline()
		return nil
	})

	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		c.pingLoop(ctx)
	}()

	go func() {
		err := c.readLoop(handler)
		cancel()
		loops.Wait()
		c.finish(err)
	}()
}

// Close transitions to Closed, releases the connection and waits for the
// loops to exit. It is safe to call more than once and from any goroutine
// except the channel's own handler.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closing = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if c.conn == nil {
		return
	}

	if c.State() != Closed {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}
	c.state.Store(int32(Closed))
	if cancel != nil {
		cancel()
	}
	_ = c.conn.Close()

	if !started {
		c.finish(nil)
	}
	<-c.done
}

func (c *Channel) readLoop(handler Handler) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosing() {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("push channel read failed")
			}
			return err
		}
		c.armReadDeadline()

		ev, err := event.Decode(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("ignoring malformed push frame")
			continue
		}
		if c.State() != Open || handler == nil {
			continue
		}
		handler(c, ev)
	}
}

// pingLoop 定期发送ping消息
func (c *Channel) pingLoop(ctx context.Context) {
	if c.opts.PingInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.PongWait + time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug().Err(err).Msg("push channel ping failed")
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *Channel) armReadDeadline() {
	if c.opts.PingInterval <= 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PingInterval + c.opts.PongWait))
}

func (c *Channel) finish(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(Closed))
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.log.Debug().Err(err).Msg("push channel closed")
		if c.opts.OnClose != nil {
			c.opts.OnClose(c, err)
		}
		close(c.done)
	})
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}
