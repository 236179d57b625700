// Package push keeps the mock backend's per-session websocket connections.
package push

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/client/internal/model/event"
)

// ErrNoConnection is returned when no client listens for the session.
var ErrNoConnection = errors.New("no push connection for session")

const writeWait = 5 * time.Second

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub WebSocket连接管理器，每个会话最多保留一个连接
type Hub struct {
	connections map[string]*peer
	mu          sync.RWMutex
}

// NewHub 创建连接管理器
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*peer),
	}
}

// Add 添加连接
func (h *Hub) Add(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 如果已存在连接，先关闭旧连接
	if old, exists := h.connections[sessionID]; exists {
		old.conn.Close()
	}

	h.connections[sessionID] = &peer{conn: conn}
}

// Remove drops conn if it is still the registered connection for the
// session. A newer connection for the same session is left alone.
func (h *Hub) Remove(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, exists := h.connections[sessionID]; exists && p.conn == conn {
		delete(h.connections, sessionID)
	}
}

// Connected reports whether a client listens for the session.
func (h *Hub) Connected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[sessionID]
	return ok
}

// Send 向会话推送事件
func (h *Hub) Send(sessionID string, ev event.Event) error {
	h.mu.RLock()
	p, ok := h.connections[sessionID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoConnection
	}

	payload, err := event.Encode(ev)
	if err != nil {
		return err
	}
	return p.write(payload)
}

// CloseAll 关闭所有连接
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, p := range h.connections {
		p.conn.Close()
		delete(h.connections, sessionID)
	}
}
