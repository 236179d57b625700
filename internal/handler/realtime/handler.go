package realtime

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/client/internal/service/push"
)

// Handler 推送通道的WebSocket处理器
type Handler struct {
	hub      *push.Hub
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(hub *push.Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

// handleWebSocket keeps the connection registered until the client leaves.
// Clients send nothing meaningful; reads only detect disconnects and answer
// pings.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	logger := log.With().Str("component", "push").Str("session_id", sessionID).Logger()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	h.hub.Add(sessionID, conn)
	defer h.hub.Remove(sessionID, conn)
	logger.Debug().Msg("client connected")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("read error")
			}
			break
		}
	}
	logger.Debug().Msg("client disconnected")
}
