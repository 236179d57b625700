package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	"github.com/zhouzirui/z-tavern/client/internal/model/event"
	chatService "github.com/zhouzirui/z-tavern/client/internal/service/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/push"
	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

// Options 聊天处理器配置
type Options struct {
	// PublicURL prefixes avatar paths so clients get absolute urls.
	PublicURL   string
	AvatarDelay time.Duration
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	hub     *push.Hub
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	jobs   errgroup.Group

	mu     sync.Mutex
	closed bool
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, hub *push.Hub, opts Options) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Handler{
		chatSvc: chatSvc,
		hub:     hub,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/chat", h.handleChat)
}

// Close cancels pending avatar generations and waits for them.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	return h.jobs.Wait()
}

// schedule starts fn as a background job unless Close has begun.
func (h *Handler) schedule(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.ctx.Err() != nil {
		return false
	}
	h.jobs.Go(func() error {
		fn()
		return nil
	})
	return true
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}

	// 请求体可以为空，此时使用默认标题
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.Title)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Session deleted"})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleChat 处理一轮对话；没有预置头像时先返回文本，头像生成后经推送通道下发
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chat.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	turn, err := h.chatSvc.Chat(r.Context(), payload.SessionID, payload.UserMessage)
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if turn.Decision.Seeded() {
		utils.RespondJSON(w, http.StatusOK, chat.Reply{
			Status:    chat.StatusSuccess,
			ReplyText: turn.ReplyText,
			AvatarURL: h.opts.PublicURL + "/static/avatars/" + turn.Decision.AvatarName(),
		})
		return
	}

	sessionID := payload.SessionID
	if !h.schedule(func() { h.generateAndNotify(sessionID, turn) }) {
		utils.RespondError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.Reply{
		Status:    chat.StatusGeneratingAvatar,
		ReplyText: turn.ReplyText,
	})
}

func (h *Handler) generateAndNotify(sessionID string, turn chatService.Turn) {
	logger := log.With().Str("component", "mock").Str("session_id", sessionID).Logger()

	path, err := h.chatSvc.GenerateAvatar(h.ctx, turn.Decision, h.opts.AvatarDelay)
	if err != nil {
		logger.Debug().Err(err).Msg("avatar generation cancelled")
		return
	}

	url := h.opts.PublicURL + path
	if err := h.hub.Send(sessionID, event.AvatarUpdate{AvatarURL: url}); err != nil {
		logger.Warn().Err(err).Str("avatar_url", url).Msg("avatar update not delivered")
		return
	}
	logger.Info().Str("avatar_url", url).Msg("avatar update pushed")
}
