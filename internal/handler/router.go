package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	"github.com/zhouzirui/z-tavern/client/internal/handler/avatar"
	"github.com/zhouzirui/z-tavern/client/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/client/internal/handler/realtime"
	middlewarePkg "github.com/zhouzirui/z-tavern/client/internal/middleware"
	chatService "github.com/zhouzirui/z-tavern/client/internal/service/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/push"
	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

// Server is the mock backend's router plus the background work it owns.
type Server struct {
	http.Handler
	chat *chat.Handler
	hub  *push.Hub
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg config.MockConfig, chatSvc *chatService.Service, hub *push.Hub) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc, hub, chat.Options{
		PublicURL:   cfg.PublicURL,
		AvatarDelay: cfg.AvatarDelay,
	})

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "mock chat backend"})
	})

	r.Route("/api/v1", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	realtime.New(hub).RegisterRoutes(r)
	avatar.New().RegisterRoutes(r)

	return &Server{Handler: r, chat: chatHandler, hub: hub}
}

// Close stops pending avatar jobs and drops all push connections.
func (s *Server) Close() error {
	err := s.chat.Close()
	s.hub.CloseAll()
	return err
}
