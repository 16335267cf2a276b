package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/auth"
	"github.com/vovakirdan/voicechat/internal/config"
	"github.com/vovakirdan/voicechat/internal/realtime"
	"github.com/vovakirdan/voicechat/internal/service/messages"
	"github.com/vovakirdan/voicechat/internal/service/rooms"
	"github.com/vovakirdan/voicechat/internal/store"
)

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Auth     *auth.Service
	Store    store.Store
	Messages *messages.Service
	Rooms    *rooms.Service
	Hub      *realtime.Hub
}

// NewRouter builds the gin engine with REST, upload and ops routes.
func NewRouter(deps Deps, cfg config.ServerConfig, logger *zerolog.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	apiHandlers := NewAPIHandlers(deps.Auth, deps.Store, logger)
	userHandlers := NewUserHandlers(deps.Store, logger)
	roomHandlers := NewRoomHandlers(deps.Rooms, logger)
	messageHandlers := NewMessageHandlers(deps.Messages, cfg.MaxUploadBytes, logger)
	limiter := newRateLimiter(cfg.RateLimitPerMinute, time.Minute)

	engine.GET("/health", healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.UploadDir != "" {
		engine.Static("/uploads", cfg.UploadDir)
	}

	api := engine.Group("/api")
	{
		api.POST("/auth/register", apiHandlers.Register)
		api.POST("/auth/login", apiHandlers.Login)

		authed := api.Group("")
		authed.Use(AuthMiddleware(deps.Auth, logger))

		authed.GET("/users/me", apiHandlers.Me)
		authed.GET("/users/search", userHandlers.SearchUsers)

		authed.GET("/rooms", roomHandlers.ListRooms)
		authed.POST("/rooms", RateLimitMiddleware(limiter), roomHandlers.CreateRoom)
		authed.DELETE("/rooms/:room_id", roomHandlers.LeaveRoom)

		authed.GET("/rooms/:room_id/messages", messageHandlers.ListMessages)
		authed.POST("/rooms/:room_id/messages", RateLimitMiddleware(limiter), messageHandlers.SendText)
		authed.POST("/rooms/:room_id/voice", RateLimitMiddleware(limiter), messageHandlers.SendVoice)
		authed.POST("/rooms/:room_id/attachment", RateLimitMiddleware(limiter), messageHandlers.SendAttachment)
		authed.DELETE("/rooms/:room_id/messages/:message_id", messageHandlers.DeleteMessage)

		authed.GET("/search", messageHandlers.Search)
	}

	return engine
}

// NewHandler serves push websockets from a ServeMux and everything else from the gin router.
func NewHandler(deps Deps, cfg config.ServerConfig, logger *zerolog.Logger) http.Handler {
	ws := NewWSHandler(deps.Hub, deps.Auth, deps.Rooms, deps.Store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc(roomPushPrefix, ws.ServeRoom)
	mux.HandleFunc(inboxPushPath, ws.ServeInbox)
	mux.Handle("/", NewRouter(deps, cfg, logger))
	return mux
}

// NewServer wraps the handler in an http.Server.
func NewServer(deps Deps, cfg config.ServerConfig, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
