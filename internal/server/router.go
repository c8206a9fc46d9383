package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/auth"
	"fund-connect/internal/funds"
	"fund-connect/internal/handler"
	"fund-connect/internal/hub"
	"fund-connect/internal/identity"
	"fund-connect/internal/logging"
	"fund-connect/internal/messaging"
	"fund-connect/internal/metrics"
	"fund-connect/internal/middleware"
)

const defaultRequestTimeout = 15 * time.Second

type Deps struct {
	Identity    *identity.Service
	Messaging   *messaging.Service
	Funds       *funds.Service
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig

	// MessageLimiter bounds message sends per user. Nil disables the limit.
	MessageLimiter *middleware.RateLimiter
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	// Ready reports whether dependencies such as the database are reachable.
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
	// Closing ends open live connections when closed.
	Closing <-chan struct{}
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Instrument(deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	requireAuth := middleware.RequireAuth(deps.TokenConfig)
	roleHandler := &handler.RoleHandler{Identity: deps.Identity}
	profileHandler := &handler.ProfileHandler{Identity: deps.Identity}
	conversationHandler := &handler.ConversationHandler{Messaging: deps.Messaging}
	fundHandler := &handler.FundHandler{Funds: deps.Funds}
	liveHandler := &handler.LiveHandler{Messaging: deps.Messaging, Hub: deps.Hub, Logger: logger, Closing: deps.Closing}

	var sendLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.MessageLimiter != nil {
		sendLimit = middleware.RateLimitByUser(deps.MessageLimiter)
	}

	// Live connections outlive any request timeout.
	r.GET("/v1/conversations/:id/live", requireAuth, liveHandler.Serve)

	api := r.Group("/")
	api.Use(requireAuth, middleware.Timeout(timeout))

	api.GET("/check-role", roleHandler.CheckRole)
	api.GET("/get-all-agents", roleHandler.ListAgents)
	api.GET("/get-all-investors", roleHandler.ListInvestors)
	api.GET("/get-conversation", conversationHandler.Lookup)
	api.POST("/assign-role", roleHandler.AssignRole)

	v1 := api.Group("/v1")
	v1.GET("/me", roleHandler.Me)
	v1.GET("/profile", profileHandler.Get)
	v1.PUT("/profile", profileHandler.Put)

	v1.GET("/conversations", conversationHandler.List)
	v1.POST("/conversations", conversationHandler.Open)
	v1.GET("/conversations/:id", conversationHandler.Get)
	v1.GET("/conversations/:id/messages", conversationHandler.Messages)
	v1.POST("/conversations/:id/messages", sendLimit, conversationHandler.Send)
	v1.POST("/conversations/:id/read", conversationHandler.Read)

	v1.GET("/funds", fundHandler.List)
	v1.POST("/funds", fundHandler.Create)
	v1.GET("/funds/:id", fundHandler.Get)
	v1.POST("/funds/:id/interests", fundHandler.ExpressInterest)
	v1.GET("/interests", fundHandler.ListInterests)
	v1.POST("/interests/:id/respond", fundHandler.Respond)

	return r
}
