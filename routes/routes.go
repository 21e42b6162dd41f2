package routes

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/handlers"
	"clinicmsg/metrics"
	"clinicmsg/middleware"
	"clinicmsg/response"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Handler        *handlers.Handler
	JWTSecret      string
	AllowedOrigins []string
	Limiter        *middleware.RateLimiter
	// WebSocket and SocketIO are optional real-time transports.
	WebSocket http.Handler
	SocketIO  http.Handler
	// Ping reports backing store health.
	Ping func(ctx context.Context) error
}

func SetupRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(), middleware.RequestLogger())

	router.Use(cors.New(corsConfig(d.AllowedOrigins)))

	health := healthHandler(d.Ping)
	router.GET("/health", health)
	router.GET("/api/health", health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/api/vapid-public-key", d.Handler.GetVapidPublicKey)

	if d.WebSocket != nil {
		router.GET("/ws", gin.WrapH(d.WebSocket))
	}
	if d.SocketIO != nil {
		router.GET("/socket.io/*any", gin.WrapH(d.SocketIO))
		router.POST("/socket.io/*any", gin.WrapH(d.SocketIO))
	}

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuth(d.JWTSecret))
	if d.Limiter != nil {
		protected.Use(middleware.RateLimit(d.Limiter))
	}

	// Conversations
	protected.GET("/conversations", d.Handler.ListConversations)
	protected.GET("/conversations/unseen", d.Handler.UnseenConversations)
	protected.POST("/conversations", d.Handler.CreateConversation)
	protected.GET("/conversations/:conversationId", d.Handler.GetConversation)
	protected.POST("/conversations/:conversationId/seen", d.Handler.MarkSeen)
	protected.POST("/conversations/:conversationId/members", d.Handler.AddMember)
	protected.PUT("/conversations/:conversationId/mute", d.Handler.SetMuted)
	protected.POST("/conversations/:conversationId/messages/:messageId/reactions", d.Handler.React)

	// Messages
	protected.POST("/conversations/messages", d.Handler.SendMessage)

	// Push subscriptions
	protected.POST("/subscribe", d.Handler.SubscribePush)

	router.NoRoute(func(c *gin.Context) {
		response.Error(c, apperr.NotFound("endpoint "+c.Request.URL.Path, nil))
	})

	return router
}

func healthHandler(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	}
}

// corsConfig allows every origin when origins is empty or contains "*".
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.ContainsFunc(origins, func(o string) bool { return strings.TrimSpace(o) == "*" }) {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
