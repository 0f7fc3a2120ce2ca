package api

import (
	"Minerva/internal/config"
	"Minerva/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置并返回一个 Gin 引擎实例。
func SetupRouter(h *Handler, cfg *config.AppConfig) *gin.Engine {
	// 使用默认中间件 (logger, recovery) 创建一个 Gin 引擎。
	r := gin.Default()

	r.GET("/healthz", h.Healthz)

	project := r.Group("/project")
	{
		project.GET("/:id/thread", h.GetThread)
		project.GET("/:id/thread/history", h.GetHistory)
		project.DELETE("/:id/thread/last-message", h.DeleteLastMessage)
		project.POST("/:id/documents", h.UploadDocument)
	}

	chat := r.Group("/chat")
	if cfg.Middleware.RateLimiter.Enabled {
		limiter := ratelimiter.NewPerKey(
			cfg.Middleware.RateLimiter.Rate,
			cfg.Middleware.RateLimiter.Capacity,
		)
		chat.Use(RateLimitMiddleware(limiter))
	}
	{
		chat.POST("/send", h.SendMessage)
	}

	return r
}
