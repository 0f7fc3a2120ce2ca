package api

import (
	"net/http"

	"Minerva/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware 在消息入口处按客户端 IP 限流，一个客户端刷满自己
// 的桶不影响其他客户端。超出速率的请求直接返回 429，不进入流水线。
func RateLimitMiddleware(limiter *ratelimiter.PerKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
