package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger/internal/config"
	"messenger/internal/repository"
	"messenger/pkg/logger"
)

type RateLimitMiddleware struct {
	repo repository.RateLimitRepository
	cfg  config.RateLimitConfig
	log  logger.Logger
}

func NewRateLimitMiddleware(repo repository.RateLimitRepository, cfg config.RateLimitConfig, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{repo: repo, cfg: cfg, log: log}
}

// LimitSend ограничивает частоту отправки сообщений на пользователя.
func (m *RateLimitMiddleware) LimitSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:send:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			key = "ratelimit:send:" + userID.String()
		}

		allowed, err := m.repo.Allow(c.Request.Context(), key, m.cfg.SendLimit, m.cfg.SendWindow)
		if err != nil {
			// Недоступный Redis не должен блокировать отправку.
			m.log.Error("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(m.cfg.SendLimit))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}
