package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/worklog-auth/internal/apperr"
)

// Middleware は policy に従ってリクエストを制限する gin ミドルウェアを返します。
// 判定結果は X-RateLimit-* ヘッダーで常に返し、拒否時は 429 と Retry-After を返します。
func Middleware(l *Limiter, policy Policy, identify func(*http.Request) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), policy, identify(c.Request))
		if err != nil {
			apperr.Respond(c, l.logger, apperr.Upstream(err))
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.Itoa(d.Reset))

		if !d.Allowed {
			h.Set("Retry-After", strconv.Itoa(d.Reset))
			e := apperr.RateLimited()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":      e.Code,
				"message":   e.Message,
				"remaining": 0,
				"reset":     d.Reset,
			})
			return
		}

		c.Next()
	}
}
