package auth

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/worklog-auth/internal/apperr"
	"github.com/yourusername/worklog-auth/internal/cookies"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// RequireLogin はセッションを検証するミドルウェアを返します。
// 検証に成功すると *Identity を ContextUserKey に格納します。
func RequireLogin(m *Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := cookies.Read(c.Request, cookies.Session)
		identity, err := m.Resolve(c.Request.Context(), token)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}
		if identity == nil {
			apperr.Respond(c, logger, apperr.Unauthenticated())
			return
		}

		c.Set(ContextUserKey, identity)
		c.Next()
	}
}

// CurrentUser は RequireLogin が格納したユーザーを返します。
func CurrentUser(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok && identity != nil
}
