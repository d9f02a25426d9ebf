package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/worklog-auth/internal/apperr"
	"github.com/yourusername/worklog-auth/internal/cookies"
)

// Handler は /auth/login, /auth/logout, /auth/me のハンドラーです。
type Handler struct {
	manager *Manager
	cookies cookies.Codec
	logger  *slog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(manager *Manager, codec cookies.Codec, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, cookies: codec, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は /auth/login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, h.logger, apperr.InvalidInput("username と password を JSON で送ってください"))
		return
	}

	issued, err := h.manager.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}

	h.cookies.Set(c.Writer, c.Request, cookies.Session, issued.Token, h.manager.TTL())
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Logout は /auth/logout のハンドラーです。セッションが無くても成功します。
func (h *Handler) Logout(c *gin.Context) {
	token, _ := cookies.Read(c.Request, cookies.Session)
	h.cookies.Clear(c.Writer, c.Request, cookies.Session)

	if err := h.manager.Logout(c.Request.Context(), token); err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Me は /auth/me のハンドラーです。
func (h *Handler) Me(c *gin.Context) {
	token, hasCookie := cookies.Read(c.Request, cookies.Session)
	identity, err := h.manager.Resolve(c.Request.Context(), token)
	if err != nil {
		apperr.Respond(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	if identity == nil {
		if hasCookie {
			h.cookies.Clear(c.Writer, c.Request, cookies.Session)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          identity,
	})
}
