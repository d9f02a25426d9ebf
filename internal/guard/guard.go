// Package guard は許可リストに基づく CORS の判定とプリフライト応答を全ルートに一括で適用します。
package guard

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Route はパスごとに許可するメソッドです。
type Route struct {
	Path    string
	Methods []string
}

// Config は Guard の設定です。起動時に一度だけ組み立てます。
type Config struct {
	AllowedOrigins []string
	AllowedHeaders []string
	ExposeHeaders  []string
	Routes         []Route
	// DefaultMethods は Routes に無いパスで使うメソッドです。
	DefaultMethods []string
}

// Guard はオリジン許可リストを保持し、許可されたオリジンにだけ CORS ヘッダーを付与します。
type Guard struct {
	allowed  map[string]struct{}
	handlers map[string]gin.HandlerFunc
	fallback gin.HandlerFunc
}

// New は cfg から Guard を作成します。cfg のスライスは複製するので、呼び出し後に変更しても影響しません。
func New(cfg Config) *Guard {
	g := &Guard{
		allowed:  make(map[string]struct{}, len(cfg.AllowedOrigins)),
		handlers: make(map[string]gin.HandlerFunc, len(cfg.Routes)),
	}
	for _, origin := range cfg.AllowedOrigins {
		g.allowed[origin] = struct{}{}
	}
	if len(g.allowed) == 0 {
		return g
	}

	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type"}
	}
	defaults := cfg.DefaultMethods
	if len(defaults) == 0 {
		defaults = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}

	for _, route := range cfg.Routes {
		g.handlers[route.Path] = g.corsHandler(route.Methods, headers, cfg.ExposeHeaders)
	}
	g.fallback = g.corsHandler(defaults, headers, cfg.ExposeHeaders)
	return g
}

func (g *Guard) corsHandler(methods, headers, expose []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  g.Allowed,
		AllowMethods:     append([]string(nil), methods...),
		AllowHeaders:     append([]string(nil), headers...),
		ExposeHeaders:    append([]string(nil), expose...),
		AllowCredentials: true,
		MaxAge:           10 * time.Minute,
	})
}

// Allowed は origin が許可リストに含まれるかを返します。比較は完全一致です。
func (g *Guard) Allowed(origin string) bool {
	_, ok := g.allowed[origin]
	return ok
}

// Middleware は全リクエストに適用するミドルウェアを返します。
// OPTIONS は常に 204 で打ち切り、許可されていないオリジンには CORS ヘッダーを一切付けずに処理を続けます。
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && g.Allowed(origin) {
			g.handlerFor(c.Request.URL.Path)(c)
			if c.IsAborted() {
				return
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (g *Guard) handlerFor(path string) gin.HandlerFunc {
	if h, ok := g.handlers[path]; ok {
		return h
	}
	return g.fallback
}
