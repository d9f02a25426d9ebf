// Package server はミドルウェアとルートを組み立てて gin のルーターを作成します。
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/worklog-auth/internal/apperr"
	"github.com/yourusername/worklog-auth/internal/auth"
	"github.com/yourusername/worklog-auth/internal/config"
	"github.com/yourusername/worklog-auth/internal/cookies"
	"github.com/yourusername/worklog-auth/internal/guard"
	"github.com/yourusername/worklog-auth/internal/logging"
	"github.com/yourusername/worklog-auth/internal/oauth"
	"github.com/yourusername/worklog-auth/internal/password"
	"github.com/yourusername/worklog-auth/internal/ratelimit"
	"github.com/yourusername/worklog-auth/internal/telemetry"
)

// Deps はルーターが利用する外部リソースです。
type Deps struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   auth.Store
	Redis   redis.UniversalClient
	Metrics *telemetry.Metrics
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewRouter はすべてのミドルウェアとルートを登録したルーターを返します。
func NewRouter(d Deps) (*gin.Engine, error) {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manager, err := auth.NewManager(d.Store, password.NewVerifier(cfg.BcryptCost), cfg.SessionTTL,
		auth.WithRecorder(d.Metrics))
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	codec := cookies.Codec{ForceSecure: cfg.CookieForceSecure}
	authHandler := auth.NewHandler(manager, codec, logger)

	limiter := ratelimit.New(d.Redis,
		ratelimit.WithGrace(cfg.RateLimitGrace),
		ratelimit.WithAtomic(cfg.RateLimitAtomic),
		ratelimit.WithLogger(logger),
		ratelimit.WithRecorder(d.Metrics),
	)
	identify := ratelimit.IdentifyByIP(cfg.ClientIPHeaders)
	apiPolicy := ratelimit.Policy{Scope: "api", Limit: cfg.RateLimitAPI, Window: cfg.RateLimitAPIWindow}
	loginPolicy := ratelimit.Policy{Scope: "login", Limit: cfg.RateLimitLogin, Window: cfg.RateLimitLoginWindow}

	initiator := oauth.NewInitiator(oauth.Config{
		Provider:        cfg.OAuthProvider,
		ClientID:        cfg.OAuthClientID,
		ClientSecret:    cfg.OAuthClientSecret,
		RedirectURL:     cfg.OAuthRedirectURL,
		AuthURL:         cfg.OAuthAuthURL,
		TokenURL:        cfg.OAuthTokenURL,
		Scopes:          cfg.OAuthScopes,
		SuccessRedirect: cfg.OAuthSuccessRedirect,
	}, codec, oauth.NewGrantStore(d.Redis, cfg.OAuthGrantTTL), d.Metrics, logger)

	requireLogin := auth.RequireLogin(manager, logger)

	routes := []route{
		{http.MethodGet, "/health", []gin.HandlerFunc{handleHealth}},
		{http.MethodPost, "/auth/login", []gin.HandlerFunc{ratelimit.Middleware(limiter, loginPolicy, identify), authHandler.Login}},
		{http.MethodPost, "/auth/logout", []gin.HandlerFunc{authHandler.Logout}},
		{http.MethodGet, "/auth/me", []gin.HandlerFunc{authHandler.Me}},
		{http.MethodGet, "/auth/oauth/start", []gin.HandlerFunc{initiator.StartHandler}},
		{http.MethodGet, oauth.CallbackPath, []gin.HandlerFunc{requireLogin, initiator.CallbackHandler}},
		{http.MethodGet, "/auth/oauth/status", []gin.HandlerFunc{requireLogin, initiator.StatusHandler}},
	}
	if cfg.MetricsEnabled && d.Metrics != nil {
		routes = append(routes, route{http.MethodGet, "/metrics", []gin.HandlerFunc{d.Metrics.Handler()}})
	}

	originGuard := guard.New(guard.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedHeaders: []string{"Content-Type", "Accept"},
		ExposeHeaders:  []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		Routes:         guardRoutes(routes),
	})

	router := gin.New()
	router.HandleMethodNotAllowed = true
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	router.Use(
		logging.AccessLog(logger),
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			apperr.Respond(c, logger, fmt.Errorf("panic: %v", recovered))
		}),
		requestTimeout(cfg.RequestTimeout),
		originGuard.Middleware(),
		ratelimit.Middleware(limiter, apiPolicy, identify),
	)

	for _, r := range routes {
		router.Handle(r.method, r.path, r.handlers...)
	}

	router.NoMethod(func(c *gin.Context) {
		apperr.Respond(c, logger, apperr.MethodNotAllowed())
	})
	router.NoRoute(func(c *gin.Context) {
		apperr.Respond(c, logger, apperr.NotFound())
	})

	return router, nil
}

// guardRoutes はパスごとに登録済みのメソッドと OPTIONS をまとめます。
func guardRoutes(routes []route) []guard.Route {
	index := make(map[string]int)
	var out []guard.Route
	for _, r := range routes {
		i, ok := index[r.path]
		if !ok {
			i = len(out)
			index[r.path] = i
			out = append(out, guard.Route{Path: r.path, Methods: []string{http.MethodOptions}})
		}
		out[i].Methods = append(out[i].Methods, r.method)
	}
	return out
}

// requestTimeout はストアへのアクセスがリクエストごとに打ち切られるよう期限付きのコンテキストを設定します。
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
