package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/worklog-auth/internal/config"
	"github.com/yourusername/worklog-auth/internal/store"
	"github.com/yourusername/worklog-auth/internal/telemetry"
)

type memoryStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	sessions map[string]store.Session
}

func (m *memoryStore) UserByUsername(_ context.Context, username string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *memoryStore) CreateSession(_ context.Context, s store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryStore) SessionUser(_ context.Context, id string, now time.Time) (*store.SessionUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.ExpiresAt <= now.Unix() {
		return nil, store.ErrNotFound
	}
	for _, u := range m.users {
		if u.ID == s.UserID {
			return &store.SessionUser{UserID: u.ID, Username: u.Username, ExpiresAt: s.ExpiresAt}, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		GinMode:              gin.TestMode,
		RequestTimeout:       5 * time.Second,
		CORSAllowedOrigins:   []string{"http://localhost:5173"},
		SessionTTL:           720 * time.Hour,
		BcryptCost:           bcrypt.MinCost,
		RateLimitAPI:         300,
		RateLimitAPIWindow:   time.Minute,
		RateLimitLogin:       10,
		RateLimitLoginWindow: time.Minute,
		RateLimitGrace:       15 * time.Second,
		ClientIPHeaders:      []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"},
		OAuthProvider:        "google",
		OAuthClientID:        "client-123",
		OAuthAuthURL:         "https://accounts.example.com/o/oauth2/auth",
		OAuthTokenURL:        "https://oauth2.example.com/token",
		OAuthScopes:          []string{"openid", "email", "profile"},
		OAuthSuccessRedirect: "/",
		OAuthGrantTTL:        time.Hour,
		MetricsEnabled:       true,
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)
	require.NoError(t, err)
	st := &memoryStore{
		users: map[string]*store.User{
			"alice": {ID: "7d0e2f5c-1111-4a4a-9b9b-000000000001", Username: "alice", PasswordHash: string(hash)},
		},
		sessions: make(map[string]store.Session),
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	metrics, err := telemetry.New()
	require.NoError(t, err)

	router, err := NewRouter(Deps{
		Config:  cfg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:   st,
		Redis:   rdb,
		Metrics: metrics,
	})
	require.NoError(t, err)
	return router
}

func postLogin(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginThenMe(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := postLogin(router, `{"username":"alice","password":"correct"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "session="+session.Value)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: session.Value})
	me := httptest.NewRecorder()
	router.ServeHTTP(me, req)

	require.Equal(t, http.StatusOK, me.Code)
	var body struct {
		Authenticated bool `json:"authenticated"`
		User          struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &body))
	assert.True(t, body.Authenticated)
	assert.Equal(t, "alice", body.User.Username)
	assert.NotEmpty(t, body.User.ID)
}

func TestMeWithoutSession(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())
}

func TestWrongMethodIs405(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "METHOD_NOT_ALLOWED")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestPreflightAndCORS(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoginRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitLogin = 3
	router := newTestRouter(t, cfg)

	for i := 0; i < 3; i++ {
		rec := postLogin(router, `{"username":"alice","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := postLogin(router, `{"username":"alice","password":"correct"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"remaining":0`)
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
}

func TestOAuthStartAndMetrics(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/oauth/start", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Len(t, rec.Result().Cookies(), 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=x&state=y", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `auth_oauth_starts_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `auth_ratelimit_decisions_total{result="allowed",scope="api"}`)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "300", rec.Header().Get("X-RateLimit-Limit"))
}
