package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseWith(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	return parse(env.Options{Environment: vars})
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parseWith(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}, cfg.ClientIPHeaders)
	assert.Equal(t, []string{"openid", "email", "profile"}, cfg.OAuthScopes)
	assert.Equal(t, 10, cfg.RateLimitLogin)
	assert.Equal(t, time.Minute, cfg.RateLimitLoginWindow)
	assert.Equal(t, 15*time.Second, cfg.RateLimitGrace)
	assert.False(t, cfg.RateLimitAtomic)
	assert.Empty(t, cfg.OAuthClientID)
}

func TestParseTrimsLists(t *testing.T) {
	cfg, err := parseWith(t, map[string]string{
		"CORS_ALLOWED_ORIGINS": " https://app.example.com , ,http://localhost:3000",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestValidateRejectsShortGrace(t *testing.T) {
	_, err := parseWith(t, map[string]string{"RATE_LIMIT_GRACE": "5s"})
	assert.ErrorContains(t, err, "RATE_LIMIT_GRACE")
}

func TestValidateRejectsOriginWithPath(t *testing.T) {
	for _, origin := range []string{"https://app.example.com/dashboard", "app.example.com", "ftp://files.example.com", "https://app.example.com/"} {
		_, err := parseWith(t, map[string]string{"CORS_ALLOWED_ORIGINS": origin})
		assert.Error(t, err, origin)
	}
}

func TestValidateReleaseRequiresStores(t *testing.T) {
	_, err := parseWith(t, map[string]string{
		"GIN_MODE":  "release",
		"REDIS_URL": "redis://cache:6379/0",
	})
	assert.ErrorContains(t, err, "DATABASE_URL")

	cfg, err := parseWith(t, map[string]string{
		"GIN_MODE":     "release",
		"DATABASE_URL": "postgres://db/worklog",
		"REDIS_URL":    "redis://cache:6379/0",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/worklog", cfg.DatabaseURL)
}

func TestParseDebugFallsBackToLocalStores(t *testing.T) {
	cfg, err := parseWith(t, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, devDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, devRedisURL, cfg.RedisURL)
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	_, err := parseWith(t, map[string]string{"RATE_LIMIT_LOGIN": "0"})
	assert.Error(t, err)
}
