// Package auth はセッションの発行・検証・失効と、それを HTTP に公開するハンドラーを提供します。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/worklog-auth/internal/apperr"
	"github.com/yourusername/worklog-auth/internal/store"
	"github.com/yourusername/worklog-auth/internal/telemetry"
)

// DefaultSessionTTL はセッションの既定の有効期間です。
const DefaultSessionTTL = 30 * 24 * time.Hour

const tokenBytes = 32

// ユーザーが存在しない場合にも同じコストで照合するための平文
const dummyPassword = "worklog-auth-dummy-password"

// Store はセッション管理が利用する永続化層です。
type Store interface {
	UserByUsername(ctx context.Context, username string) (*store.User, error)
	CreateSession(ctx context.Context, session store.Session) error
	SessionUser(ctx context.Context, sessionID string, now time.Time) (*store.SessionUser, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// PasswordHasher はパスワードの照合とハッシュ化を行います。
type PasswordHasher interface {
	Verify(plaintext, storedHash string) bool
	Hash(plaintext string) (string, error)
}

// Recorder はログイン試行の記録先です。
type Recorder interface {
	LoginAttempt(ctx context.Context, outcome string)
}

// Identity は認証済みユーザーです。
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Issued はログイン成功時に発行したセッションです。
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Manager はセッションの発行・検証・失効を行います。
type Manager struct {
	store     Store
	hasher    PasswordHasher
	ttl       time.Duration
	now       func() time.Time
	recorder  Recorder
	dummyHash string
}

// Option は Manager の設定を変更します。
type Option func(*Manager)

// WithClock は現在時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder はログイン試行の記録先を設定します。
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager は Manager を作成します。ttl が0以下の場合は DefaultSessionTTL を使います。
func NewManager(st Store, hasher PasswordHasher, ttl time.Duration, opts ...Option) (*Manager, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	m := &Manager{
		store:     st,
		hasher:    hasher,
		ttl:       ttl,
		now:       time.Now,
		dummyHash: dummy,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL はセッションの有効期間を返します。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Login はユーザー名とパスワードを照合し、新しいセッションを発行します。
// ユーザーが存在しない場合とパスワードが一致しない場合は同じエラーを返します。
func (m *Manager) Login(ctx context.Context, username, password string) (*Issued, error) {
	user, err := m.store.UserByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m.hasher.Verify(password, m.dummyHash)
		m.record(ctx, telemetry.OutcomeInvalidCredentials)
		return nil, apperr.InvalidCredentials()
	case err != nil:
		m.record(ctx, telemetry.OutcomeError)
		return nil, apperr.Upstream(err)
	}

	if !m.hasher.Verify(password, user.PasswordHash) {
		m.record(ctx, telemetry.OutcomeInvalidCredentials)
		return nil, apperr.InvalidCredentials()
	}

	token, err := generateToken()
	if err != nil {
		m.record(ctx, telemetry.OutcomeError)
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	expiresAt := m.now().Add(m.ttl).Truncate(time.Second)
	if err := m.store.CreateSession(ctx, store.Session{
		ID:        token,
		UserID:    user.ID,
		ExpiresAt: expiresAt.Unix(),
	}); err != nil {
		m.record(ctx, telemetry.OutcomeError)
		return nil, apperr.Upstream(err)
	}

	m.record(ctx, telemetry.OutcomeSuccess)
	return &Issued{Token: token, ExpiresAt: expiresAt}, nil
}

// Resolve はセッショントークンに対応するユーザーを返します。
// トークンが空、存在しない、または期限切れの場合は nil, nil を返します。
func (m *Manager) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}
	su, err := m.store.SessionUser(ctx, token, m.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, apperr.Upstream(err)
	}
	return &Identity{ID: su.UserID, Username: su.Username}, nil
}

// Logout はセッションを削除します。何度呼んでもエラーにはなりません。
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, token); err != nil {
		return apperr.Upstream(err)
	}
	return nil
}

func (m *Manager) record(ctx context.Context, outcome string) {
	if m.recorder != nil {
		m.recorder.LoginAttempt(ctx, outcome)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
