// Package store はユーザーとセッションを PostgreSQL に永続化します。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound は対象の行が存在しない場合に返されます。
var ErrNotFound = errors.New("not found")

// DBTX は *sql.DB と *sql.Tx の共通部分です。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// User はログイン可能なユーザーです。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はセッショントークンと所有ユーザー、有効期限（Unix秒）を表します。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt int64
}

// SessionUser はセッションから解決したユーザー情報です。
type SessionUser struct {
	UserID    string
	Username  string
	ExpiresAt int64
}

// Store はユーザーとセッションの読み書きを行います。
type Store struct {
	db DBTX
}

// New は Store を作成します。
func New(db DBTX) *Store {
	return &Store{db: db}
}

// UserByUsername はユーザー名でユーザーを取得します。
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	query :=
		`SELECT id, username, password_hash, created_at FROM users
		 WHERE username = $1`

	user := &User{}
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// CreateUser はユーザーを作成します。user.ID は呼び出し側で採番します。
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	query :=
		`INSERT INTO users (id, username, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, user.ID, user.Username, user.PasswordHash).
		Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// UpdatePasswordHash はユーザーのパスワードハッシュを置き換えます。
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	query :=
		`UPDATE users SET password_hash = $2, updated_at = NOW()
		 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, userID, hash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession はセッションを1行挿入します。
func (s *Store) CreateSession(ctx context.Context, session Session) error {
	query :=
		`INSERT INTO sessions (id, user_id, expires_at)
		 VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, session.ID, session.UserID, session.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SessionUser は有効期限内のセッションを所有ユーザーと結合して返します。
// expires_at <= now の行は物理的に残っていても ErrNotFound です。
func (s *Store) SessionUser(ctx context.Context, sessionID string, now time.Time) (*SessionUser, error) {
	query :=
		`SELECT u.id, u.username, s.expires_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1 AND s.expires_at > $2`

	su := &SessionUser{}
	err := s.db.QueryRowContext(ctx, query, sessionID, now.Unix()).
		Scan(&su.UserID, &su.Username, &su.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return su, nil
}

// DeleteSession はセッションを削除します。存在しない場合もエラーにしません。
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	query := `DELETE FROM sessions WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
