// Package main はログインユーザーを作成するコマンドです。
//
//	seeduser -username alice            # パスワードは SEED_PASSWORD から読む
//	seeduser -username alice -reset     # 既存ユーザーのパスワードを置き換える
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/worklog-auth/internal/config"
	"github.com/yourusername/worklog-auth/internal/logging"
	"github.com/yourusername/worklog-auth/internal/password"
	"github.com/yourusername/worklog-auth/internal/store"
)

func main() {
	username := flag.String("username", "", "ログインユーザー名")
	plaintext := flag.String("password", "", "パスワード（省略時は SEED_PASSWORD）")
	reset := flag.Bool("reset", false, "既存ユーザーのパスワードを更新する")
	flag.Parse()

	logger := logging.New(os.Stderr, "info", "text")

	if *plaintext == "" {
		*plaintext = os.Getenv("SEED_PASSWORD")
	}
	if *username == "" || *plaintext == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*username, *plaintext, *reset, logger); err != nil {
		logger.Error("seeduser failed", "error", err)
		os.Exit(1)
	}
}

func run(username, plaintext string, reset bool, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL, 1)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	hash, err := password.NewVerifier(cfg.BcryptCost).Hash(plaintext)
	if err != nil {
		return err
	}

	st := store.New(db)
	existing, err := st.UserByUsername(ctx, username)
	switch {
	case err == nil:
		if !reset {
			return fmt.Errorf("user %q already exists (use -reset to change the password)", username)
		}
		if err := st.UpdatePasswordHash(ctx, existing.ID, hash); err != nil {
			return err
		}
		logger.Info("password updated", "username", username, "id", existing.ID)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return err
	}
	logger.Info("user created", "username", username, "id", user.ID)
	return nil
}
