package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	grantKeyPrefix = "oauth:grant:"
	maxSaveRetries = 3
)

// Grant はプロバイダーから受け取ったトークンです。
type Grant struct {
	UserID       string    `json:"userId"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GrantStore はユーザーごとの Grant を Redis に保存します。
type GrantStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

// NewGrantStore は GrantStore を作成します。
func NewGrantStore(rdb redis.UniversalClient, ttl time.Duration) *GrantStore {
	return &GrantStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Get はユーザーの Grant を取得します。存在しない場合は nil, nil を返します。
func (s *GrantStore) Get(ctx context.Context, userID string) (*Grant, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	data, err := s.rdb.Get(ctx, grantKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var grant Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("decode grant: %w", err)
	}
	return &grant, nil
}

// Save は Grant を保存します（存在しない場合は作成）。
// 既存のレコードがあれば CreatedAt を引き継ぎ、新しいトークンにリフレッシュトークンが無ければ既存のものを残します。
func (s *GrantStore) Save(ctx context.Context, grant *Grant) error {
	if grant == nil || grant.UserID == "" {
		return fmt.Errorf("grant with userID is required")
	}
	key := grantKey(grant.UserID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		now := s.now().UTC()
		grant.CreatedAt = now
		if err == nil {
			var prev Grant
			if json.Unmarshal(data, &prev) == nil {
				if !prev.CreatedAt.IsZero() {
					grant.CreatedAt = prev.CreatedAt
				}
				if grant.RefreshToken == "" {
					grant.RefreshToken = prev.RefreshToken
				}
			}
		}
		grant.UpdatedAt = now

		payload, err := json.Marshal(grant)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis save grant: %w", err)
		}
		return nil
	}
	return fmt.Errorf("redis save grant: %w", redis.TxFailedErr)
}

func grantKey(userID string) string {
	return grantKeyPrefix + userID
}
