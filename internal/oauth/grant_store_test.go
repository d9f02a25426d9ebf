package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantStoreSaveKeepsCreatedAtAndRefreshToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewGrantStore(client, 24*time.Hour)
	first := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &Grant{UserID: "u-1", Provider: "google", AccessToken: "a1", RefreshToken: "r1"}))
	assert.Equal(t, 24*time.Hour, mr.TTL("oauth:grant:u-1"))

	later := first.Add(time.Hour)
	s.now = func() time.Time { return later }
	require.NoError(t, s.Save(ctx, &Grant{UserID: "u-1", Provider: "google", AccessToken: "a2"}))

	got, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, "r1", got.RefreshToken)
	assert.True(t, got.CreatedAt.Equal(first))
	assert.True(t, got.UpdatedAt.Equal(later))
}

func TestGrantStoreGetMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	got, err := NewGrantStore(client, time.Hour).Get(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = NewGrantStore(client, time.Hour).Get(context.Background(), "")
	assert.Error(t, err)
}
