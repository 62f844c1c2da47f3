package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/unipost/internal/config"
	"github.com/blacktop/unipost/internal/publish"
)

type countingStore struct {
	calls int
	rec   *publish.StoredCredential
}

func (c *countingStore) LookupCredential(context.Context, string, publish.Platform) (*publish.StoredCredential, error) {
	c.calls++
	return c.rec, nil
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCachedCredentialsReadThrough(t *testing.T) {
	mr, rdb := newMiniredis(t)
	backing := &countingStore{rec: &publish.StoredCredential{
		Type:   publish.CredentialAPIKey,
		Fields: map[string]string{publish.FieldAPIKey: "app-pass", publish.FieldIdentifier: "me.bsky.social"},
	}}
	cache := NewCachedCredentials(backing, rdb, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := cache.LookupCredential(ctx, "u1", publish.Bluesky)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "app-pass", rec.Fields[publish.FieldAPIKey])
	}
	assert.Equal(t, 1, backing.calls)
	assert.True(t, mr.Exists("unipost:cred:u1:bluesky"))

	mr.FastForward(2 * time.Minute)
	_, err := cache.LookupCredential(ctx, "u1", publish.Bluesky)
	require.NoError(t, err)
	assert.Equal(t, 2, backing.calls)

	require.NoError(t, cache.Invalidate(ctx, "u1", publish.Bluesky))
	assert.False(t, mr.Exists("unipost:cred:u1:bluesky"))
}

func TestCachedCredentialsSkipsMisses(t *testing.T) {
	mr, rdb := newMiniredis(t)
	backing := &countingStore{}
	cache := NewCachedCredentials(backing, rdb, 0)

	rec, err := cache.LookupCredential(context.Background(), "u1", publish.Twitter)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, mr.Exists("unipost:cred:u1:twitter"))
}

func TestCachedCredentialsRedisDown(t *testing.T) {
	mr, rdb := newMiniredis(t)
	backing := &countingStore{rec: &publish.StoredCredential{Type: publish.CredentialOAuth, Fields: map[string]string{publish.FieldAccessToken: "t"}}}
	cache := NewCachedCredentials(backing, rdb, time.Minute)
	mr.Close()

	rec, err := cache.LookupCredential(context.Background(), "u1", publish.Twitter)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, backing.calls)
}

func TestNewRedis(t *testing.T) {
	assert.Nil(t, NewRedis(config.RedisConfig{}))
	mr, _ := newMiniredis(t)
	rdb := NewRedis(config.RedisConfig{Addr: mr.Addr()})
	require.NotNil(t, rdb)
	defer rdb.Close()
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}
