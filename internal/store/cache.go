package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blacktop/unipost/internal/config"
	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
)

const cacheKeyPrefix = "unipost:cred:"

// CachedCredentials fronts a CredentialStore with a redis read-through cache.
// Only found records are cached; misses always reach the backing store.
type CachedCredentials struct {
	next publish.CredentialStore
	rdb  redis.UniversalClient
	ttl  time.Duration
}

var _ publish.CredentialStore = (*CachedCredentials)(nil)

// NewRedis creates a client from the redis config section. It returns nil
// when no address is configured.
func NewRedis(cfg config.RedisConfig) redis.UniversalClient {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewCachedCredentials wraps next. A zero ttl defaults to five minutes.
func NewCachedCredentials(next publish.CredentialStore, rdb redis.UniversalClient, ttl time.Duration) *CachedCredentials {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCredentials{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(userID string, p publish.Platform) string {
	return cacheKeyPrefix + userID + ":" + string(p)
}

// LookupCredential implements publish.CredentialStore. Redis failures are
// logged and fall through to the backing store.
func (c *CachedCredentials) LookupCredential(ctx context.Context, userID string, p publish.Platform) (*publish.StoredCredential, error) {
	key := cacheKey(userID, p)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec publish.StoredCredential
		if jerr := json.Unmarshal(raw, &rec); jerr == nil {
			return &rec, nil
		}
		logutil.Warnf("discarding corrupt cached credential: key=%s", key)
	case !errors.Is(err, redis.Nil):
		logutil.Warnf("credential cache unavailable: %v", err)
	}

	rec, err := c.next.LookupCredential(ctx, userID, p)
	if err != nil || rec == nil {
		return rec, err
	}
	if buf, jerr := json.Marshal(rec); jerr == nil {
		if serr := c.rdb.Set(ctx, key, buf, c.ttl).Err(); serr != nil {
			logutil.Warnf("failed to cache credential: %v", serr)
		}
	}
	return rec, nil
}

// Invalidate drops the cached entry for (user, platform).
func (c *CachedCredentials) Invalidate(ctx context.Context, userID string, p publish.Platform) error {
	if err := c.rdb.Del(ctx, cacheKey(userID, p)).Err(); err != nil {
		return fmt.Errorf("invalidate credential cache: %w", err)
	}
	return nil
}
