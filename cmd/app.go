package cmd

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/blacktop/unipost/internal/config"
	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/publish"
	"github.com/blacktop/unipost/internal/publish/bluesky"
	"github.com/blacktop/unipost/internal/publish/discord"
	"github.com/blacktop/unipost/internal/publish/mastodon"
	"github.com/blacktop/unipost/internal/publish/twitter"
	"github.com/blacktop/unipost/internal/store"
)

// app holds the long lived dependencies a command needs.
type app struct {
	cfg   *config.Config
	store *store.Store
	rdb   redis.UniversalClient
	cache *store.CachedCredentials
}

func openApp(c *config.Config) (*app, error) {
	st, err := store.Open(c.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: c, store: st}
	if rdb := store.NewRedis(c.Redis); rdb != nil {
		a.rdb = rdb
		a.cache = store.NewCachedCredentials(st, rdb, c.CacheTTL())
		logutil.Debugf("credential cache enabled: addr=%s", c.Redis.Addr)
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func (a *app) credentials() publish.CredentialStore {
	if a.cache != nil {
		return a.cache
	}
	return a.store
}

func (a *app) orchestrator() *publish.Orchestrator {
	return publish.NewOrchestrator(publish.Options{
		Senders:        buildSenders(a.cfg),
		Resolver:       &publish.Resolver{Primary: a.credentials(), Legacy: a.store},
		Limits:         a.cfg.Limits(),
		Retry:          a.cfg.PublishRetry(),
		AttemptTimeout: a.cfg.AttemptTimeout(),
	})
}

// buildSenders constructs a sender for every enabled platform. Disabled
// platforms are left nil and surface as "no sender configured".
func buildSenders(c *config.Config) publish.Senders {
	var s publish.Senders
	if pc := c.Platforms.Twitter; pc.Enabled {
		s.Twitter = twitter.New(twitter.Config{Timeout: pc.TimeoutDuration()})
	}
	if pc := c.Platforms.Mastodon; pc.Enabled {
		s.Mastodon = mastodon.New(mastodon.Config{Server: pc.Endpoint, Timeout: pc.TimeoutDuration()})
	}
	if pc := c.Platforms.Bluesky; pc.Enabled {
		s.Bluesky = bluesky.New(bluesky.Config{PDSURL: pc.Endpoint, Timeout: pc.TimeoutDuration()})
	}
	if pc := c.Platforms.Discord; pc.Enabled {
		s.Discord = discord.New(discord.Config{Username: pc.Username, Timeout: pc.TimeoutDuration()})
	}
	return s
}

func enabledPlatforms(c *config.Config) []publish.Platform {
	var out []publish.Platform
	for _, p := range publish.Platforms() {
		if c.Platform(p).Enabled {
			out = append(out, p)
		}
	}
	return out
}
