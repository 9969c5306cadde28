// Package redisaudit caches object-name lookups in Redis.
package redisaudit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	audit "github.com/kafeiih/go-opaudit"
)

// Cmdable is the subset of redis.Cmdable used by CachingResolver.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Config controls key naming and expiry.
type Config struct {
	// Prefix namespaces cache keys, e.g. "opaudit:project:".
	Prefix string
	TTL    time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Prefix == "" {
		out.Prefix = "opaudit:name:"
	}
	if out.TTL <= 0 {
		out.TTL = 10 * time.Minute
	}
	return out
}

// CachingResolver wraps an identity resolver with a Redis read-through
// cache. Only non-empty names are cached, so an object that appears
// later is found on the next lookup.
type CachingResolver struct {
	rdb      Cmdable
	delegate audit.IdentityResolver
	cfg      Config
	logger   *slog.Logger
}

// NewCachingResolver returns a resolver consulting rdb before delegate.
func NewCachingResolver(rdb Cmdable, delegate audit.IdentityResolver, cfg Config, logger *slog.Logger) *CachingResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingResolver{rdb: rdb, delegate: delegate, cfg: cfg.withDefaults(), logger: logger}
}

// NameOf returns the cached name for identity, resolving and caching it
// on a miss. Redis failures fall through to the delegate.
func (r *CachingResolver) NameOf(ctx context.Context, identity string) string {
	if identity == "" {
		return ""
	}
	key := r.cfg.Prefix + identity

	name, err := r.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return name
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("redis name lookup failed", "key", key, "error", err)
	}

	name = r.delegate.NameOf(ctx, identity)
	if name == "" {
		return ""
	}
	if err := r.rdb.Set(ctx, key, name, r.cfg.TTL).Err(); err != nil {
		r.logger.Warn("caching resolved name", "key", key, "error", err)
	}
	return name
}
