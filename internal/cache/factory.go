package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string
	TTL     time.Duration
	Prefix  string
}

// New builds the configured ReplyCache, wrapped with logging and metrics.
// Backend "off" (or anything unrecognized) returns nil, meaning no
// caching; callers must treat a nil cache as disabled.
func New(cfg Config, redisClient *redis.Client) ReplyCache {
	switch cfg.Backend {
	case "redis":
		return NewLoggingCache(NewRedisCache(redisClient, cfg.Prefix))
	case "memory":
		return NewLoggingCache(NewMemoryCache(cfg.TTL))
	default:
		return nil
	}
}
