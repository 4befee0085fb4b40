package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/metrics"
	"modelgate/pkg/logging"
)

// LoggingCache wraps a ReplyCache with logging and metrics.
type LoggingCache struct {
	inner ReplyCache
}

// NewLoggingCache returns a cache that logs lookups and records hits.
func NewLoggingCache(inner ReplyCache) ReplyCache {
	return &LoggingCache{inner: inner}
}

func (c *LoggingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.CacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}
	if parts, parsed := parseKey(key); parsed {
		fields = append(fields,
			zap.String("model", parts.model),
			zap.String("hash", parts.hash),
		)
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("reply_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Info("reply_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("reply_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Info("reply_cache_set", fields...)
	}

	return err
}

type keyParts struct {
	model string
	hash  string
}

// Expecting: chat:<MODEL_ID>:<HASH>
func parseKey(key string) (keyParts, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "chat" {
		return keyParts{}, false
	}
	return keyParts{model: parts[1], hash: parts[2]}, true
}
