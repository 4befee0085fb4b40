// Package cache stores completed chat responses for reuse. Only greedy
// (temperature zero) requests are cacheable: their replies are
// deterministic, so serving a stored response body is indistinguishable
// from recomputing it, apart from the response id.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Key identifies one deterministic request: the serving model plus a
// hash over the normalized request body.
type Key struct {
	Model string
	Hash  string
}

// String renders the key as stored in Redis or the in-memory map.
func (k Key) String() string {
	// chat:<MODEL_ID>:<HASH_HEX>
	return fmt.Sprintf("chat:%s:%s", k.Model, k.Hash)
}

// ReplyCache is what the chat handler consults. Implemented by the
// in-memory cache and by Redis.
type ReplyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
