package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"modelgate/pkg/api"
)

// BuildKey derives the cache key for a chat request. Normalization is
// deliberately simple: the serving model name plus the request's JSON
// form. Requests that spell the same parameters differently (explicit
// versus defaulted) hash apart, which costs a duplicate entry but never
// serves a wrong reply.
func BuildKey(model string, req *api.ChatCompletionRequest) (Key, error) {
	model = strings.TrimSpace(model)

	body, err := json.Marshal(req)
	if err != nil {
		return Key{}, err
	}

	normalized := "model:" + model + "|body:" + string(body)
	sum := sha256.Sum256([]byte(normalized))

	return Key{
		Model: model,
		Hash:  hex.EncodeToString(sum[:]),
	}, nil
}
