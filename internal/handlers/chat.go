package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/cache"
	"modelgate/internal/completion"
	"modelgate/internal/metrics"
	"modelgate/pkg/api"
	"modelgate/pkg/logging"
)

// ChatHandler holds dependencies for the /v1/chat/completions endpoint.
type ChatHandler struct {
	Service  completion.Completer
	Cache    cache.ReplyCache // nil when caching is disabled
	CacheTTL time.Duration
}

func NewChatHandler(svc completion.Completer, c cache.ReplyCache, ttl time.Duration) *ChatHandler {
	return &ChatHandler{
		Service:  svc,
		Cache:    c,
		CacheTTL: ttl,
	}
}

// ChatCompletion handles POST /v1/chat/completions. Requests with an
// explicit temperature of 0 decode greedily and are therefore
// deterministic; those are the only ones looked up in (and written to)
// the reply cache.
func (h *ChatHandler) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req api.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			logger.Warn("request body too large", zap.Int64("limit_bytes", maxBytesErr.Limit))
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return
		}
		logger.Warn("invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to parse request body")
		return
	}

	cacheKey := ""
	cacheable := h.Cache != nil && req.Temperature != nil && *req.Temperature == 0
	if cacheable {
		key, err := cache.BuildKey(h.Service.Model(), &req)
		if err != nil {
			logger.Warn("cache key build failed", zap.Error(err))
			cacheable = false
		} else {
			cacheKey = key.String()
		}
	}

	if cacheable {
		cached, hit, err := h.Cache.Get(ctx, cacheKey)
		if err != nil {
			// Cache is best-effort; log and treat as miss.
			logger.Warn("cache lookup failed", zap.Error(err))
		}
		if hit {
			var resp api.ChatCompletionResponse
			if err := json.Unmarshal(cached, &resp); err != nil {
				logger.Warn("cached reply unreadable", zap.Error(err))
			} else {
				logger.Info("chat completion served from cache",
					zap.String("id", resp.ID),
					zap.Duration("total_latency", time.Since(start)),
				)
				writeJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	genStart := time.Now()
	resp, err := h.Service.Complete(ctx, &req)
	if err != nil {
		logger.Error("completion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "inference_error", err.Error())
		return
	}
	genLatency := time.Since(genStart)

	metrics.GenerationSeconds.Observe(genLatency.Seconds())
	metrics.PromptTokensTotal.Add(float64(resp.Usage.PromptTokens))
	metrics.CompletionTokensTotal.Add(float64(resp.Usage.CompletionTokens))

	if cacheable {
		if body, err := json.Marshal(resp); err != nil {
			logger.Warn("marshal response for cache failed", zap.Error(err))
		} else if err := h.Cache.Set(ctx, cacheKey, body, h.CacheTTL); err != nil {
			logger.Warn("cache store failed", zap.Error(err))
		}
	}

	logger.Info("chat completion served",
		zap.String("id", resp.ID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("generation_latency", genLatency),
		zap.Duration("total_latency", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, resp)
}
