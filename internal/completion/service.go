package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"modelgate/internal/runtime"
	"modelgate/pkg/api"
	"modelgate/pkg/logging"
)

// Sampling defaults applied when a request leaves a parameter unset.
// max_tokens is additionally floored so a completion always has room to
// say something.
const (
	DefaultMaxTokens   = 128
	MinMaxTokens       = 16
	DefaultTemperature = 0.7
	DefaultTopP        = 0.8
)

// Completer is the interface the HTTP layer consumes. *Service is the
// canonical implementation.
type Completer interface {
	Complete(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletionResponse, error)
	Model() string
}

// Service executes chat completions against the model runtime. It holds
// no per-request state and is safe for concurrent use as long as the
// runtime is.
type Service struct {
	runtime runtime.Runtime
	model   string
}

// NewService builds a Service answering as the given model name.
func NewService(rt runtime.Runtime, model string) *Service {
	return &Service{runtime: rt, model: model}
}

// Model returns the model name the service reports in responses.
func (s *Service) Model() string {
	return s.model
}

// Complete runs one chat completion: render the prompt, tokenize it,
// generate, decode the new tokens and wrap everything in the response
// envelope. The call blocks until generation finishes. It never retries;
// runtime faults propagate to the caller.
func (s *Service) Complete(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletionResponse, error) {
	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens < MinMaxTokens {
		maxTokens = MinMaxTokens
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	topP := DefaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}

	prompt := BuildPrompt(req.Messages)

	start := time.Now()
	promptTokens, err := s.runtime.Encode(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	gen, err := s.runtime.Generate(ctx, promptTokens, runtime.GenerateOptions{
		MaxNewTokens: maxTokens,
		Sample:       temperature > 0,
		Temperature:  temperature,
		TopP:         topP,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	content, err := s.extractCompletion(ctx, gen)
	if err != nil {
		return nil, err
	}

	completionTokens := len(gen.Tokens) - gen.PromptTokens
	if completionTokens < 0 {
		completionTokens = 0
	}

	resp := &api.ChatCompletionResponse{
		ID:      newResponseID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      api.ChatMessage{Role: api.RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: api.Usage{
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      len(gen.Tokens),
		},
	}

	logging.L(ctx).Debug("completion finished",
		zap.String("id", resp.ID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("took", time.Since(start)),
	)

	return resp, nil
}

// extractCompletion decodes only the newly generated token slice, which
// stays correct even when decoding does not round-trip the prompt
// character for character. If the slice decodes to nothing, the full
// sequence is decoded instead so a reply is never silently empty.
func (s *Service) extractCompletion(ctx context.Context, gen *runtime.Generation) (string, error) {
	if tokens := gen.Completion(); len(tokens) > 0 {
		text, err := s.runtime.Decode(ctx, tokens)
		if err != nil {
			return "", fmt.Errorf("decode completion: %w", err)
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed, nil
		}
	}

	full, err := s.runtime.Decode(ctx, gen.Tokens)
	if err != nil {
		return "", fmt.Errorf("decode full sequence: %w", err)
	}
	return full, nil
}

// newResponseID mints an identifier in the shape OpenAI clients expect:
// random, unique with overwhelming probability, not guaranteed unique.
func newResponseID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
