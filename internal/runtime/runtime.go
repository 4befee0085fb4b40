// Package runtime drives the inference engine behind the gateway. The
// engine owns everything substantive: tokenization, autoregressive
// decoding and sampling. This package only manages its lifecycle and
// speaks its wire protocol.
package runtime

import "context"

// Runtime is the narrow contract the gateway needs from an inference
// engine: turn text into tokens and back, and extend a token sequence.
type Runtime interface {
	// Encode converts text into model tokens.
	Encode(ctx context.Context, text string) ([]int, error)

	// Decode converts tokens back into text with special tokens stripped.
	Decode(ctx context.Context, tokens []int) (string, error)

	// Generate extends promptTokens with newly sampled tokens. The call
	// blocks for the full duration of generation.
	Generate(ctx context.Context, promptTokens []int, opts GenerateOptions) (*Generation, error)
}

// GenerateOptions control sampling for a single generation call. Values
// are passed to the engine unchanged; the engine decides how to handle
// out-of-range settings.
type GenerateOptions struct {
	// MaxNewTokens caps how many tokens generation may add.
	MaxNewTokens int

	// Sample enables stochastic sampling. When false the engine decodes
	// greedily and Temperature is ignored.
	Sample bool

	Temperature float64
	TopP        float64
}

// Generation is the outcome of one generation call: the full token
// sequence with the prompt retained at its head.
type Generation struct {
	// Tokens holds the prompt tokens followed by the generated ones.
	Tokens []int

	// PromptTokens counts the leading entries of Tokens that belong to
	// the prompt.
	PromptTokens int
}

// Completion returns only the newly generated tokens.
func (g *Generation) Completion() []int {
	if g.PromptTokens >= len(g.Tokens) {
		return nil
	}
	return g.Tokens[g.PromptTokens:]
}
