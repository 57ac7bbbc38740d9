package tools

import (
	"context"
	"errors"

	"github.com/parallaxsearch/parallax/provider"
)

// LLMAdapter exposes the completion provider as the "llm_complete"
// capability so model calls share the adapter layer's timeout and failure
// normalization.
type LLMAdapter struct {
	provider provider.Provider
}

// NewLLMAdapter wraps a completion provider.
func NewLLMAdapter(p provider.Provider) *LLMAdapter {
	return &LLMAdapter{provider: p}
}

func (a *LLMAdapter) Name() string { return "llm_complete" }

// Invoke runs one completion. Params: prompt (required), model (required),
// system, on_chunk (optional func(string) enabling streamed delivery).
func (a *LLMAdapter) Invoke(ctx context.Context, params Params) (Result, error) {
	prompt := params.String("prompt")
	if prompt == "" {
		return Result{}, NewFailure(a.Name(), FailureInvalidInput, errors.New("prompt is required"))
	}
	model := params.String("model")
	if model == "" {
		return Result{}, NewFailure(a.Name(), FailureInvalidInput, errors.New("model is required"))
	}
	system := params.String("system")

	var (
		text  string
		usage provider.Usage
		err   error
	)
	if onChunk, ok := params["on_chunk"].(func(string)); ok && onChunk != nil {
		text, usage, err = a.provider.CompleteStream(ctx, model, system, prompt, onChunk)
	} else {
		text, usage, err = a.provider.Complete(ctx, model, system, prompt)
	}
	if err != nil {
		return Result{}, err
	}
	if usage.CompletionTokens == 0 && text != "" {
		// Streaming responses may omit usage; estimate for cost tracking.
		usage.CompletionTokens = a.provider.CountTokensEstimate(text)
		usage.PromptTokens = a.provider.CountTokensEstimate(system + prompt)
	}
	return Result{
		Tool:    a.Name(),
		Summary: text,
		Data: map[string]interface{}{
			"model":             model,
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
		},
	}, nil
}
