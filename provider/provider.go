package provider

import (
	"context"
	"errors"
	"time"

	"github.com/parallaxsearch/parallax/config"
	openai_provider "github.com/parallaxsearch/parallax/provider/openai"
)

// Client identifies an LLM provider implementation.
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Usage reports token consumption for a single completion call.
type Usage = openai_provider.Usage

// ChunkFunc receives incremental completion text as it is produced.
type ChunkFunc = openai_provider.ChunkFunc

// Provider is the interface all completion implementations must satisfy.
type Provider interface {
	// Complete returns the full generated text for a prompt.
	Complete(ctx context.Context, model string, system string, prompt string) (string, Usage, error)

	// CompleteStream delivers the answer incrementally through onChunk and
	// returns the assembled full text. onChunk may be nil.
	CompleteStream(ctx context.Context, model string, system string, prompt string, onChunk ChunkFunc) (string, Usage, error)

	// CountTokensEstimate approximates the token count of a text.
	CountTokensEstimate(text string) int64
}

// NewProvider creates a completion client from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider: " + cfg.Provider)
	}
}
