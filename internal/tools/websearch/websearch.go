// Package websearch adapts external web search providers to the tool
// adapter contract.
package websearch

import (
	"context"
	"errors"
	"fmt"

	"github.com/parallaxsearch/parallax/config"
	"github.com/parallaxsearch/parallax/internal/tools"
)

// Searcher is the provider-facing search contract.
type Searcher interface {
	Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]tools.Source, error)
}

// Provider selects a search backend.
type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// ErrUnsupportedProvider is returned for unknown backend names.
var ErrUnsupportedProvider = errors.New("unsupported search provider")

// NewSearcher builds the configured backend.
func NewSearcher(provider Provider, apiKey string) (Searcher, error) {
	switch provider {
	case SerperProvider:
		return Serper{APIKey: apiKey}, nil
	case BraveProvider:
		return Brave{APIKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// Adapter exposes web search as the "web_search" capability.
type Adapter struct {
	searcher   Searcher
	maxResults int
}

// NewAdapter wires a search backend from configuration.
func NewAdapter(cfg config.WebSearchConfig) (*Adapter, error) {
	key := cfg.SerperAPIKey
	if Provider(cfg.Provider) == BraveProvider {
		key = cfg.BraveAPIKey
	}
	s, err := NewSearcher(Provider(cfg.Provider), key)
	if err != nil {
		return nil, err
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 8
	}
	return &Adapter{searcher: s, maxResults: maxResults}, nil
}

// NewAdapterWithSearcher is used by tests to inject a fake backend.
func NewAdapterWithSearcher(s Searcher, maxResults int) *Adapter {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &Adapter{searcher: s, maxResults: maxResults}
}

func (a *Adapter) Name() string { return "web_search" }

// Invoke executes one search. Params: query (required), max_results,
// sites, recency_days.
func (a *Adapter) Invoke(ctx context.Context, params tools.Params) (tools.Result, error) {
	query := params.String("query")
	if query == "" {
		return tools.Result{}, tools.NewFailure(a.Name(), tools.FailureInvalidInput, errors.New("query is required"))
	}
	k := params.Int("max_results")
	if k <= 0 || k > a.maxResults {
		k = a.maxResults
	}
	sites := params.Strings("sites")
	recency := params.Int("recency_days")

	results, err := a.searcher.Discover(ctx, query, k, sites, recency)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{
		Tool:    a.Name(),
		Summary: fmt.Sprintf("%d results for %q", len(results), query),
		Sources: results,
		Data:    map[string]interface{}{"query": query, "count": len(results)},
	}, nil
}
