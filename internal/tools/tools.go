// Package tools normalizes heterogeneous external capabilities into a
// single call shape: invoke(capability, params) -> result | failure.
package tools

import (
	"context"
	"time"
)

// Params carries the input parameters for one invocation.
type Params map[string]interface{}

// String returns a string-typed parameter or the empty string.
func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Int returns an int-typed parameter, accepting float64 from decoded JSON.
func (p Params) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Strings returns a []string parameter, accepting []interface{} from
// decoded JSON.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Source is a citable origin carried unchanged into the final answer.
type Source struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet,omitempty"`
	Content     string    `json:"content,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Score       float64   `json:"score,omitempty"`
}

// Result is the uniform output of every adapter.
type Result struct {
	Tool    string                 `json:"tool"`
	Summary string                 `json:"summary,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Sources []Source               `json:"sources,omitempty"`
}

// Usable reports whether the result contributes evidence worth keeping.
func (r Result) Usable() bool {
	return len(r.Sources) > 0 || r.Summary != "" || len(r.Data) > 0
}

// Adapter wraps one external capability. Implementations must not mutate
// shared state; they return a value the caller folds into its own state.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, params Params) (Result, error)
}
