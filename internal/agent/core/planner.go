package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/parallaxsearch/parallax/internal/tools"
)

// Planner turns a user message (plus evidence gaps from earlier
// iterations) into a list of tool invocations. Planning goes through
// the llm_complete adapter; when the model or its output is unusable
// the planner falls back to a single web search so a turn never stalls
// in the plan stage.
type Planner struct {
	registry *tools.Registry
	model    string
	logger   *log.Logger
}

func NewPlanner(registry *tools.Registry, model string, logger *log.Logger) *Planner {
	return &Planner{registry: registry, model: model, logger: logger}
}

// Plan produces the invocations for one iteration. gap is the gate's
// insufficiency reason from the previous iteration, empty on the first.
func (p *Planner) Plan(ctx context.Context, in Input, iteration int, gap string) ([]Invocation, error) {
	prompt := p.buildPrompt(in, iteration, gap)
	res, err := p.registry.Invoke(ctx, "llm_complete", tools.Params{
		"prompt": prompt,
		"model":  p.model,
		"system": "You are a research planner. Respond with JSON only.",
	})
	if err != nil {
		p.logger.Printf("planning model call failed, using fallback plan: %v", err)
		return p.fallbackPlan(in), nil
	}

	invocations, err := p.parsePlan(res.Summary)
	if err != nil {
		p.logger.Printf("planning response unparsable, using fallback plan: %v", err)
		return p.fallbackPlan(in), nil
	}
	return invocations, nil
}

func (p *Planner) buildPrompt(in Input, iteration int, gap string) string {
	var history strings.Builder
	for _, m := range lastN(in.History, 6) {
		fmt.Fprintf(&history, "%s: %s\n", m.Role, m.Content)
	}

	var gapSection string
	if gap != "" {
		gapSection = fmt.Sprintf("\nPREVIOUS ITERATION GAP:\n%s\nPlan invocations that close this gap; do not repeat queries that already ran.\n", gap)
	}

	return fmt.Sprintf(`You plan tool invocations for a research assistant.

USER MESSAGE:
%s

CONVERSATION SO FAR:
%s
AVAILABLE TOOLS:
- web_search: params {"query": string, "max_results": int} - discover sources
- web_fetch: params {"url": string} - fetch and extract one page
- compare_sentiment: params {"entities": [string], "topic": string} - delegate a multi-entity sentiment comparison
%s
PLANNING REQUIREMENTS (iteration %d):
1. Plan the minimum set of invocations that can answer the message
2. Prefer web_search before web_fetch; fetch only promising URLs
3. Use compare_sentiment only for explicit multi-entity comparisons
4. Respond with JSON only, no prose:

{"invocations": [{"tool": "web_search", "params": {"query": "..."}, "reason": "..."}]}`,
		in.Message, history.String(), gapSection, iteration)
}

// parsePlan extracts the first balanced JSON object from the model
// output and decodes the invocation list. Models wrap JSON in prose and
// code fences often enough that plain unmarshal is not an option.
func (p *Planner) parsePlan(response string) ([]Invocation, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var doc struct {
		Invocations []struct {
			Tool   string                 `json:"tool"`
			Params map[string]interface{} `json:"params"`
			Reason string                 `json:"reason"`
		} `json:"invocations"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}

	invocations := make([]Invocation, 0, len(doc.Invocations))
	for _, raw := range doc.Invocations {
		if raw.Tool == "" {
			continue
		}
		if _, ok := p.registry.Get(raw.Tool); !ok {
			p.logger.Printf("plan references unknown tool %q, skipping", raw.Tool)
			continue
		}
		invocations = append(invocations, Invocation{
			ID:     uuid.New().String(),
			Tool:   raw.Tool,
			Params: tools.Params(raw.Params),
			Reason: raw.Reason,
		})
	}
	return invocations, nil
}

// fallbackPlan is the deterministic degradation: one web search over
// the raw message.
func (p *Planner) fallbackPlan(in Input) []Invocation {
	return []Invocation{{
		ID:     uuid.New().String(),
		Tool:   "web_search",
		Params: tools.Params{"query": in.Message},
		Reason: "fallback search",
	}}
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

func lastN(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
