// Package subagent runs delegated analysis tasks behind the tool
// adapter surface. The orchestrator invokes a sub-agent like any other
// tool; the nested iteration loop and its bound stay internal.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/parallaxsearch/parallax/internal/artifact"
	"github.com/parallaxsearch/parallax/internal/tools"
)

const insufficientData = "insufficient-data"

// SentimentComparer compares sentiment toward multiple entities on a
// topic. Each entity gets its own bounded evidence loop, independent of
// the parent turn's iteration budget.
type SentimentComparer struct {
	registry *tools.Registry
	model    string
	ceiling  int
	minHits  int
	logger   *log.Logger
}

func NewSentimentComparer(registry *tools.Registry, model string, ceiling int) *SentimentComparer {
	if ceiling <= 0 {
		ceiling = 3
	}
	return &SentimentComparer{
		registry: registry,
		model:    model,
		ceiling:  ceiling,
		minHits:  2,
		logger:   log.New(os.Stdout, "[SUBAGENT] ", log.LstdFlags),
	}
}

func (s *SentimentComparer) Name() string { return "compare_sentiment" }

// Invoke gathers evidence per entity, scores it, and returns a
// comparison with a renderable chart. Entities with too little evidence
// are reported with an insufficient-data marker instead of failing the
// whole comparison.
func (s *SentimentComparer) Invoke(ctx context.Context, params tools.Params) (tools.Result, error) {
	entities := params.Strings("entities")
	topic := params.String("topic")
	if len(entities) < 2 {
		return tools.Result{}, tools.NewFailure(s.Name(), tools.FailureInvalidInput,
			fmt.Errorf("need at least 2 entities, got %d", len(entities)))
	}
	if topic == "" {
		return tools.Result{}, tools.NewFailure(s.Name(), tools.FailureInvalidInput,
			fmt.Errorf("topic is required"))
	}

	labels := make([]string, 0, len(entities))
	values := make([]float64, 0, len(entities))
	var insufficient []string
	var allSources []tools.Source

	for _, entity := range entities {
		sources := s.gather(ctx, entity, topic)
		allSources = append(allSources, sources...)
		if len(sources) < s.minHits {
			s.logger.Printf("%s: %d sources for %q, marking %s", topic, len(sources), entity, insufficientData)
			insufficient = append(insufficient, entity)
			continue
		}
		score, err := s.score(ctx, entity, topic, sources)
		if err != nil {
			s.logger.Printf("scoring %q failed: %v", entity, err)
			insufficient = append(insufficient, entity)
			continue
		}
		labels = append(labels, entity)
		values = append(values, score)
	}

	if len(labels) == 0 {
		return tools.Result{}, tools.NewFailure(s.Name(), tools.FailureUpstream,
			fmt.Errorf("no entity had enough evidence to score"))
	}

	res := tools.Result{
		Tool:    s.Name(),
		Summary: summarize(topic, labels, values, insufficient),
		Data: map[string]interface{}{
			"topic":        topic,
			"labels":       labels,
			"values":       values,
			"insufficient": insufficient,
		},
		Sources: allSources,
	}
	if len(labels) >= 2 {
		res.Data["artifact"] = artifact.ChartData{
			Title:  fmt.Sprintf("Sentiment toward %s", topic),
			Labels: labels,
			Series: []artifact.Series{{Name: "sentiment", Points: values}},
		}
	}
	return res, nil
}

// gather runs the entity's evidence loop: up to ceiling searches with
// progressively reworded queries. The loop keeps going while the
// evidence fails a quality check, either too few sources or all of
// them from a single host.
func (s *SentimentComparer) gather(ctx context.Context, entity, topic string) []tools.Source {
	queries := []string{
		fmt.Sprintf("%s %s opinion", entity, topic),
		fmt.Sprintf("%s %s review sentiment", entity, topic),
		fmt.Sprintf("what do people think of %s %s", entity, topic),
	}

	seen := make(map[string]bool)
	var sources []tools.Source
	for iteration := 1; iteration <= s.ceiling; iteration++ {
		q := queries[(iteration-1)%len(queries)]
		res, err := s.registry.Invoke(ctx, "web_search", tools.Params{
			"query":       q,
			"max_results": 5,
		})
		if err != nil {
			s.logger.Printf("search %q (iteration %d): %v", q, iteration, err)
			continue
		}
		for _, src := range res.Sources {
			if src.URL == "" || seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			sources = append(sources, src)
		}
		if len(sources) < s.minHits {
			continue
		}
		if lopsided(sources) {
			s.logger.Printf("%s: all %d sources for %q come from %s, broadening",
				topic, len(sources), entity, sourceHost(sources[0].URL))
			continue
		}
		break
	}
	return sources
}

// lopsided reports whether every source comes from one host. A single
// outlet's coverage is that outlet's take, not sentiment.
func lopsided(sources []tools.Source) bool {
	if len(sources) < 2 {
		return false
	}
	first := sourceHost(sources[0].URL)
	for _, src := range sources[1:] {
		if sourceHost(src.URL) != first {
			return false
		}
	}
	return true
}

func sourceHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Host)
}

// score asks the model for a single sentiment value in [-1, 1].
func (s *SentimentComparer) score(ctx context.Context, entity, topic string, sources []tools.Source) (float64, error) {
	var evidence strings.Builder
	for i, src := range sources {
		if i >= 6 {
			break
		}
		fmt.Fprintf(&evidence, "- %s: %s\n", src.Title, src.Snippet)
	}

	prompt := fmt.Sprintf(`Rate the overall sentiment toward %q regarding %q in the evidence below.

EVIDENCE:
%s
Respond with JSON only: {"score": <number between -1.0 and 1.0>}`,
		entity, topic, evidence.String())

	res, err := s.registry.Invoke(ctx, "llm_complete", tools.Params{
		"prompt": prompt,
		"model":  s.model,
		"system": "You are a sentiment rater. Respond with JSON only.",
	})
	if err != nil {
		return 0, err
	}
	return parseScore(res.Summary)
}

func parseScore(response string) (float64, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}
	var doc struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &doc); err != nil {
		return 0, fmt.Errorf("decoding score: %w", err)
	}
	if doc.Score < -1 || doc.Score > 1 {
		return 0, fmt.Errorf("score %f out of range", doc.Score)
	}
	return doc.Score, nil
}

func summarize(topic string, labels []string, values []float64, insufficient []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sentiment comparison on %s: ", topic)
	parts := make([]string, len(labels))
	for i := range labels {
		parts[i] = fmt.Sprintf("%s %.2f", labels[i], values[i])
	}
	b.WriteString(strings.Join(parts, ", "))
	if len(insufficient) > 0 {
		fmt.Fprintf(&b, " (%s: %s)", insufficientData, strings.Join(insufficient, ", "))
	}
	return b.String()
}
