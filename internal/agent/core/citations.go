package core

import (
	"fmt"
	"strings"

	"github.com/parallaxsearch/parallax/internal/helpers"
)

// collectCitations derives the turn's citations from the execution log.
// Only sources returned by calls that actually succeeded are eligible,
// so every citation is traceable to a recorded tool call. Duplicate
// URLs collapse to the first occurrence.
func collectCitations(calls []ToolCall) []Citation {
	seen := make(map[string]bool)
	var out []Citation
	for _, call := range calls {
		if !call.Succeeded() {
			continue
		}
		for _, src := range call.Result.Sources {
			key := strings.TrimSpace(src.URL)
			if key == "" {
				key = src.ID
			}
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Citation{
				ID:          fmt.Sprintf("s%d", len(out)+1),
				Title:       src.Title,
				URL:         src.URL,
				Snippet:     src.Snippet,
				PublishedAt: src.PublishedAt,
				Tool:        call.Tool,
			})
		}
	}
	return out
}

// Format renders the citation in the reference layout used in answers.
func (c Citation) Format() string {
	return helpers.FormatCitation(helpers.Citation{
		SourceID:  c.ID,
		Title:     c.Title,
		URL:       c.URL,
		Snippet:   c.Snippet,
		Published: c.PublishedAt,
	})
}

// evidenceDigest renders the usable results as context for synthesis.
func evidenceDigest(calls []ToolCall, limit int) string {
	var b strings.Builder
	n := 0
	for _, call := range calls {
		if !call.Succeeded() {
			continue
		}
		for _, src := range call.Result.Sources {
			if n >= limit {
				return b.String()
			}
			n++
			fmt.Fprintf(&b, "[%d] %s (%s)\n", n, src.Title, src.URL)
			body := src.Content
			if body == "" {
				body = src.Snippet
			}
			if len(body) > 1500 {
				body = body[:1500]
			}
			fmt.Fprintf(&b, "%s\n\n", body)
		}
		if call.Result.Summary != "" && len(call.Result.Sources) == 0 {
			fmt.Fprintf(&b, "%s result: %s\n\n", call.Tool, call.Result.Summary)
		}
	}
	return b.String()
}

func countUsable(calls []ToolCall) int {
	n := 0
	for _, c := range calls {
		if c.Succeeded() {
			n++
		}
	}
	return n
}
