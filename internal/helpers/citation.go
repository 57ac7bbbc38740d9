// Package helpers holds small formatting and normalisation utilities
// shared across the answer pipeline.
package helpers

import (
	"net/url"
	"strings"
	"time"
)

// Citation is the metadata rendered for one referenced source.
type Citation struct {
	SourceID  string
	Title     string
	URL       string
	Snippet   string
	Published time.Time
	Accessed  time.Time
}

// CitationOption configures citation formatting.
type CitationOption func(*citationConfig)

type citationConfig struct {
	maxSnippet int
}

// WithMaxSnippetLength truncates snippets to the provided length (default 180).
func WithMaxSnippetLength(n int) CitationOption {
	return func(cfg *citationConfig) {
		if n > 0 {
			cfg.maxSnippet = n
		}
	}
}

// FormatCitation renders a citation in the reference layout used in answers:
// [sourceID] Title — "Snippet" (Domain, YYYY-MM-DD) <URL>
func FormatCitation(c Citation, opts ...CitationOption) string {
	cfg := citationConfig{maxSnippet: 180}
	for _, opt := range opts {
		opt(&cfg)
	}

	sourceID := strings.TrimSpace(c.SourceID)
	if sourceID == "" {
		sourceID = "source"
	}

	parts := []string{"[" + sourceID + "]"}

	if title := strings.TrimSpace(c.Title); title != "" {
		parts = append(parts, title)
	}

	if snippet := formatSnippet(c.Snippet, cfg.maxSnippet); snippet != "" {
		parts = append(parts, "— "+snippet)
	}

	if domain := extractDomain(c.URL); domain != "" {
		datePart := ""
		if !c.Published.IsZero() {
			datePart = c.Published.Format("2006-01-02")
		} else if !c.Accessed.IsZero() {
			datePart = "retrieved " + c.Accessed.Format("2006-01-02")
		}
		meta := domain
		if datePart != "" {
			meta += ", " + datePart
		}
		parts = append(parts, "("+meta+")")
	}

	if link := strings.TrimSpace(c.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}

	return strings.Join(parts, " ")
}

func formatSnippet(snippet string, limit int) string {
	snippet = strings.Join(strings.Fields(snippet), " ")
	if snippet == "" {
		return ""
	}
	if limit > 0 && len(snippet) > limit {
		snippet = snippet[:limit]
		if !strings.HasSuffix(snippet, "…") {
			snippet += "…"
		}
	}
	if !strings.HasPrefix(snippet, "\"") {
		snippet = `"` + snippet
	}
	if !strings.HasSuffix(snippet, "\"") {
		snippet += `"`
	}
	return snippet
}

func extractDomain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	return strings.TrimSuffix(host, ":443")
}
