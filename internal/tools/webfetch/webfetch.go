// Package webfetch extracts readable article content from web pages.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/parallaxsearch/parallax/config"
	"github.com/parallaxsearch/parallax/internal/tools"
)

const (
	defaultMaxBody  = 2 << 20 // bytes read from the network
	defaultMaxChars = 20000   // characters of extracted text kept
	userAgent       = "parallax/1.0 (+https://github.com/parallaxsearch/parallax)"
)

// Adapter exposes page extraction as the "web_fetch" capability. Static
// HTTP extraction first; a headless browser pass covers JS-heavy pages
// when enabled.
type Adapter struct {
	client     *http.Client
	maxBody    int64
	useBrowser bool
	timeout    time.Duration
}

// NewAdapter builds the adapter from configuration.
func NewAdapter(cfg config.WebFetchConfig) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Adapter{
		client:     &http.Client{Timeout: timeout},
		maxBody:    maxBody,
		useBrowser: cfg.UseBrowser,
		timeout:    timeout,
	}
}

func (a *Adapter) Name() string { return "web_fetch" }

// Invoke fetches one page. Params: url (required).
func (a *Adapter) Invoke(ctx context.Context, params tools.Params) (tools.Result, error) {
	raw := strings.TrimSpace(params.String("url"))
	if raw == "" {
		return tools.Result{}, tools.NewFailure(a.Name(), tools.FailureInvalidInput, errors.New("url is required"))
	}
	pageURL, err := url.Parse(raw)
	if err != nil || pageURL.Host == "" {
		return tools.Result{}, tools.NewFailure(a.Name(), tools.FailureInvalidInput, fmt.Errorf("invalid url: %q", raw))
	}

	html, err := a.fetchStatic(ctx, raw)
	if err != nil && a.useBrowser {
		html, err = fetchRendered(ctx, raw, a.timeout)
	}
	if err != nil {
		return tools.Result{}, err
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return tools.Result{}, tools.NewFailure(a.Name(), tools.FailureUpstream, fmt.Errorf("extract %s: %w", raw, err))
	}
	text := truncateRunes(strings.TrimSpace(article.TextContent), defaultMaxChars)

	title := strings.TrimSpace(article.Title)
	return tools.Result{
		Tool:    a.Name(),
		Summary: title,
		Data: map[string]interface{}{
			"url":    raw,
			"byline": strings.TrimSpace(article.Byline),
			"length": len(text),
		},
		Sources: []tools.Source{{
			Title:   title,
			URL:     raw,
			Snippet: snippet(text),
			Content: text,
			Score:   1.0,
		}},
	}, nil
}

func (a *Adapter) fetchStatic(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", tools.NewFailure(a.Name(), tools.FailureInvalidInput, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", tools.NewFailure(a.Name(), tools.FailureRateLimited, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// truncateRunes cuts on rune boundaries so multibyte text never ends
// in a torn sequence.
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func snippet(text string) string {
	const maxRunes = 280
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
