package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/parallaxsearch/parallax/internal/tools"
)

// Serper queries google.serper.dev.
type Serper struct {
	APIKey string
}

// Discover implements Searcher. https://serper.dev/ docs.
func (s Serper) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]tools.Source, error) {
	payload := map[string]any{"q": q, "num": k}
	if len(sites) > 0 {
		payload["site"] = strings.Join(sites, " OR ")
	}
	if recency > 0 {
		payload["tbs"] = fmt.Sprintf("qdr:%d", recency)
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, tools.NewFailure("web_search", tools.FailureRateLimited, fmt.Errorf("serper status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string  `json:"title"`
			Link    string  `json:"link"`
			Snippet string  `json:"snippet"`
			Date    string  `json:"date"`
			Pos     float64 `json:"position"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []tools.Source
	for i, item := range raw.Organic {
		if i >= k {
			break
		}
		score := 1.0 - float64(i)/float64(k)
		out = append(out, tools.Source{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Score:   score,
		})
	}
	return out, nil
}
