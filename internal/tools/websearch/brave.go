package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/parallaxsearch/parallax/internal/tools"
)

// Brave queries the Brave web search API.
type Brave struct {
	APIKey string
}

// Discover implements Searcher.
// https://api.search.brave.com/app/documentation/web-search
func (b Brave) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]tools.Source, error) {
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(q), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, tools.NewFailure("web_search", tools.FailureRateLimited, fmt.Errorf("brave status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []tools.Source
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, tools.Source{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
			Score:   1.0 - float64(i)/float64(k),
		})
	}
	return out, nil
}
