package websearch

import (
	"context"
	"testing"

	"github.com/parallaxsearch/parallax/config"
	"github.com/parallaxsearch/parallax/internal/tools"
)

type fakeSearcher struct {
	gotQuery   string
	gotK       int
	gotSites   []string
	gotRecency int
	results    []tools.Source
	err        error
}

func (f *fakeSearcher) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]tools.Source, error) {
	f.gotQuery, f.gotK, f.gotSites, f.gotRecency = q, k, sites, recency
	return f.results, f.err
}

func TestInvokePassesParams(t *testing.T) {
	fake := &fakeSearcher{results: []tools.Source{
		{Title: "A", URL: "https://a.example"},
		{Title: "B", URL: "https://b.example"},
	}}
	a := NewAdapterWithSearcher(fake, 8)

	res, err := a.Invoke(context.Background(), tools.Params{
		"query":        "battery chemistry",
		"max_results":  float64(3),
		"sites":        []interface{}{"example.com"},
		"recency_days": float64(7),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if fake.gotQuery != "battery chemistry" || fake.gotK != 3 || fake.gotRecency != 7 {
		t.Fatalf("searcher got %q k=%d recency=%d", fake.gotQuery, fake.gotK, fake.gotRecency)
	}
	if len(fake.gotSites) != 1 || fake.gotSites[0] != "example.com" {
		t.Fatalf("sites = %v", fake.gotSites)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(res.Sources))
	}
	if !res.Usable() {
		t.Fatal("expected a usable result")
	}
}

func TestInvokeCapsMaxResults(t *testing.T) {
	fake := &fakeSearcher{}
	a := NewAdapterWithSearcher(fake, 5)
	if _, err := a.Invoke(context.Background(), tools.Params{"query": "q", "max_results": 50}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if fake.gotK != 5 {
		t.Fatalf("k = %d, want 5", fake.gotK)
	}
}

func TestInvokeRequiresQuery(t *testing.T) {
	a := NewAdapterWithSearcher(&fakeSearcher{}, 8)
	_, err := a.Invoke(context.Background(), tools.Params{})
	f, ok := tools.AsFailure(err)
	if !ok || f.Kind != tools.FailureInvalidInput {
		t.Fatalf("expected invalid-input failure, got %v", err)
	}
}

func TestNewAdapterUnknownProvider(t *testing.T) {
	_, err := NewAdapter(config.WebSearchConfig{Provider: "altavista"})
	if err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}
