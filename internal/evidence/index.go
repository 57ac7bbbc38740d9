// Package evidence maintains a per-turn full-text index over gathered
// sources. The gate's sufficiency policy and citation ranking both read
// from it; it never outlives the turn that built it.
package evidence

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"

	"github.com/parallaxsearch/parallax/internal/helpers"
	"github.com/parallaxsearch/parallax/internal/tools"
)

// Hit is one ranked match from the index.
type Hit struct {
	Source tools.Source
	Score  float64
	Rank   int
}

// Index is an in-memory BM25 index over the sources a turn has gathered.
type Index struct {
	mu    sync.RWMutex
	idx   bleve.Index
	docs  map[string]tools.Source
	byURL map[string]string // url -> doc id, dedup
}

type doc struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Content string `json:"content"`
}

// NewIndex creates an empty in-memory index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("evidence index: %w", err)
	}
	return &Index{
		idx:   idx,
		docs:  make(map[string]tools.Source),
		byURL: make(map[string]string),
	}, nil
}

// Add indexes a source, deduplicating by URL. Returns the doc id.
func (x *Index) Add(src tools.Source) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	key := dedupKey(src.URL)
	if key != "" {
		if id, ok := x.byURL[key]; ok {
			return id, nil
		}
	}
	id := src.ID
	if id == "" {
		id = uuid.NewString()
	}
	src.ID = id
	if err := x.idx.Index(id, doc{Title: src.Title, Snippet: src.Snippet, Content: src.Content}); err != nil {
		return "", err
	}
	x.docs[id] = src
	if key != "" {
		x.byURL[key] = id
	}
	return id, nil
}

// dedupKey normalises a URL so variants of the same page collapse to one
// entry. Unparseable URLs fall back to a lowercased trim.
func dedupKey(raw string) string {
	if canonical, err := helpers.CanonicalURL(raw); err == nil {
		return strings.TrimSuffix(canonical, "/")
	}
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "/")
}

// Len returns the number of indexed sources.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Sources returns all indexed sources in stable (insertion-id) order.
func (x *Index) Sources() []tools.Source {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]tools.Source, 0, len(x.docs))
	for _, s := range x.docs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search returns the top k sources matching q by BM25 score.
func (x *Index) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(escapeQuery(q))
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Hit
	for i, hit := range res.Hits {
		src, ok := x.docs[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{Source: src, Score: hit.Score, Rank: i + 1})
	}
	return out, nil
}

// Coverage reports the fraction of significant query terms that match at
// least one indexed source. Empty queries and empty indexes score zero.
func (x *Index) Coverage(q string) float64 {
	terms := significantTerms(q)
	if len(terms) == 0 || x.Len() == 0 {
		return 0
	}
	matched := 0
	for _, term := range terms {
		query := bleve.NewMatchQuery(term)
		req := bleve.NewSearchRequestOptions(query, 1, 0, false)
		res, err := x.idx.Search(req)
		if err == nil && res.Total > 0 {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {},
	"in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {},
	"to": {}, "was": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "with": {},
}

func significantTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	seen := make(map[string]struct{})
	var out []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// escapeQuery strips query-string syntax so user text cannot break the
// bleve query parser.
func escapeQuery(q string) string {
	replacer := strings.NewReplacer(
		"+", " ", "-", " ", "\"", " ", ":", " ", "^", " ", "~", " ",
		"(", " ", ")", " ", "[", " ", "]", " ", "*", " ", "?", " ", "\\", " ",
	)
	return strings.TrimSpace(replacer.Replace(q))
}

// Close releases the underlying index.
func (x *Index) Close() error { return x.idx.Close() }
