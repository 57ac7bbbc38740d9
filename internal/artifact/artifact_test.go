package artifact

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

type memStore struct {
	files map[string][]byte
	fail  bool
}

func (s *memStore) Put(_ context.Context, name string, contents []byte) (string, error) {
	if s.fail {
		return "", fmt.Errorf("disk full")
	}
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = contents
	return "mem://" + name, nil
}

func TestCreateChart(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, nil)
	art := m.Create(context.Background(), ChartData{
		Title:  "Quarterly revenue",
		Labels: []string{"Q1", "Q2"},
		Series: []Series{{Name: "acme", Points: []float64{10, 12.5}}},
	})
	if art.Status != StatusReady {
		t.Fatalf("expected ready, got %s (%s)", art.Status, art.Error)
	}
	if art.Type != TypeChart {
		t.Fatalf("expected chart type, got %s", art.Type)
	}
	if len(art.Locations) != 2 {
		t.Fatalf("expected interactive and static locations, got %v", art.Locations)
	}
	csv := string(store.files[art.ID+".csv"])
	if !strings.Contains(csv, "label,acme") || !strings.Contains(csv, "Q2,12.5") {
		t.Fatalf("unexpected static rendering:\n%s", csv)
	}
}

func TestCreateTable(t *testing.T) {
	m := NewManager(&memStore{}, nil)
	art := m.Create(context.Background(), TableData{
		Title:   "Comparison",
		Columns: []string{"entity", "score"},
		Rows:    [][]string{{"a", "0.4"}, {"b", "0.7"}},
	})
	if art.Status != StatusReady {
		t.Fatalf("expected ready, got %s (%s)", art.Status, art.Error)
	}
}

func TestCreateInvalidData(t *testing.T) {
	m := NewManager(&memStore{}, nil)
	art := m.Create(context.Background(), ChartData{
		Title:  "ragged",
		Labels: []string{"a", "b", "c"},
		Series: []Series{{Name: "s", Points: []float64{1}}},
	})
	if art.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", art.Status)
	}
	if art.Error == "" {
		t.Fatalf("expected failure reason to be recorded")
	}
}

func TestCreateStoreFailure(t *testing.T) {
	m := NewManager(&memStore{fail: true}, nil)
	art := m.Create(context.Background(), TableData{
		Title:   "t",
		Columns: []string{"c"},
		Rows:    [][]string{{"v"}},
	})
	if art.Status != StatusFailed {
		t.Fatalf("expected failed on store error, got %s", art.Status)
	}
}

// Status transitions must be forward-only regardless of the order
// transitions are attempted in.
func TestLifecycleMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		art := Artifact{ID: "x", Status: StatusPending}
		steps := []func() error{
			func() error { return art.markReady(map[string]string{"interactive": "p"}, 1) },
			func() error { return art.markFailed("boom") },
		}
		rng.Shuffle(len(steps), func(a, b int) { steps[a], steps[b] = steps[b], steps[a] })

		if err := steps[0](); err != nil {
			t.Fatalf("first transition from pending must succeed: %v", err)
		}
		first := art.Status
		if err := steps[1](); err == nil {
			t.Fatalf("second transition out of %s must be refused", first)
		}
		if art.Status != first {
			t.Fatalf("status changed after refused transition: %s -> %s", first, art.Status)
		}
	}
}
