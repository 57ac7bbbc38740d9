package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parallaxsearch/parallax/config"
	"github.com/parallaxsearch/parallax/internal/agent/telemetry"
	"github.com/parallaxsearch/parallax/internal/artifact"
	"github.com/parallaxsearch/parallax/internal/tools"
)

// scriptedLLM returns canned responses in order and echoes them through
// on_chunk when streaming is requested.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *scriptedLLM) Name() string { return "llm_complete" }

func (s *scriptedLLM) Invoke(_ context.Context, params tools.Params) (tools.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return tools.Result{}, fmt.Errorf("unexpected llm call %d", s.calls+1)
	}
	text := s.responses[s.calls]
	s.calls++
	if onChunk, ok := params["on_chunk"].(func(string)); ok {
		for _, part := range strings.SplitAfter(text, " ") {
			onChunk(part)
		}
	}
	return tools.Result{Tool: "llm_complete", Summary: text}, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	sources []tools.Source
	err     error
	calls   int
}

func (f *fakeSearch) Name() string { return "web_search" }

func (f *fakeSearch) Invoke(_ context.Context, _ tools.Params) (tools.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return tools.Result{}, f.err
	}
	return tools.Result{Tool: "web_search", Summary: "found", Sources: f.sources}, nil
}

type memArtifactStore struct{ files map[string][]byte }

func (s *memArtifactStore) Put(_ context.Context, name string, contents []byte) (string, error) {
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = contents
	return "mem://" + name, nil
}

func newTestEngine(t *testing.T, adapters ...tools.Adapter) *Engine {
	t.Helper()
	registry := tools.NewRegistry(5*time.Second, 1000)
	for _, a := range adapters {
		registry.Register(a)
	}
	cfg := config.OrchestratorConfig{
		IterationCeiling:  3,
		TurnTimeout:       10 * time.Second,
		CoverageThreshold: 0.4,
		MinUsableResults:  1,
	}
	routing := config.RoutingConfig{Fallback: "test-model"}
	tele := telemetry.NewTelemetry(config.TelemetryConfig{Enabled: false})
	return NewEngine(cfg, routing, tele, registry, artifact.NewManager(&memArtifactStore{}, nil))
}

func collectEvents() (*[]Event, EventSink) {
	events := &[]Event{}
	var mu sync.Mutex
	return events, EventSinkFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, e)
	})
}

func planJSON(query string) string {
	return fmt.Sprintf(`{"invocations": [{"tool": "web_search", "params": {"query": %q}, "reason": "look it up"}]}`, query)
}

func TestRunTurnEventOrdering(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		planJSON("quantum computing advances"),
		"Recent quantum computing advances include larger error-corrected systems [s1].",
	}}
	search := &fakeSearch{sources: []tools.Source{
		{Title: "Quantum review", URL: "https://example.com/q", Snippet: "quantum computing advances in 2026", Content: "quantum computing advances error correction"},
	}}
	engine := newTestEngine(t, llm, search)

	events, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{
		SessionID: "sess-1", TurnID: "turn-1",
		Message: "quantum computing advances",
	}, sink, nil)

	if out.Error != "" {
		t.Fatalf("unexpected turn error: %s", out.Error)
	}
	evs := *events
	if len(evs) < 3 {
		t.Fatalf("expected a full event stream, got %d events", len(evs))
	}
	if evs[0].Type != EventTurnStarted {
		t.Fatalf("first event = %s, want %s", evs[0].Type, EventTurnStarted)
	}
	last := evs[len(evs)-1]
	if last.Type != EventTurnComplete {
		t.Fatalf("last event = %s, want %s", last.Type, EventTurnComplete)
	}

	terminals := 0
	lastCitation, firstChunk := -1, -1
	for i, e := range evs {
		if e.Seq != i {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
		if e.Terminal() {
			terminals++
			if i != len(evs)-1 {
				t.Fatalf("terminal event at position %d of %d", i, len(evs))
			}
		}
		switch e.Type {
		case EventCitation:
			lastCitation = i
		case EventContentChunk:
			if firstChunk == -1 {
				firstChunk = i
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
	if lastCitation == -1 || firstChunk == -1 {
		t.Fatalf("expected citations and content chunks, got citation=%d chunk=%d", lastCitation, firstChunk)
	}
	if lastCitation > firstChunk {
		t.Fatalf("citation at %d after first content chunk at %d", lastCitation, firstChunk)
	}
}

func TestRunTurnIterationCeiling(t *testing.T) {
	// Every search fails, so the gate can never be satisfied and the
	// ceiling must stop the loop.
	llm := &scriptedLLM{responses: []string{
		planJSON("q1"), planJSON("q2"), planJSON("q3"),
		"No reliable evidence was found.",
	}}
	search := &fakeSearch{err: fmt.Errorf("upstream down")}
	engine := newTestEngine(t, llm, search)

	events, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{
		SessionID: "s", TurnID: "t", Message: "anything at all",
	}, sink, nil)

	if out.Error != "" {
		t.Fatalf("tool failures must not fail the turn: %s", out.Error)
	}
	if out.Iterations != 3 {
		t.Fatalf("iterations = %d, want 3", out.Iterations)
	}
	if search.calls != 3 {
		t.Fatalf("search calls = %d, want 3", search.calls)
	}
	if len(out.Warnings) == 0 {
		t.Fatalf("expected warnings for failed tool calls")
	}
	last := (*events)[len(*events)-1]
	if last.Type != EventTurnComplete {
		t.Fatalf("last event = %s, want %s", last.Type, EventTurnComplete)
	}
}

func TestRunTurnZeroPlanProceeds(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"invocations": []}`,
		"Hello! What would you like to research?",
	}}
	engine := newTestEngine(t, llm)

	_, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{
		SessionID: "s", TurnID: "t", Message: "hi there",
	}, sink, nil)

	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", out.Iterations)
	}
	if len(out.Citations) != 0 {
		t.Fatalf("no tool ran, but got %d citations", len(out.Citations))
	}
	if out.Confidence != 0.5 {
		t.Fatalf("confidence = %f, want 0.5 for a no-tool turn", out.Confidence)
	}
}

func TestRunTurnCancellation(t *testing.T) {
	llm := &scriptedLLM{responses: []string{planJSON("q")}}
	engine := newTestEngine(t, llm, &fakeSearch{})

	var cancel CancelFlag
	cancel.Cancel()

	events, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{
		SessionID: "s", TurnID: "t", Message: "long question",
	}, sink, &cancel)

	if out.Error == "" {
		t.Fatalf("cancelled turn must report an error")
	}
	evs := *events
	last := evs[len(evs)-1]
	if last.Type != EventTurnError {
		t.Fatalf("last event = %s, want %s", last.Type, EventTurnError)
	}
	if reason, _ := last.Data["reason"].(string); reason != "cancelled" {
		t.Fatalf("terminal reason = %q, want cancelled", reason)
	}
}

func TestRunTurnEmptyMessage(t *testing.T) {
	engine := newTestEngine(t, &scriptedLLM{})
	events, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{SessionID: "s", TurnID: "t"}, sink, nil)
	if out.Error != "" {
		t.Fatalf("empty message must complete as a no-op, got error %q", out.Error)
	}
	if out.Iterations != 0 {
		t.Fatalf("iterations = %d, want 0 for a no-op turn", out.Iterations)
	}
	evs := *events
	last := evs[len(evs)-1]
	if last.Type != EventTurnComplete {
		t.Fatalf("terminal = %s, want %s", last.Type, EventTurnComplete)
	}
	if answer, _ := last.Data["answer"].(string); answer != "" {
		t.Fatalf("no-op turn answer = %q, want empty", answer)
	}
}

// cancellingSearch flips the turn's cancel flag during its first call.
type cancellingSearch struct {
	mu    sync.Mutex
	flag  *CancelFlag
	calls int
}

func (c *cancellingSearch) Name() string { return "web_search" }

func (c *cancellingSearch) Invoke(_ context.Context, _ tools.Params) (tools.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.flag.Cancel()
	return tools.Result{Tool: "web_search", Summary: "found"}, nil
}

func TestRunTurnCancelBetweenInvocations(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"invocations": [
			{"tool": "web_search", "params": {"query": "a"}},
			{"tool": "web_search", "params": {"query": "b"}},
			{"tool": "web_search", "params": {"query": "c"}}]}`,
	}}
	var cancel CancelFlag
	search := &cancellingSearch{flag: &cancel}
	engine := newTestEngine(t, llm, search)

	events, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{
		SessionID: "s", TurnID: "t", Message: "broad question",
	}, sink, &cancel)

	if search.calls != 1 {
		t.Fatalf("search ran %d times after cancel during the first call, want 1", search.calls)
	}
	if out.Error == "" {
		t.Fatalf("cancelled turn must report an error")
	}
	evs := *events
	last := evs[len(evs)-1]
	if last.Type != EventTurnError {
		t.Fatalf("last event = %s, want %s", last.Type, EventTurnError)
	}
	if reason, _ := last.Data["reason"].(string); reason != "cancelled" {
		t.Fatalf("terminal reason = %q, want cancelled", reason)
	}
}

// chunkCancelLLM answers planning normally, then flips the cancel flag
// after streaming the first answer chunk.
type chunkCancelLLM struct {
	mu    sync.Mutex
	flag  *CancelFlag
	calls int
}

func (s *chunkCancelLLM) Name() string { return "llm_complete" }

func (s *chunkCancelLLM) Invoke(_ context.Context, params tools.Params) (tools.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 1 {
		return tools.Result{Tool: "llm_complete", Summary: `{"invocations": []}`}, nil
	}
	if onChunk, ok := params["on_chunk"].(func(string)); ok {
		onChunk("first ")
		s.flag.Cancel()
		onChunk("second ")
		onChunk("third")
	}
	return tools.Result{Tool: "llm_complete", Summary: "first second third"}, nil
}

func TestRunTurnCancelAtChunkBoundary(t *testing.T) {
	var cancel CancelFlag
	engine := newTestEngine(t, &chunkCancelLLM{flag: &cancel})

	events, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{
		SessionID: "s", TurnID: "t", Message: "tell me everything",
	}, sink, &cancel)

	if out.Error == "" {
		t.Fatalf("cancelled turn must report an error")
	}
	if out.Answer != "" {
		t.Fatalf("answer = %q, must not keep a cancelled stream", out.Answer)
	}
	chunks := 0
	var last Event
	for _, e := range *events {
		if e.Type == EventContentChunk {
			chunks++
		}
		last = e
	}
	if chunks != 1 {
		t.Fatalf("client saw %d chunks after cancel at the first chunk, want 1", chunks)
	}
	if last.Type != EventTurnError {
		t.Fatalf("last event = %s, want %s", last.Type, EventTurnError)
	}
	if reason, _ := last.Data["reason"].(string); reason != "cancelled" {
		t.Fatalf("terminal reason = %q, want cancelled", reason)
	}
}

func TestCitationProvenance(t *testing.T) {
	calls := []ToolCall{
		{
			Tool: "web_search",
			Result: &tools.Result{Summary: "ok", Sources: []tools.Source{
				{Title: "A", URL: "https://a.example"},
				{Title: "B", URL: "https://b.example"},
				{Title: "A again", URL: "https://a.example"},
			}},
		},
		{
			Tool:  "web_fetch",
			Error: "timeout",
			Result: &tools.Result{Summary: "partial", Sources: []tools.Source{
				{Title: "C", URL: "https://c.example"},
			}},
		},
	}

	cites := collectCitations(calls)
	if len(cites) != 2 {
		t.Fatalf("citations = %d, want 2 (dedup and failed call excluded)", len(cites))
	}
	for _, c := range cites {
		if c.URL == "https://c.example" {
			t.Fatalf("citation from a failed call must not appear")
		}
		if c.Tool != "web_search" {
			t.Fatalf("citation tool = %q, want web_search", c.Tool)
		}
	}
	if cites[0].ID != "s1" || cites[1].ID != "s2" {
		t.Fatalf("citation ids = %s, %s", cites[0].ID, cites[1].ID)
	}
}

func TestRunTurnProducesArtifact(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"invocations": [{"tool": "fake_stats", "params": {}}]}`,
		"Counts per region are charted below.",
	}}
	stats := adapterFunc{
		name: "fake_stats",
		fn: func(context.Context, tools.Params) (tools.Result, error) {
			return tools.Result{
				Summary: "region counts",
				Data: map[string]interface{}{
					"labels": []string{"north", "south"},
					"values": []float64{4, 9},
				},
				Sources: []tools.Source{{Title: "Stats", URL: "https://stats.example", Content: "counts per region north south"}},
			}, nil
		},
	}
	engine := newTestEngine(t, llm, stats)

	events, sink := collectEvents()
	out := engine.RunTurn(context.Background(), Input{
		SessionID: "s", TurnID: "t", Message: "counts per region",
	}, sink, nil)

	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if len(out.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(out.Artifacts))
	}
	art := out.Artifacts[0]
	if art.Status != artifact.StatusReady {
		t.Fatalf("artifact status = %s, want ready (%s)", art.Status, art.Error)
	}

	sawArtifactEvent := false
	for _, e := range *events {
		if e.Type == EventArtifact {
			sawArtifactEvent = true
			if e.Terminal() {
				t.Fatalf("artifact event must not be terminal")
			}
		}
	}
	if !sawArtifactEvent {
		t.Fatalf("expected an artifact event before the terminal event")
	}
}

type adapterFunc struct {
	name string
	fn   func(context.Context, tools.Params) (tools.Result, error)
}

func (a adapterFunc) Name() string { return a.name }
func (a adapterFunc) Invoke(ctx context.Context, p tools.Params) (tools.Result, error) {
	return a.fn(ctx, p)
}
