package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/parallaxsearch/parallax/config"
	"github.com/parallaxsearch/parallax/internal/agent/telemetry"
	"github.com/parallaxsearch/parallax/internal/artifact"
	"github.com/parallaxsearch/parallax/internal/evidence"
	"github.com/parallaxsearch/parallax/internal/tools"
)

// Engine drives a turn through the stage graph. It owns no session
// state: everything about a turn lives in its State, so one engine
// serves concurrent sessions.
type Engine struct {
	cfg       config.OrchestratorConfig
	routing   config.RoutingConfig
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	registry  *tools.Registry
	planner   *Planner
	gate      Gate
	artifacts *artifact.Manager
	tracer    trace.Tracer
}

func NewEngine(
	cfg config.OrchestratorConfig,
	routing config.RoutingConfig,
	tele *telemetry.Telemetry,
	registry *tools.Registry,
	artifacts *artifact.Manager,
) *Engine {
	cfg = cfg.Normalize()
	logger := log.New(os.Stdout, "[ORCH] ", log.LstdFlags)
	return &Engine{
		cfg:       cfg,
		routing:   routing,
		logger:    logger,
		telemetry: tele,
		registry:  registry,
		planner:   NewPlanner(registry, routing.Model("planning"), logger),
		gate: Gate{
			Ceiling: cfg.IterationCeiling,
			Policy: CoveragePolicy{
				MinUsable:         cfg.MinUsableResults,
				CoverageThreshold: cfg.CoverageThreshold,
			},
		},
		artifacts: artifacts,
		tracer:    otel.Tracer("parallax/core"),
	}
}

// RunTurn processes one user turn to completion. It always emits
// turn-started first and exactly one terminal event last, regardless of
// errors, panics inside stages, timeouts or cancellation. cancel may be
// nil.
func (e *Engine) RunTurn(ctx context.Context, in Input, sink EventSink, cancel *CancelFlag) Outcome {
	ctx, ctxCancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer ctxCancel()

	em := newEmitter(sink, in.SessionID, in.TurnID)
	em.emit(EventTurnStarted, map[string]interface{}{"message": in.Message})

	st := &State{Input: in, Stage: StageInit, StartedAt: time.Now(), cancel: cancel}

	idx, err := evidence.NewIndex()
	if err != nil {
		st.Err = fmt.Errorf("evidence index: %w", err)
		return e.finish(ctx, st, em)
	}
	defer idx.Close()

	// Empty messages complete as a no-op instead of erroring: the
	// client still gets its terminal event, just with nothing in it.
	if in.Message == "" {
		st.logf("noop", "empty message")
		return e.finish(ctx, st, em)
	}

	for st.Stage != StageTerminal {
		if st.cancelled() {
			st.logf("cancelled", "stop requested before %s", st.Stage)
			st.Err = context.Canceled
			break
		}
		if err := ctx.Err(); err != nil {
			st.logf("timeout", "context ended before %s", st.Stage)
			st.Err = err
			break
		}

		decision, err := e.runStage(ctx, st, em, idx)
		if err != nil {
			st.Err = err
			break
		}
		st.Stage = nextStage(st.Stage, decision)
	}

	return e.finish(ctx, st, em)
}

// runStage executes the current stage inside a span, converting panics
// to errors so a misbehaving stage cannot take the session down.
func (e *Engine) runStage(ctx context.Context, st *State, em *emitter, idx *evidence.Index) (decision Decision, err error) {
	ctx, span := e.tracer.Start(ctx, "turn."+st.Stage.String())
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", st.Stage, r)
			e.logger.Printf("turn %s: %v", st.Input.TurnID, err)
		}
	}()

	switch st.Stage {
	case StageInit:
		st.logf("start", "turn accepted")
		return DecisionNext, nil
	case StagePlan:
		return e.stagePlan(ctx, st, em)
	case StageExecute:
		return e.stageExecute(ctx, st, em, idx)
	case StageGate:
		return e.stageGate(st, em, idx)
	case StageSynthesize:
		return e.stageSynthesize(ctx, st, em)
	case StageArtifactDecide:
		return e.stageArtifactDecide(st)
	case StageArtifactCreate:
		return e.stageArtifactCreate(ctx, st, em)
	default:
		return DecisionNext, fmt.Errorf("no handler for stage %s", st.Stage)
	}
}

func (e *Engine) stagePlan(ctx context.Context, st *State, em *emitter) (Decision, error) {
	st.Iteration++
	em.status("plan", fmt.Sprintf("planning iteration %d", st.Iteration))

	plan, err := e.planner.Plan(ctx, st.Input, st.Iteration, st.gateReason)
	if err != nil {
		return DecisionNext, fmt.Errorf("planning: %w", err)
	}
	st.Plan = plan
	st.logf("plan", "%d invocations planned", len(plan))
	return DecisionNext, nil
}

func (e *Engine) stageExecute(ctx context.Context, st *State, em *emitter, idx *evidence.Index) (Decision, error) {
	for i, inv := range st.Plan {
		// Cancellation lands between invocations, never mid-call:
		// results already in hand stay, remaining calls are skipped.
		if st.cancelled() {
			st.logf("cancelled", "stop requested, skipping %d of %d invocations", len(st.Plan)-i, len(st.Plan))
			return DecisionNext, context.Canceled
		}
		if err := ctx.Err(); err != nil {
			st.logf("timeout", "context ended, skipping %d of %d invocations", len(st.Plan)-i, len(st.Plan))
			return DecisionNext, err
		}
		em.status("execute", fmt.Sprintf("running %s", inv.Tool))

		start := time.Now()
		res, err := e.registry.Invoke(ctx, inv.Tool, inv.Params)
		call := ToolCall{
			ID:       inv.ID,
			Tool:     inv.Tool,
			Params:   inv.Params,
			Duration: time.Since(start),
			At:       start,
		}
		if err != nil {
			call.Error = err.Error()
			if f, ok := tools.AsFailure(err); ok {
				call.Failure = string(f.Kind)
			}
			st.Warnings = append(st.Warnings, fmt.Sprintf("%s failed: %v", inv.Tool, err))
			st.logf("tool_error", "%s: %v", inv.Tool, err)
		} else {
			call.Result = &res
			for _, src := range res.Sources {
				if _, err := idx.Add(src); err != nil {
					e.logger.Printf("indexing %s: %v", src.URL, err)
				}
			}
			st.logf("tool_ok", "%s returned %d sources", inv.Tool, len(res.Sources))
		}
		st.Calls = append(st.Calls, call)

		e.telemetry.RecordToolEvent(ctx, telemetry.ToolEvent{
			Tool:      inv.Tool,
			StartTime: start,
			Duration:  call.Duration,
			Success:   call.Succeeded(),
			Error:     call.Error,
			Results:   len(call.sources()),
		})
	}
	return DecisionNext, nil
}

func (e *Engine) stageGate(st *State, em *emitter, idx *evidence.Index) (Decision, error) {
	summary := EvidenceSummary{
		Planned:  len(st.Plan),
		Executed: len(st.Plan),
		Usable:   countUsable(st.Calls),
		Sources:  idx.Len(),
		Coverage: idx.Coverage(st.Input.Message),
	}
	decision, reason := e.gate.Decide(summary, st.Iteration)
	st.logf("gate", "%s: %s", decisionWord(decision), reason)
	em.status("gate", reason)

	if decision == DecisionContinue {
		st.gateReason = reason
	}
	return decision, nil
}

func (e *Engine) stageSynthesize(ctx context.Context, st *State, em *emitter) (Decision, error) {
	st.Citations = collectCitations(st.Calls)
	for _, c := range st.Citations {
		em.emit(EventCitation, map[string]interface{}{
			"id":        c.ID,
			"title":     c.Title,
			"url":       c.URL,
			"snippet":   c.Snippet,
			"tool":      c.Tool,
			"formatted": c.Format(),
		})
	}

	answer, err := e.synthesize(ctx, st, em)
	if err != nil {
		return DecisionNext, fmt.Errorf("synthesis: %w", err)
	}
	st.Answer = answer
	st.Confidence = e.confidence(st)
	st.pendingArtifacts = extractArtifacts(st.Calls, st.Input.Message)
	st.logf("synthesize", "answer of %d chars, confidence %.2f", len(answer), st.Confidence)
	return DecisionNext, nil
}

// synthesize streams the answer through the model, forwarding chunks to
// the client as they arrive.
func (e *Engine) synthesize(ctx context.Context, st *State, em *emitter) (string, error) {
	digest := evidenceDigest(st.Calls, 12)
	prompt := synthesisPrompt(st.Input, digest, st.Citations)

	res, err := e.registry.Invoke(ctx, "llm_complete", tools.Params{
		"prompt": prompt,
		"model":  e.routing.Model("synthesis"),
		"system": "You are a careful research assistant. Cite sources as [s1], [s2] where they support a claim.",
		"on_chunk": func(chunk string) {
			// Chunk boundary is a cancellation point: nothing
			// streams to the client after a stop request.
			if st.cancelled() {
				return
			}
			em.chunk(chunk)
		},
	})
	if err != nil {
		return "", err
	}
	if st.cancelled() {
		return "", context.Canceled
	}
	if res.Summary == "" {
		return "", fmt.Errorf("model returned empty answer")
	}
	return res.Summary, nil
}

// confidence blends call success rate into a 0..1 score. A turn with no
// planned tools answered from conversation alone scores a fixed middle
// value.
func (e *Engine) confidence(st *State) float64 {
	if len(st.Calls) == 0 {
		return 0.5
	}
	return float64(countUsable(st.Calls)) / float64(len(st.Calls))
}

func (e *Engine) stageArtifactDecide(st *State) (Decision, error) {
	if len(st.pendingArtifacts) == 0 {
		st.logf("artifact_decide", "no renderable data")
		return DecisionSkip, nil
	}
	st.logf("artifact_decide", "%d renderable datasets", len(st.pendingArtifacts))
	return DecisionCreate, nil
}

func (e *Engine) stageArtifactCreate(ctx context.Context, st *State, em *emitter) (Decision, error) {
	for _, data := range st.pendingArtifacts {
		art := e.artifacts.Create(ctx, data)
		st.Artifacts = append(st.Artifacts, art)
		if art.Status == artifact.StatusFailed {
			st.Warnings = append(st.Warnings, fmt.Sprintf("artifact %s failed: %s", art.ID, art.Error))
		}
		em.emit(EventArtifact, map[string]interface{}{
			"id":        art.ID,
			"type":      string(art.Type),
			"title":     art.Title,
			"status":    string(art.Status),
			"locations": art.Locations,
		})
	}
	return DecisionNext, nil
}

// finish closes out the turn: exactly one terminal event, telemetry,
// and the persisted outcome.
func (e *Engine) finish(ctx context.Context, st *State, em *emitter) Outcome {
	st.CompletedAt = time.Now()

	out := Outcome{
		TurnID:      st.Input.TurnID,
		SessionID:   st.Input.SessionID,
		Question:    st.Input.Message,
		Answer:      st.Answer,
		Confidence:  st.Confidence,
		Citations:   st.Citations,
		Artifacts:   st.Artifacts,
		Warnings:    st.Warnings,
		Iterations:  st.Iteration,
		Log:         st.Log,
		StartedAt:   st.StartedAt,
		CompletedAt: st.CompletedAt,
	}

	if st.Err != nil {
		out.Error = st.Err.Error()
		em.emit(EventTurnError, map[string]interface{}{
			"error":  st.Err.Error(),
			"reason": errorReason(st.Err),
		})
	} else {
		em.emit(EventTurnComplete, map[string]interface{}{
			"answer":     st.Answer,
			"confidence": st.Confidence,
			"citations":  len(st.Citations),
			"artifacts":  len(st.Artifacts),
			"iterations": st.Iteration,
			"warnings":   st.Warnings,
		})
	}

	e.telemetry.RecordTurnEvent(ctx, telemetry.TurnEvent{
		TurnID:     st.Input.TurnID,
		SessionID:  st.Input.SessionID,
		StartTime:  st.StartedAt,
		EndTime:    st.CompletedAt,
		Duration:   st.CompletedAt.Sub(st.StartedAt),
		Success:    st.Err == nil,
		Error:      out.Error,
		Iterations: st.Iteration,
		ToolsUsed:  toolNames(st.Calls),
	})
	e.logger.Printf("turn %s finished in %v (iterations=%d, err=%v)",
		st.Input.TurnID, st.CompletedAt.Sub(st.StartedAt), st.Iteration, st.Err)
	return out
}

func synthesisPrompt(in Input, digest string, citations []Citation) string {
	refs := ""
	for _, c := range citations {
		refs += c.Format() + "\n"
	}
	return fmt.Sprintf(`Answer the user's question using only the evidence below.

QUESTION:
%s

EVIDENCE:
%s
REFERENCES:
%s
Write a direct, well-organized answer. Mark claims with the matching [sN] reference. Say plainly when the evidence does not settle a point.`,
		in.Message, digest, refs)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

func decisionWord(d Decision) string {
	switch d {
	case DecisionContinue:
		return "continue"
	case DecisionProceed:
		return "proceed"
	case DecisionCreate:
		return "create"
	case DecisionSkip:
		return "skip"
	default:
		return "next"
	}
}

func toolNames(calls []ToolCall) []string {
	seen := make(map[string]bool)
	var names []string
	for _, c := range calls {
		if !seen[c.Tool] {
			seen[c.Tool] = true
			names = append(names, c.Tool)
		}
	}
	return names
}

// sources is a nil-safe accessor for telemetry counting.
func (c ToolCall) sources() []tools.Source {
	if c.Result == nil {
		return nil
	}
	return c.Result.Sources
}
