// Package core implements the turn orchestrator: an explicit stage
// machine that plans tool invocations, executes them, gates on evidence
// sufficiency with a bounded iteration loop, synthesizes a cited answer
// and decides whether to emit an artifact.
package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/parallaxsearch/parallax/internal/artifact"
	"github.com/parallaxsearch/parallax/internal/tools"
)

// Stage identifies a node of the turn graph.
type Stage int

const (
	StageInit Stage = iota
	StagePlan
	StageExecute
	StageGate
	StageSynthesize
	StageArtifactDecide
	StageArtifactCreate
	StageTerminal
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StagePlan:
		return "plan"
	case StageExecute:
		return "execute"
	case StageGate:
		return "gate"
	case StageSynthesize:
		return "synthesize"
	case StageArtifactDecide:
		return "artifact_decide"
	case StageArtifactCreate:
		return "artifact_create"
	case StageTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Decision selects the outgoing edge of a branching stage.
type Decision int

const (
	DecisionNext     Decision = iota // sole forward edge
	DecisionContinue                 // gate: another iteration
	DecisionProceed                  // gate: evidence suffices
	DecisionCreate                   // artifact decide: render one
	DecisionSkip                     // artifact decide: none needed
)

// nextStage is the complete transition function of the turn graph. Every
// stage has a defined successor for each decision it can produce, and
// every path reaches StageTerminal.
func nextStage(s Stage, d Decision) Stage {
	switch s {
	case StageInit:
		return StagePlan
	case StagePlan:
		return StageExecute
	case StageExecute:
		return StageGate
	case StageGate:
		if d == DecisionContinue {
			return StagePlan
		}
		return StageSynthesize
	case StageSynthesize:
		return StageArtifactDecide
	case StageArtifactDecide:
		if d == DecisionCreate {
			return StageArtifactCreate
		}
		return StageTerminal
	case StageArtifactCreate:
		return StageTerminal
	default:
		return StageTerminal
	}
}

// Message is one prior exchange of the conversation.
type Message struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Input is a single user turn handed to the engine.
type Input struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Message   string    `json:"message"`
	History   []Message `json:"history,omitempty"`
}

// Invocation is one planned tool call.
type Invocation struct {
	ID     string       `json:"id"`
	Tool   string       `json:"tool"`
	Params tools.Params `json:"params"`
	Reason string       `json:"reason,omitempty"`
}

// ToolCall is the recorded outcome of an invocation, kept in the
// execution log for provenance.
type ToolCall struct {
	ID       string        `json:"id"`
	Tool     string        `json:"tool"`
	Params   tools.Params  `json:"params"`
	Result   *tools.Result `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Failure  string        `json:"failure,omitempty"` // tools failure kind
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Succeeded reports whether the call produced a usable result.
func (c ToolCall) Succeeded() bool {
	return c.Error == "" && c.Result != nil && c.Result.Usable()
}

// Citation attributes a piece of the answer to a retrieved source.
type Citation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Tool        string    `json:"tool"`
}

// LogEntry is one line of the turn's execution log.
type LogEntry struct {
	Stage     string    `json:"stage"`
	Iteration int       `json:"iteration"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// State is the single mutable record threaded through a turn. Stages
// read and append to it; nothing else mutates it.
type State struct {
	Input     Input
	Stage     Stage
	Iteration int

	Plan      []Invocation
	Calls     []ToolCall // all calls across iterations
	Log       []LogEntry
	Citations []Citation

	Answer     string
	Confidence float64
	Warnings   []string
	Artifacts  []artifact.Artifact

	StartedAt   time.Time
	CompletedAt time.Time
	Err         error

	gateReason       string
	pendingArtifacts []artifact.Data
	cancel           *CancelFlag
}

// cancelled reports whether a stop was requested for this turn.
func (st *State) cancelled() bool {
	return st.cancel != nil && st.cancel.Cancelled()
}

func (st *State) logf(action, format string, args ...interface{}) {
	st.Log = append(st.Log, LogEntry{
		Stage:     st.Stage.String(),
		Iteration: st.Iteration,
		Action:    action,
		Detail:    fmt.Sprintf(format, args...),
		At:        time.Now(),
	})
}

// Outcome is the finished turn returned to callers and persisted by the
// turn store.
type Outcome struct {
	TurnID      string              `json:"turn_id"`
	SessionID   string              `json:"session_id"`
	Question    string              `json:"question"`
	Answer      string              `json:"answer"`
	Confidence  float64             `json:"confidence"`
	Citations   []Citation          `json:"citations,omitempty"`
	Artifacts   []artifact.Artifact `json:"artifacts,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
	Iterations  int                 `json:"iterations"`
	Log         []LogEntry          `json:"log,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Error       string              `json:"error,omitempty"`
}

// Event types streamed to the client, in the order the protocol
// guarantees them within a turn.
const (
	EventTurnStarted  = "turn-started"
	EventStatus       = "status"
	EventCitation     = "citation"
	EventContentChunk = "content-chunk"
	EventArtifact     = "artifact"
	EventTurnComplete = "turn-complete"
	EventTurnError    = "turn-error"
)

// Event is one streamed protocol message.
type Event struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	TurnID    string                 `json:"turn_id"`
	Seq       int                    `json:"seq"`
	Data      map[string]interface{} `json:"data,omitempty"`
	At        time.Time              `json:"at"`
}

// Terminal reports whether the event closes its turn.
func (e Event) Terminal() bool {
	return e.Type == EventTurnComplete || e.Type == EventTurnError
}

// EventSink receives turn events in emission order.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// CancelFlag requests a graceful stop of an in-flight turn. The engine
// checks it at every stage boundary, between tool invocations inside
// the execute stage, and at chunk boundaries while streaming the
// answer.
type CancelFlag struct {
	set atomic.Bool
}

func (c *CancelFlag) Cancel()         { c.set.Store(true) }
func (c *CancelFlag) Cancelled() bool { return c.set.Load() }
