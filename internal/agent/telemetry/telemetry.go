// Package telemetry aggregates per-turn, per-tool and per-model usage
// metrics and tracks LLM spend across the orchestrator.
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/parallaxsearch/parallax/config"
)

// Telemetry collects runtime metrics and cost accounting.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds aggregate counters for turns, tools and models.
type Metrics struct {
	TotalTurns      int64
	SuccessfulTurns int64
	FailedTurns     int64
	AverageTurnTime time.Duration

	ToolInvocations  map[string]int64
	ToolSuccessRates map[string]float64
	ToolAverageTimes map[string]time.Duration

	ModelRequests       map[string]int64
	ModelTokensUsed     map[string]int64
	ModelAverageLatency map[string]time.Duration

	IterationHistogram map[int]int64 // iterations used -> turn count
}

// CostTracker accumulates LLM spend per model and operation.
type CostTracker struct {
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
	TotalCost      float64
	TotalTokens    int64
}

// TurnEvent is recorded once per completed turn.
type TurnEvent struct {
	TurnID     string
	SessionID  string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Success    bool
	Error      string
	Iterations int
	ToolsUsed  []string
	ModelsUsed []string
	TokensUsed int64
	Cost       float64
}

// ToolEvent is recorded for each adapter invocation.
type ToolEvent struct {
	Tool      string
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Results   int
}

// ModelEvent is recorded for each LLM call.
type ModelEvent struct {
	Model      string
	Operation  string // plan, synthesize, subagent
	Duration   time.Duration
	TokensUsed int64
	Cost       float64
}

// NewTelemetry creates a telemetry instance.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			ToolInvocations:     make(map[string]int64),
			ToolSuccessRates:    make(map[string]float64),
			ToolAverageTimes:    make(map[string]time.Duration),
			ModelRequests:       make(map[string]int64),
			ModelTokensUsed:     make(map[string]int64),
			ModelAverageLatency: make(map[string]time.Duration),
			IterationHistogram:  make(map[int]int64),
		},
		costTracker: &CostTracker{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
	}
}

// RecordTurnEvent records a completed turn.
func (t *Telemetry) RecordTurnEvent(ctx context.Context, event TurnEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalTurns++
	if event.Success {
		t.metrics.SuccessfulTurns++
	} else {
		t.metrics.FailedTurns++
	}

	if t.metrics.TotalTurns == 1 {
		t.metrics.AverageTurnTime = event.Duration
	} else {
		total := t.metrics.AverageTurnTime * time.Duration(t.metrics.TotalTurns-1)
		t.metrics.AverageTurnTime = (total + event.Duration) / time.Duration(t.metrics.TotalTurns)
	}

	t.metrics.IterationHistogram[event.Iterations]++
	for _, model := range event.ModelsUsed {
		t.metrics.ModelRequests[model]++
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Turn: ID=%s, Success=%t, Duration=%v, Iterations=%d, Cost=$%.4f, Tokens=%d",
		event.TurnID, event.Success, event.Duration, event.Iterations, event.Cost, event.TokensUsed)
}

// RecordToolEvent records an adapter invocation.
func (t *Telemetry) RecordToolEvent(ctx context.Context, event ToolEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ToolInvocations[event.Tool]++
	count := t.metrics.ToolInvocations[event.Tool]

	success := t.metrics.ToolSuccessRates[event.Tool] * float64(count-1)
	if event.Success {
		success += 1.0
	}
	t.metrics.ToolSuccessRates[event.Tool] = success / float64(count)

	avg := t.metrics.ToolAverageTimes[event.Tool]
	if count == 1 {
		t.metrics.ToolAverageTimes[event.Tool] = event.Duration
	} else {
		total := avg * time.Duration(count-1)
		t.metrics.ToolAverageTimes[event.Tool] = (total + event.Duration) / time.Duration(count)
	}
}

// RecordModelEvent records an LLM call and its cost.
func (t *Telemetry) RecordModelEvent(ctx context.Context, event ModelEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ModelRequests[event.Model]++
	t.metrics.ModelTokensUsed[event.Model] += event.TokensUsed

	count := t.metrics.ModelRequests[event.Model]
	avg := t.metrics.ModelAverageLatency[event.Model]
	if count == 1 {
		t.metrics.ModelAverageLatency[event.Model] = event.Duration
	} else {
		total := avg * time.Duration(count-1)
		t.metrics.ModelAverageLatency[event.Model] = (total + event.Duration) / time.Duration(count)
	}

	t.costTracker.ModelCosts[event.Model] += event.Cost
	t.costTracker.OperationCosts[event.Operation] += event.Cost
	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed
}

// GetMetrics returns a snapshot of the aggregate metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := Metrics{
		TotalTurns:          t.metrics.TotalTurns,
		SuccessfulTurns:     t.metrics.SuccessfulTurns,
		FailedTurns:         t.metrics.FailedTurns,
		AverageTurnTime:     t.metrics.AverageTurnTime,
		ToolInvocations:     make(map[string]int64, len(t.metrics.ToolInvocations)),
		ToolSuccessRates:    make(map[string]float64, len(t.metrics.ToolSuccessRates)),
		ToolAverageTimes:    make(map[string]time.Duration, len(t.metrics.ToolAverageTimes)),
		ModelRequests:       make(map[string]int64, len(t.metrics.ModelRequests)),
		ModelTokensUsed:     make(map[string]int64, len(t.metrics.ModelTokensUsed)),
		ModelAverageLatency: make(map[string]time.Duration, len(t.metrics.ModelAverageLatency)),
		IterationHistogram:  make(map[int]int64, len(t.metrics.IterationHistogram)),
	}
	for k, v := range t.metrics.ToolInvocations {
		snapshot.ToolInvocations[k] = v
	}
	for k, v := range t.metrics.ToolSuccessRates {
		snapshot.ToolSuccessRates[k] = v
	}
	for k, v := range t.metrics.ToolAverageTimes {
		snapshot.ToolAverageTimes[k] = v
	}
	for k, v := range t.metrics.ModelRequests {
		snapshot.ModelRequests[k] = v
	}
	for k, v := range t.metrics.ModelTokensUsed {
		snapshot.ModelTokensUsed[k] = v
	}
	for k, v := range t.metrics.ModelAverageLatency {
		snapshot.ModelAverageLatency[k] = v
	}
	for k, v := range t.metrics.IterationHistogram {
		snapshot.IterationHistogram[k] = v
	}
	return snapshot
}

// GetCostSummary returns total spend and tokens so far.
func (t *Telemetry) GetCostSummary() (float64, int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.costTracker.TotalCost, t.costTracker.TotalTokens
}
