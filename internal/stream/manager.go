package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"

	"github.com/parallaxsearch/parallax/config"
	core "github.com/parallaxsearch/parallax/internal/agent/core"
	"github.com/parallaxsearch/parallax/internal/store"
)

// ErrSessionBusy is returned when a session already has a turn in
// flight. A session processes one turn at a time.
var ErrSessionBusy = errors.New("session already has an active turn")

// ErrNoActiveTurn is returned by Cancel when nothing matches.
var ErrNoActiveTurn = errors.New("no matching active turn")

// TurnRunner is the orchestration surface the manager drives.
type TurnRunner interface {
	RunTurn(ctx context.Context, in core.Input, sink core.EventSink, cancel *core.CancelFlag) core.Outcome
}

// Pruner removes idle session rows from durable storage.
type Pruner interface {
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Manager enforces per-session turn exclusivity, routes turn events to
// the session's connections, and reaps idle sessions on a cron
// schedule.
type Manager struct {
	cfg         config.StreamConfig
	runner      TurnRunner
	turns       store.TurnStore
	locker      store.SessionLocker
	pruner      Pruner // optional
	publish     func(sessionID string, event core.Event)
	logger      *log.Logger
	lockTTL     time.Duration
	watchdogTTL time.Duration

	mu       sync.Mutex
	active   map[string]*activeTurn
	lastSeen map[string]time.Time
	closed   map[string]bool // turn ids the watchdog already terminated
}

type activeTurn struct {
	turnID    string
	cancel    *core.CancelFlag
	startedAt time.Time
	done      chan struct{}
}

func NewManager(
	cfg config.StreamConfig,
	runner TurnRunner,
	turns store.TurnStore,
	locker store.SessionLocker,
	publish func(sessionID string, event core.Event),
	logger *log.Logger,
) *Manager {
	if locker == nil {
		locker = store.NoopLocker{}
	}
	return &Manager{
		cfg:         cfg.Normalize(),
		runner:      runner,
		turns:       turns,
		locker:      locker,
		publish:     publish,
		logger:      logger,
		lockTTL:     5 * time.Minute,
		watchdogTTL: 6 * time.Minute,
		active:      make(map[string]*activeTurn),
		lastSeen:    make(map[string]time.Time),
		closed:      make(map[string]bool),
	}
}

// SetPruner attaches durable session cleanup to the janitor.
func (m *Manager) SetPruner(p Pruner) { m.pruner = p }

// StartTurn accepts a message for the session and runs it in the
// background. It returns the turn id immediately; all progress flows
// through the event stream.
func (m *Manager) StartTurn(ctx context.Context, sessionID, message string) (string, error) {
	turnID := uuid.New().String()
	at := &activeTurn{
		turnID:    turnID,
		cancel:    &core.CancelFlag{},
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	// Reserve the session slot first; the distributed lock is a
	// network round-trip and must not run under the mutex.
	m.mu.Lock()
	m.lastSeen[sessionID] = time.Now()
	if _, busy := m.active[sessionID]; busy {
		m.mu.Unlock()
		sessionConflicts.Inc()
		return "", ErrSessionBusy
	}
	m.active[sessionID] = at
	m.mu.Unlock()

	ok, err := m.locker.Acquire(ctx, sessionID, turnID, m.lockTTL)
	if err != nil || !ok {
		m.mu.Lock()
		if m.active[sessionID] == at {
			delete(m.active, sessionID)
		}
		m.mu.Unlock()
		if err != nil {
			return "", err
		}
		sessionConflicts.Inc()
		return "", ErrSessionBusy
	}

	history := m.history(ctx, sessionID)
	go m.run(sessionID, turnID, message, history, at)
	go m.watchdog(sessionID, turnID, at)
	return turnID, nil
}

func (m *Manager) run(sessionID, turnID, message string, history []core.Message, at *activeTurn) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.locker.Release(ctx, sessionID, turnID); err != nil {
			m.logger.Printf("releasing session lock %s: %v", sessionID, err)
		}
		m.mu.Lock()
		if m.active[sessionID] == at {
			delete(m.active, sessionID)
		}
		m.lastSeen[sessionID] = time.Now()
		delete(m.closed, turnID)
		m.mu.Unlock()
		close(at.done)
	}()

	sink := core.EventSinkFunc(func(e core.Event) {
		// A turn the watchdog already terminated must stay silent;
		// its synthetic error was the turn's one terminal event.
		m.mu.Lock()
		dead := m.closed[turnID]
		m.mu.Unlock()
		if dead {
			return
		}
		eventsTotal.WithLabelValues(e.Type).Inc()
		m.publish(sessionID, e)
	})

	out := m.runner.RunTurn(context.Background(), core.Input{
		SessionID: sessionID,
		TurnID:    turnID,
		Message:   message,
		History:   history,
	}, sink, at.cancel)

	m.mu.Lock()
	dead := m.closed[turnID]
	m.mu.Unlock()
	switch {
	case dead:
		// Already counted as a watchdog outcome.
	case out.Error != "":
		turnsTotal.WithLabelValues("error").Inc()
	default:
		turnsTotal.WithLabelValues("complete").Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.turns.SaveTurn(ctx, out); err != nil {
		m.logger.Printf("persisting turn %s: %v", turnID, err)
	}
	if err := m.turns.TouchSession(ctx, sessionID, ""); err != nil {
		m.logger.Printf("touching session %s: %v", sessionID, err)
	}
}

// watchdog emits a terminal event if the runner never produces one.
// The engine already guarantees a terminal event on every path; this is
// the last line of defense so a stuck turn cannot block its session
// forever.
func (m *Manager) watchdog(sessionID, turnID string, at *activeTurn) {
	timer := time.NewTimer(m.watchdogTTL)
	defer timer.Stop()
	select {
	case <-at.done:
	case <-timer.C:
		m.logger.Printf("watchdog: turn %s never finished, forcing terminal event", turnID)
		turnsTotal.WithLabelValues("watchdog").Inc()
		m.mu.Lock()
		m.closed[turnID] = true
		m.mu.Unlock()
		m.publish(sessionID, core.Event{
			Type:      core.EventTurnError,
			SessionID: sessionID,
			TurnID:    turnID,
			Data:      map[string]interface{}{"error": "turn watchdog expired", "reason": "watchdog"},
			At:        time.Now(),
		})
		m.mu.Lock()
		if m.active[sessionID] == at {
			delete(m.active, sessionID)
		}
		m.mu.Unlock()
	}
}

// Cancel requests a graceful stop. Empty turnID targets whatever turn
// the session is running.
func (m *Manager) Cancel(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.active[sessionID]
	if !ok {
		return ErrNoActiveTurn
	}
	if turnID != "" && at.turnID != turnID {
		return ErrNoActiveTurn
	}
	at.cancel.Cancel()
	return nil
}

// ActiveTurn returns the running turn id for a session, if any.
func (m *Manager) ActiveTurn(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.active[sessionID]
	if !ok {
		return "", false
	}
	return at.turnID, true
}

// Touch records session activity for idle tracking.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	m.lastSeen[sessionID] = time.Now()
	m.mu.Unlock()
}

// RunJanitor evicts idle sessions on the configured cron schedule until
// the context ends.
func (m *Manager) RunJanitor(ctx context.Context) error {
	expr, err := cronexpr.Parse(m.cfg.JanitorCron)
	if err != nil {
		return err
	}
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			return errors.New("janitor cron yields no next run")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.SessionIdleTTL)

	m.mu.Lock()
	for sessionID, seen := range m.lastSeen {
		if _, busy := m.active[sessionID]; busy {
			continue
		}
		if seen.Before(cutoff) {
			delete(m.lastSeen, sessionID)
			janitorEvictions.Inc()
		}
	}
	m.mu.Unlock()

	if m.pruner != nil {
		if removed, err := m.pruner.DeleteIdleSessions(ctx, cutoff); err != nil {
			m.logger.Printf("janitor: pruning sessions: %v", err)
		} else if removed > 0 {
			m.logger.Printf("janitor: pruned %d idle sessions", removed)
		}
	}
}

// history converts the session's recent turns to chronological
// messages for planning context.
func (m *Manager) history(ctx context.Context, sessionID string) []core.Message {
	recent, err := m.turns.RecentTurns(ctx, sessionID, 5)
	if err != nil {
		m.logger.Printf("loading history for %s: %v", sessionID, err)
		return nil
	}
	var history []core.Message
	for i := len(recent) - 1; i >= 0; i-- {
		t := recent[i]
		history = append(history, core.Message{Role: "user", Content: t.Question, Timestamp: t.StartedAt})
		if t.Answer != "" {
			history = append(history, core.Message{Role: "assistant", Content: t.Answer, Timestamp: t.CompletedAt})
		}
	}
	return history
}
