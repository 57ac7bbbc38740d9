package core

import (
	"sync"
	"time"
)

// emitter serializes a turn's events onto the sink with a monotonically
// increasing sequence number and enforces the single-terminal rule: the
// first terminal event wins, anything after it is dropped.
type emitter struct {
	sink      EventSink
	sessionID string
	turnID    string

	mu       sync.Mutex
	seq      int
	finished bool
}

func newEmitter(sink EventSink, sessionID, turnID string) *emitter {
	return &emitter{sink: sink, sessionID: sessionID, turnID: turnID}
}

func (em *emitter) emit(eventType string, data map[string]interface{}) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.finished {
		return
	}
	e := Event{
		Type:      eventType,
		SessionID: em.sessionID,
		TurnID:    em.turnID,
		Seq:       em.seq,
		Data:      data,
		At:        time.Now(),
	}
	if e.Terminal() {
		em.finished = true
	}
	em.seq++
	em.sink.Emit(e)
}

func (em *emitter) status(stage, detail string) {
	em.emit(EventStatus, map[string]interface{}{"stage": stage, "detail": detail})
}

func (em *emitter) chunk(text string) {
	em.emit(EventContentChunk, map[string]interface{}{"text": text})
}
