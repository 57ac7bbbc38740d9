package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parallax_stream_connections",
		Help: "Live WebSocket connections.",
	})
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parallax_stream_sessions",
		Help: "Sessions with at least one live connection.",
	})
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_stream_turns_total",
		Help: "Turns started over the stream, by outcome.",
	}, []string{"outcome"})
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_stream_events_total",
		Help: "Turn events delivered to clients, by type.",
	}, []string{"type"})
	sessionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parallax_stream_session_conflicts_total",
		Help: "Turn submissions rejected because the session was busy.",
	})
	janitorEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parallax_stream_janitor_evictions_total",
		Help: "Idle sessions evicted by the janitor.",
	})
)
