package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_tool_invocations_total",
		Help: "Tool adapter invocations by capability and outcome.",
	}, []string{"tool", "outcome"})

	invocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parallax_tool_invocation_seconds",
		Help:    "Tool adapter invocation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_tool_rate_limited_total",
		Help: "Invocations rejected by the per-adapter rate limiter.",
	}, []string{"tool"})
)
