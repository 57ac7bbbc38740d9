package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry holds the registered adapters and enforces the invocation
// contract: per-call timeout, per-adapter rate limiting and failure
// normalization. Orchestration logic never talks to an adapter directly.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	limiters map[string]*bucket
	timeout  time.Duration
	perMin   int
}

// NewRegistry creates a registry. timeout bounds every invocation;
// ratePerMinute caps calls per adapter (0 disables limiting).
func NewRegistry(timeout time.Duration, ratePerMinute int) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		limiters: make(map[string]*bucket),
		timeout:  timeout,
		perMin:   ratePerMinute,
	}
}

// Register adds an adapter under its own name. Re-registering replaces.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	if r.perMin > 0 {
		r.limiters[a.Name()] = newBucket(r.perMin)
	}
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists registered capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	return out
}

// Invoke runs one capability with timeout enforcement and normalized
// failures. Every error return is a Failure.
func (r *Registry) Invoke(ctx context.Context, name string, params Params) (Result, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[name]
	limiter := r.limiters[name]
	r.mu.RUnlock()

	if !ok {
		return Result{}, NewFailure(name, FailureInvalidInput, fmt.Errorf("unknown capability: %s", name))
	}
	if limiter != nil && !limiter.allow() {
		rateLimited.WithLabelValues(name).Inc()
		invocationsTotal.WithLabelValues(name, "rate-limited").Inc()
		return Result{}, NewFailure(name, FailureRateLimited, fmt.Errorf("adapter %s over rate limit", name))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := adapter.Invoke(callCtx, params)
	invocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		f := Classify(name, err)
		invocationsTotal.WithLabelValues(name, string(f.Kind)).Inc()
		return Result{}, f
	}
	if res.Tool == "" {
		res.Tool = name
	}
	invocationsTotal.WithLabelValues(name, "ok").Inc()
	return res, nil
}

// bucket is a minimal token bucket refilled once per minute. External
// endpoints get backed off independently of orchestration decisions.
type bucket struct {
	mu       sync.Mutex
	capacity int
	tokens   int
	refill   time.Time
}

func newBucket(perMinute int) *bucket {
	return &bucket{capacity: perMinute, tokens: perMinute, refill: time.Now()}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.Sub(b.refill) >= time.Minute {
		b.tokens = b.capacity
		b.refill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
