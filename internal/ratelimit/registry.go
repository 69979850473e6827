package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Acquirer is what collectors and the analysis client depend on.
type Acquirer interface {
	Acquire(ctx context.Context, source string) error
}

// Feedback is implemented by acquirers that adapt to upstream throttling.
type Feedback interface {
	Throttled(source string)
	Succeeded(source string)
}

// Observer receives the time spent waiting for each granted or denied slot.
type Observer func(source string, wait time.Duration, err error)

// Registry holds one Limiter per source identity. A single Registry is built
// per process and shared by every job so concurrent jobs never multiply the
// effective call rate against a source.
type Registry struct {
	defaults  Config
	overrides map[string]Config

	mu       sync.RWMutex
	limiters map[string]*Limiter

	observe Observer
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithOverride sets the budget for a specific source.
func WithOverride(source string, cfg Config) Option {
	return func(r *Registry) { r.overrides[source] = cfg }
}

// WithObserver installs a wait observer (used for metrics).
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observe = o }
}

// NewRegistry creates a registry applying defaults to sources without an
// override.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	r := &Registry{
		defaults:  defaults,
		overrides: make(map[string]Config),
		limiters:  make(map[string]*Limiter),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Limiter returns the limiter for source, creating it on first use.
func (r *Registry) Limiter(source string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[source]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[source]; ok {
		return l
	}
	cfg, ok := r.overrides[source]
	if !ok {
		cfg = r.defaults
	}
	l = NewLimiter(source, cfg)
	r.limiters[source] = l
	return l
}

// Acquire waits for a slot on source's limiter.
func (r *Registry) Acquire(ctx context.Context, source string) error {
	start := r.now()
	err := r.Limiter(source).Acquire(ctx)
	if r.observe != nil {
		r.observe(source, r.now().Sub(start), err)
	}
	return err
}

// Sources returns the names of limiters created so far.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		out = append(out, name)
	}
	return out
}

// Throttled reports an explicit 429 from source and slows its limiter.
func (r *Registry) Throttled(source string) {
	r.Limiter(source).OnRateLimited()
}

// Succeeded reports a successful call so a throttled limiter can recover.
func (r *Registry) Succeeded(source string) {
	r.Limiter(source).OnSuccess()
}
