// Package ratelimit enforces per-source request budgets shared by every job
// in the process.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-scanner/internal/resilience"
)

// ErrRateLimitExceeded is returned when a slot cannot be granted within the
// configured max wait.
var ErrRateLimitExceeded = eris.New("rate limit exceeded")

// Config is the budget for one source.
type Config struct {
	MinDelay          time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	RequestsPerMinute int           `mapstructure:"rpm" yaml:"rpm"`
	MaxWait           time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// DefaultConfig mirrors the scanner's historical pacing: 2-5s between calls
// and at most 10 calls a minute.
func DefaultConfig() Config {
	return Config{
		MinDelay:          2 * time.Second,
		MaxDelay:          5 * time.Second,
		RequestsPerMinute: 10,
		MaxWait:           2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	return c
}

// Limiter paces requests to a single source. It combines a token bucket for
// the per-minute ceiling with a randomized minimum gap between requests.
type Limiter struct {
	name string
	cfg  Config

	mu       sync.Mutex
	bucket   *rate.Limiter
	baseRate rate.Limit
	next     time.Time // earliest start allowed by the inter-request gap

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewLimiter creates a limiter named after the source it guards.
func NewLimiter(name string, cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	return &Limiter{
		name:     name,
		cfg:      cfg,
		bucket:   rate.NewLimiter(perSecond, 1),
		baseRate: perSecond,
		now:      time.Now,
		sleep:    resilience.SleepContext,
		rand:     rand.Float64,
	}
}

// Name returns the source identity.
func (l *Limiter) Name() string { return l.name }

// Acquire blocks until a request slot is available. It fails immediately
// with ErrRateLimitExceeded when the required wait exceeds MaxWait, and with
// the context error when ctx is done first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	now := l.now()
	res := l.bucket.ReserveN(now, 1)
	if !res.OK() {
		l.mu.Unlock()
		return eris.Wrapf(ErrRateLimitExceeded, "ratelimit: %s", l.name)
	}

	wait := res.DelayFrom(now)
	if gap := l.next.Sub(now); gap > wait {
		wait = gap
	}
	if l.cfg.MaxWait > 0 && wait > l.cfg.MaxWait {
		res.CancelAt(now)
		l.mu.Unlock()
		return eris.Wrapf(ErrRateLimitExceeded, "ratelimit: %s: wait %s exceeds max %s", l.name, wait, l.cfg.MaxWait)
	}
	l.next = now.Add(wait).Add(l.jitteredDelay())
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	if err := l.sleep(ctx, wait); err != nil {
		res.Cancel()
		return eris.Wrapf(err, "ratelimit: %s: wait cancelled", l.name)
	}
	return nil
}

// jitteredDelay draws the next inter-request gap from [MinDelay, MaxDelay].
func (l *Limiter) jitteredDelay() time.Duration {
	span := l.cfg.MaxDelay - l.cfg.MinDelay
	if span <= 0 {
		return l.cfg.MinDelay
	}
	return l.cfg.MinDelay + time.Duration(l.rand()*float64(span))
}

// OnRateLimited halves the bucket rate after an upstream throttle, down to a
// quarter of the configured rate.
func (l *Limiter) OnRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newRate := l.bucket.Limit() * 0.5
	if floor := l.baseRate / 4; newRate < floor {
		newRate = floor
	}
	l.bucket.SetLimitAt(l.now(), newRate)
	zap.L().Warn("ratelimit: reducing rate after upstream throttle",
		zap.String("source", l.name),
		zap.Float64("requests_per_minute", float64(newRate)*60),
	)
}

// OnSuccess restores the rate by 20% per call until it is back at the
// configured value.
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.bucket.Limit()
	if cur >= l.baseRate {
		return
	}
	newRate := cur * 1.2
	if newRate > l.baseRate {
		newRate = l.baseRate
	}
	l.bucket.SetLimitAt(l.now(), newRate)
}

// RequestsPerMinute returns the current effective ceiling.
func (l *Limiter) RequestsPerMinute() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.bucket.Limit()) * 60
}
