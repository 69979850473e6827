// Package analysis classifies candidate text into milestones, entities and
// a relevance score through the Anthropic Messages API.
package analysis

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/cache"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/ratelimit"
	"github.com/sells-group/lead-scanner/internal/resilience"
	"github.com/sells-group/lead-scanner/pkg/anthropic"
)

const (
	// LimiterSource is the rate limiter identity for model calls.
	LimiterSource = "analysis"

	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultMaxTokens = 512

	statusOverloaded = 529
)

// Classifier turns one text into an AnalysisResult.
type Classifier interface {
	Classify(ctx context.Context, text string) (model.AnalysisResult, error)
}

// Binder scopes a Classifier to one scan's intent.
type Binder interface {
	Bind(params model.SearchParams) Classifier
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(params model.SearchParams) Classifier

// Bind calls f.
func (f BinderFunc) Bind(params model.SearchParams) Classifier { return f(params) }

// Client is the Anthropic-backed Binder. It is safe for concurrent use.
type Client struct {
	api       anthropic.Client
	limits    ratelimit.Acquirer
	cache     cache.Cache
	cacheTTL  time.Duration
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model id.
func WithModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithCache memoizes results for ttl (cache.DefaultTTL when ttl <= 0).
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) { c.cache, c.cacheTTL = cc, ttl }
}

// WithRetry replaces the retry policy. The retry predicate is always the
// transient check.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates an analysis client.
func NewClient(api anthropic.Client, limits ratelimit.Acquirer, opts ...Option) *Client {
	c := &Client{
		api:       api,
		limits:    limits,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		retry:     resilience.AnalysisRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.ShouldRetry = resilience.IsTransient
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("anthropic", "classify")
	}
	return c
}

// Bind returns a Classifier whose system prompt carries params' intent.
func (c *Client) Bind(params model.SearchParams) Classifier {
	return &boundClassifier{client: c, system: systemPrompt(params)}
}

type boundClassifier struct {
	client *Client
	system string
}

func (b *boundClassifier) Classify(ctx context.Context, text string) (model.AnalysisResult, error) {
	return b.client.classify(ctx, b.system, text)
}

func (c *Client) classify(ctx context.Context, system, text string) (model.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return model.AnalysisResult{}, err
	}
	log := zap.L().With(zap.String("component", "analysis"))

	key := cache.Key(LimiterSource, system+"\n"+text, c.model)
	if c.cache != nil {
		cached, ok, err := cache.GetJSON[model.AnalysisResult](ctx, c.cache, key)
		switch {
		case err != nil:
			log.Warn("analysis: cache read failed", zap.Error(err))
		case ok:
			return cached, nil
		}
	}

	result, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (model.AnalysisResult, error) {
		return c.attempt(ctx, system, text)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return model.AnalysisResult{}, ctxErr
		}
		return model.AnalysisResult{}, toAnalysisError(err)
	}

	if c.cache != nil {
		if err := cache.PutJSON(ctx, c.cache, key, result, c.cacheTTL); err != nil {
			log.Warn("analysis: cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, system, text string) (model.AnalysisResult, error) {
	if err := c.limits.Acquire(ctx, LimiterSource); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			return model.AnalysisResult{}, &resilience.TransientError{Err: err, Source: LimiterSource, RateLimited: true}
		}
		return model.AnalysisResult{}, err
	}

	temp := 0.0
	resp, err := c.api.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: text}},
		Temperature: &temp,
	})
	if err != nil {
		return model.AnalysisResult{}, classifyAPIError(err)
	}
	resp.Usage.LogCost(c.model, "classify")

	result, err := parseResult(resp.Text())
	if err != nil {
		return model.AnalysisResult{}, resilience.NewMalformedError(LimiterSource, err)
	}
	return result, nil
}

// classifyAPIError maps SDK failures onto the resilience taxonomy.
func classifyAPIError(err error) error {
	var se *anthropic.StatusError
	if errors.As(err, &se) {
		switch {
		case resilience.IsAuthHTTPStatus(se.StatusCode):
			return resilience.NewAuthError(LimiterSource, err, se.StatusCode)
		case se.StatusCode == statusOverloaded || resilience.IsTransientHTTPStatus(se.StatusCode):
			te := resilience.NewTransientError(err, se.StatusCode)
			te.Source = LimiterSource
			return te
		case se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError:
			return resilience.NewMalformedError(LimiterSource, err)
		}
	}
	if resilience.IsTransient(err) {
		return &resilience.TransientError{Err: err, Source: LimiterSource}
	}
	return err
}

func toAnalysisError(err error) *AnalysisError {
	switch {
	case resilience.IsAuth(err):
		return &AnalysisError{Kind: KindAuth, Err: err}
	case resilience.IsTransient(err):
		return &AnalysisError{Kind: KindTransient, Err: err}
	default:
		// Anything that is neither retryable nor a credential problem
		// means the exchange produced nothing usable.
		if !resilience.IsMalformed(err) {
			err = resilience.NewMalformedError(LimiterSource, eris.Wrap(err, "analysis: unexpected failure"))
		}
		return &AnalysisError{Kind: KindMalformed, Err: err}
	}
}
