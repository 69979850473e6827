package collector

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/cache"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/ratelimit"
	"github.com/sells-group/lead-scanner/internal/resilience"
	"github.com/sells-group/lead-scanner/pkg/google"
	"github.com/sells-group/lead-scanner/pkg/linkedin"
)

// fetcher runs one network page through cache, limiter, classification and
// retry. Every collector implementation embeds one.
type fetcher struct {
	name   string
	source model.Source
	deps   Deps
	log    *zap.Logger
}

func newFetcher(name string, source model.Source, deps Deps) fetcher {
	return fetcher{
		name:   name,
		source: source,
		deps:   deps,
		log:    zap.L().With(zap.String("component", "collector"), zap.String("collector", name)),
	}
}

func (f fetcher) Source() model.Source { return f.source }
func (f fetcher) Name() string         { return f.name }

// fetch returns the page identified by query, calling the network only on a
// cache miss. Cache failures are logged and treated as a miss.
func fetch[T any](ctx context.Context, f fetcher, query string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	key := cache.Key(f.name, query, "collect")
	if f.deps.Cache != nil {
		v, ok, err := cache.GetJSON[T](ctx, f.deps.Cache, key)
		switch {
		case err != nil:
			f.log.Warn("collector: cache read failed", zap.Error(err))
		case ok:
			return v, nil
		}
	}

	retry := f.deps.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(f.name, "collect")
	}
	feedback, _ := f.deps.Limits.(ratelimit.Feedback)

	v, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		if err := f.deps.Limits.Acquire(ctx, f.name); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
				return zero, &resilience.TransientError{Err: err, Source: f.name, RateLimited: true}
			}
			return zero, err
		}
		v, err := call(ctx)
		if err != nil {
			err = classify(f.name, err)
			if feedback != nil && resilience.IsRateLimited(err) {
				feedback.Throttled(f.name)
			}
			return zero, err
		}
		if feedback != nil {
			feedback.Succeeded(f.name)
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}

	if f.deps.Cache != nil {
		if err := cache.PutJSON(ctx, f.deps.Cache, key, v, f.deps.CacheTTL); err != nil {
			f.log.Warn("collector: cache write failed", zap.Error(err))
		}
	}
	return v, nil
}

// classify maps transport errors onto the shared taxonomy.
func classify(source string, err error) error {
	var (
		gse     *google.StatusError
		lse     *linkedin.StatusError
		hse     *httpStatusError
		syntax  *json.SyntaxError
		typeErr *json.UnmarshalTypeError
		malform *resilience.MalformedError
	)
	switch {
	case errors.As(err, &malform):
		return err
	case errors.As(err, &gse):
		return resilience.ClassifyHTTP(source, gse.StatusCode, err)
	case errors.As(err, &lse):
		return resilience.ClassifyHTTP(source, lse.StatusCode, err)
	case errors.As(err, &hse):
		return resilience.ClassifyHTTP(source, hse.StatusCode, err)
	case errors.As(err, &syntax), errors.As(err, &typeErr):
		return resilience.NewMalformedError(source, err)
	case resilience.IsTransient(err):
		var te *resilience.TransientError
		if errors.As(err, &te) {
			return err
		}
		return &resilience.TransientError{Err: err, Source: source}
	default:
		return err
	}
}
