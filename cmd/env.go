package main

import (
	"context"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/sells-group/lead-scanner/internal/analysis"
	"github.com/sells-group/lead-scanner/internal/cache"
	"github.com/sells-group/lead-scanner/internal/collector"
	"github.com/sells-group/lead-scanner/internal/config"
	"github.com/sells-group/lead-scanner/internal/db"
	"github.com/sells-group/lead-scanner/internal/export"
	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/jobmanager"
	"github.com/sells-group/lead-scanner/internal/metrics"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/ratelimit"
	"github.com/sells-group/lead-scanner/internal/resilience"
	anthropicpkg "github.com/sells-group/lead-scanner/pkg/anthropic"
)

// scanEnv holds everything the serve and scan commands share. A single
// limiter registry and cache serve every job in the process.
type scanEnv struct {
	Limits     *ratelimit.Registry
	Cache      cache.Cache
	Strategies []collector.Strategy
	Analysis   *analysis.Client
	Exporter   *export.Exporter
	Manager    *jobmanager.Manager
	Defaults   model.SearchParams

	pools   map[string]*pgxpool.Pool
	closers []io.Closer
}

// Close releases pools, cache handles and export clients.
func (e *scanEnv) Close() {
	if c, ok := e.Cache.(cache.Closer); ok {
		if err := c.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			zap.L().Warn("close export uploader", zap.Error(err))
		}
	}
	for _, p := range e.pools {
		p.Close()
	}
}

// pool returns a shared pool for dsn, connecting on first use.
func (e *scanEnv) pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if p, ok := e.pools[dsn]; ok {
		return p, nil
	}
	p, err := db.Connect(ctx, dsn, 4)
	if err != nil {
		return nil, err
	}
	e.pools[dsn] = p
	return p, nil
}

// initEnv validates cfg for mode and builds the shared wiring. Callers
// should defer env.Close().
func initEnv(ctx context.Context, cfg config.Config, mode string) (*scanEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	env := &scanEnv{pools: make(map[string]*pgxpool.Pool)}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	limitOpts := []ratelimit.Option{ratelimit.WithObserver(metrics.ObserveRateLimit)}
	for src, rc := range cfg.RateLimit.Sources {
		limitOpts = append(limitOpts, ratelimit.WithOverride(src, rc))
	}
	env.Limits = ratelimit.NewRegistry(cfg.RateLimit.Config, limitOpts...)

	cacheOpts := cache.Options{
		Backend:     cfg.Cache.Backend,
		Path:        cfg.Cache.Path,
		RedisURL:    cfg.Cache.RedisURL,
		RedisPrefix: cfg.Cache.RedisPrefix,
	}
	if cfg.Cache.Backend == cache.BackendPostgres {
		p, err := env.pool(ctx, cfg.Cache.PostgresDSN)
		if err != nil {
			return nil, eris.Wrap(err, "init cache pool")
		}
		cacheOpts.Pool = p
	}
	c, err := cache.Open(ctx, cacheOpts)
	if err != nil {
		return nil, err
	}
	env.Cache = c

	env.Defaults = cfg.SearchDefaults()
	keywords := cfg.Search.MilestoneKeywords
	if cfg.Collectors.QueryFile != "" {
		qf, err := collector.LoadQueryFile(cfg.Collectors.QueryFile)
		if err != nil {
			return nil, err
		}
		env.Defaults = qf.Apply(env.Defaults)
		if len(qf.MilestoneKeywords) > 0 {
			keywords = qf.MilestoneKeywords
		}
	}
	if len(keywords) == 0 {
		keywords = collector.DefaultMilestoneKeywords
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Collectors.Retries > 0 {
		retry.MaxAttempts = cfg.Collectors.Retries
	}
	env.Strategies, err = collector.Build(collector.Options{
		Deps: collector.Deps{
			Limits:   env.Limits,
			Cache:    env.Cache,
			CacheTTL: cfg.Cache.TTL,
			Retry:    retry,
		},
		Credentials: collector.Credentials{
			MapsAPIKey:     cfg.Google.MapsAPIKey,
			SearchAPIKey:   cfg.Google.SearchAPIKey,
			SearchEngineID: cfg.Google.SearchEngineID,
			LinkedInToken:  cfg.LinkedIn.AccessToken,
		},
		Sources:  sourceSettings(cfg.Collectors),
		Keywords: keywords,
		NewsURL:  cfg.Collectors.NewsURL,
		WebURL:   cfg.Collectors.WebURL,
	})
	if err != nil {
		return nil, err
	}
	if len(env.Strategies) == 0 {
		return nil, eris.New("no collectors available: configure credentials or enable a source with a fallback")
	}

	env.Analysis = analysis.NewClient(
		anthropicpkg.NewClient(cfg.Anthropic.APIKey),
		env.Limits,
		analysis.WithModel(cfg.Anthropic.Model),
		analysis.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)),
		analysis.WithCache(env.Cache, cfg.Cache.TTL),
	)

	env.Exporter, err = buildExporter(ctx, env, cfg.Export)
	if err != nil {
		return nil, err
	}

	mgrOpts := []jobmanager.Option{
		jobmanager.WithStartHook(func(string) { metrics.JobStarted() }),
		jobmanager.WithFinishHook(metrics.JobFinished),
	}
	if env.Exporter != nil {
		mgrOpts = append(mgrOpts, jobmanager.WithFinishHook(env.Exporter.Hook(cfg.Export.Timeout)))
	}
	env.Manager = jobmanager.New(collector.Collectors(env.Strategies), env.Analysis, jobmanager.Config{
		Retention:         cfg.Jobs.Retention,
		MaxConcurrentJobs: cfg.Jobs.MaxConcurrentJobs,
		Job: job.Config{
			MaxConcurrentSources: cfg.Jobs.MaxConcurrentSources,
			BreakerThreshold:     cfg.Jobs.BreakerThreshold,
			OnItem:               metrics.ItemProcessed,
		},
	}, mgrOpts...)

	ok = true
	return env, nil
}

func sourceSettings(cc config.CollectorsConfig) map[model.Source]collector.SourceSettings {
	out := make(map[model.Source]collector.SourceSettings, len(model.AllSources))
	for src, sc := range map[model.Source]config.SourceConfig{
		model.SourceMaps:   cc.Maps,
		model.SourceSocial: cc.Social,
		model.SourceSearch: cc.Search,
	} {
		kind, err := collector.ParseStrategyKind(sc.Strategy)
		if err != nil {
			kind = collector.StrategyAuto
		}
		out[src] = collector.SourceSettings{Enabled: sc.Enabled, Strategy: kind}
	}
	return out
}

// buildExporter returns nil when no directory, bucket or sink is set.
func buildExporter(ctx context.Context, env *scanEnv, ec config.ExportConfig) (*export.Exporter, error) {
	formats, err := export.ParseFormats(ec.Formats)
	if err != nil {
		return nil, err
	}
	var opts []export.Option
	if ec.Dir != "" {
		dir, err := export.NewLocalDir(ec.Dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, export.WithUploader(dir))
	}
	if ec.Bucket.Name != "" {
		var gopts []option.ClientOption
		if ec.Bucket.Endpoint != "" {
			gopts = append(gopts, option.WithEndpoint(ec.Bucket.Endpoint), option.WithoutAuthentication())
		}
		g, err := export.NewGCS(ctx, ec.Bucket.Name, gopts...)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, g)
		opts = append(opts, export.WithUploader(g))
	}
	if ec.PostgresDSN != "" {
		p, err := env.pool(ctx, ec.PostgresDSN)
		if err != nil {
			return nil, eris.Wrap(err, "init export pool")
		}
		sink := export.NewPostgresSink(p)
		if err := sink.Migrate(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, export.WithSink(sink))
	}
	if len(opts) == 0 {
		return nil, nil
	}
	return export.New(formats, opts...), nil
}

// sweepCache is the scheduler task for backends with explicit expiry.
func sweepCache(c cache.Cache) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		s, ok := c.(cache.Sweeper)
		if !ok {
			return nil
		}
		start := time.Now()
		n, err := s.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep cache")
		}
		zap.L().Debug("cache swept", zap.Int("removed", n), zap.Duration("duration", time.Since(start)))
		return nil
	}
}
