// Package config loads the immutable application configuration from file
// and environment, and sets up logging.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/ratelimit"
)

// Config holds the full application configuration. It is loaded once and
// passed by value.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	LinkedIn   LinkedInConfig   `yaml:"linkedin" mapstructure:"linkedin"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Collectors CollectorsConfig `yaml:"collectors" mapstructure:"collectors"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AnthropicConfig configures the classification model.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GoogleConfig holds Places and Custom Search credentials.
type GoogleConfig struct {
	MapsAPIKey     string `yaml:"maps_api_key" mapstructure:"maps_api_key"`
	SearchAPIKey   string `yaml:"search_api_key" mapstructure:"search_api_key"`
	SearchEngineID string `yaml:"search_engine_id" mapstructure:"search_engine_id"`
}

// LinkedInConfig holds the LinkedIn API token.
type LinkedInConfig struct {
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
}

// RateLimitConfig is the default per-source budget plus overrides keyed by
// source identity (google_places, google_cse, analysis, ...).
type RateLimitConfig struct {
	ratelimit.Config `yaml:",inline" mapstructure:",squash"`
	Sources          map[string]ratelimit.Config `yaml:"sources" mapstructure:"sources"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend     string        `yaml:"backend" mapstructure:"backend"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Path        string        `yaml:"path" mapstructure:"path"`
	RedisURL    string        `yaml:"redis_url" mapstructure:"redis_url"`
	RedisPrefix string        `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	PostgresDSN string        `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	SweepEvery  time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// SourceConfig is the per-source collector switch.
type SourceConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Strategy string `yaml:"strategy" mapstructure:"strategy"`
}

// CollectorsConfig configures the source collectors.
type CollectorsConfig struct {
	Maps      SourceConfig `yaml:"maps" mapstructure:"maps"`
	Social    SourceConfig `yaml:"social" mapstructure:"social"`
	Search    SourceConfig `yaml:"search" mapstructure:"search"`
	QueryFile string       `yaml:"query_file" mapstructure:"query_file"`
	NewsURL   string       `yaml:"news_url" mapstructure:"news_url"`
	WebURL    string       `yaml:"web_url" mapstructure:"web_url"`
	Retries   int          `yaml:"retries" mapstructure:"retries"`
}

// JobsConfig configures job execution and retention.
type JobsConfig struct {
	Retention            time.Duration `yaml:"retention" mapstructure:"retention"`
	EvictionInterval     time.Duration `yaml:"eviction_interval" mapstructure:"eviction_interval"`
	MaxConcurrentJobs    int           `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	MaxConcurrentSources int           `yaml:"max_concurrent_sources" mapstructure:"max_concurrent_sources"`
	BreakerThreshold     int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	LogTail              int           `yaml:"log_tail" mapstructure:"log_tail"`
}

// SearchConfig holds request defaults.
type SearchConfig struct {
	DefaultLocation      []string `yaml:"default_location" mapstructure:"default_location"`
	DefaultBusinessTypes []string `yaml:"default_business_types" mapstructure:"default_business_types"`
	MaxResults           int      `yaml:"max_results" mapstructure:"max_results"`
	MaxAgeDays           int      `yaml:"max_age_days" mapstructure:"max_age_days"`
	MilestoneKeywords    []string `yaml:"milestone_keywords" mapstructure:"milestone_keywords"`
}

// ExportConfig configures result export.
type ExportConfig struct {
	Dir         string        `yaml:"dir" mapstructure:"dir"`
	Bucket      BucketConfig  `yaml:"bucket" mapstructure:"bucket"`
	Formats     []string      `yaml:"formats" mapstructure:"formats"`
	PostgresDSN string        `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// BucketConfig selects a Cloud Storage bucket for export artifacts.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS. Endpoint points the
// client at an emulator and disables authentication.
type BucketConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SearchDefaults returns the parameters applied to requests that omit them.
func (c Config) SearchDefaults() model.SearchParams {
	p := model.DefaultSearchParams()
	if len(c.Search.DefaultLocation) > 0 {
		p.Location = slices.Clone(c.Search.DefaultLocation)
	}
	if len(c.Search.DefaultBusinessTypes) > 0 {
		p.BusinessTypes = slices.Clone(c.Search.DefaultBusinessTypes)
	}
	if c.Search.MaxResults > 0 {
		p.MaxResults = c.Search.MaxResults
	}
	if c.Search.MaxAgeDays > 0 {
		p.MaxAgeDays = c.Search.MaxAgeDays
	}
	return p
}

// Load reads configuration from an optional config file and the
// environment. path overrides the search paths when set.
func Load(path string) (Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lead-scanner")
	}

	// Environment
	v.SetEnvPrefix("LEADSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return Config{}, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	rl := ratelimit.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("google.maps_api_key", "")
	v.SetDefault("google.search_api_key", "")
	v.SetDefault("google.search_engine_id", "")
	v.SetDefault("linkedin.access_token", "")
	v.SetDefault("ratelimit.min_delay", rl.MinDelay)
	v.SetDefault("ratelimit.max_delay", rl.MaxDelay)
	v.SetDefault("ratelimit.rpm", rl.RequestsPerMinute)
	v.SetDefault("ratelimit.max_wait", rl.MaxWait)
	v.SetDefault("ratelimit.sources.analysis.min_delay", 0)
	v.SetDefault("ratelimit.sources.analysis.max_delay", 0)
	v.SetDefault("ratelimit.sources.analysis.rpm", 50)
	v.SetDefault("ratelimit.sources.analysis.max_wait", rl.MaxWait)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_prefix", "leadscan:")
	v.SetDefault("cache.postgres_dsn", "")
	v.SetDefault("cache.sweep_interval", 30*time.Minute)
	for _, src := range model.AllSources {
		v.SetDefault("collectors."+string(src)+".enabled", true)
		v.SetDefault("collectors."+string(src)+".strategy", "auto")
	}
	v.SetDefault("collectors.query_file", "")
	v.SetDefault("collectors.news_url", "")
	v.SetDefault("collectors.web_url", "")
	v.SetDefault("collectors.retries", 3)
	v.SetDefault("jobs.retention", 24*time.Hour)
	v.SetDefault("jobs.eviction_interval", 10*time.Minute)
	v.SetDefault("jobs.max_concurrent_jobs", 4)
	v.SetDefault("jobs.max_concurrent_sources", len(model.AllSources))
	v.SetDefault("jobs.breaker_threshold", 5)
	v.SetDefault("jobs.log_tail", 20)
	v.SetDefault("search.default_location", []string{"San Francisco"})
	v.SetDefault("search.default_business_types", []string{"tech startup", "small business", "medium business"})
	v.SetDefault("search.max_results", 20)
	v.SetDefault("search.max_age_days", 30)
	v.SetDefault("search.milestone_keywords", []string{})
	v.SetDefault("export.dir", "")
	v.SetDefault("export.bucket.name", "")
	v.SetDefault("export.bucket.endpoint", "")
	v.SetDefault("export.formats", []string{"csv", "json"})
	v.SetDefault("export.postgres_dsn", "")
	v.SetDefault("export.timeout", 2*time.Minute)
	v.SetDefault("metrics.enabled", true)
}

var (
	validStrategies = []string{"", "primary", "fallback", "auto"}
	validBackends   = []string{"memory", "file", "sqlite", "redis", "postgres"}
	validFormats    = []string{"csv", "json", "xlsx"}
)

// Validate checks the configuration for mode ("serve" or "scan") and
// reports every problem at once.
func (c Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "serve":
		if c.Server.Addr == "" {
			add("server.addr is required")
		}
		if c.Jobs.Retention <= 0 {
			add("jobs.retention must be > 0")
		}
		if c.Jobs.EvictionInterval <= 0 {
			add("jobs.eviction_interval must be > 0")
		}
	case "scan":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Anthropic.APIKey == "" {
		add("anthropic.api_key is required")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level %q is invalid", c.Log.Level)
	}
	if c.Jobs.MaxConcurrentJobs < 1 || c.Jobs.MaxConcurrentJobs > 64 {
		add("jobs.max_concurrent_jobs must be between 1 and 64, got %d", c.Jobs.MaxConcurrentJobs)
	}
	if c.Jobs.MaxConcurrentSources < 1 {
		add("jobs.max_concurrent_sources must be >= 1, got %d", c.Jobs.MaxConcurrentSources)
	}
	if c.Jobs.BreakerThreshold < 1 {
		add("jobs.breaker_threshold must be >= 1, got %d", c.Jobs.BreakerThreshold)
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		add("ratelimit.rpm must be > 0")
	}
	if c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		add("ratelimit.max_delay must be >= ratelimit.min_delay")
	}

	c.validateCache(add)
	c.validateCollectors(add)

	for _, f := range c.Export.Formats {
		if !slices.Contains(validFormats, strings.ToLower(f)) {
			add("export.formats: unknown format %q", f)
		}
	}
	if c.Export.Dir != "" && c.Export.Bucket.Name != "" {
		add("export.dir and export.bucket.name are mutually exclusive")
	}
	if c.Export.Bucket.Endpoint != "" && c.Export.Bucket.Name == "" {
		add("export.bucket.endpoint requires export.bucket.name")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) validateCache(add func(string, ...any)) {
	if !slices.Contains(validBackends, c.Cache.Backend) {
		add("cache.backend %q is not one of %s", c.Cache.Backend, strings.Join(validBackends, ", "))
		return
	}
	switch c.Cache.Backend {
	case "file", "sqlite":
		if c.Cache.Path == "" {
			add("cache.path is required for the %s backend", c.Cache.Backend)
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			add("cache.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Cache.PostgresDSN == "" {
			add("cache.postgres_dsn is required for the postgres backend")
		}
	}
}

func (c Config) validateCollectors(add func(string, ...any)) {
	sources := map[model.Source]SourceConfig{
		model.SourceMaps:   c.Collectors.Maps,
		model.SourceSocial: c.Collectors.Social,
		model.SourceSearch: c.Collectors.Search,
	}
	hasCreds := map[model.Source]bool{
		model.SourceMaps:   c.Google.MapsAPIKey != "",
		model.SourceSocial: c.LinkedIn.AccessToken != "",
		model.SourceSearch: c.Google.SearchAPIKey != "" && c.Google.SearchEngineID != "",
	}

	enabled := 0
	for _, src := range model.AllSources {
		sc := sources[src]
		if !slices.Contains(validStrategies, strings.ToLower(sc.Strategy)) {
			add("collectors.%s.strategy %q is not one of primary, fallback, auto", src, sc.Strategy)
			continue
		}
		if !sc.Enabled {
			continue
		}
		enabled++
		if strings.EqualFold(sc.Strategy, "primary") && !hasCreds[src] {
			add("collectors.%s.strategy is primary but credentials are missing", src)
		}
	}
	if enabled == 0 {
		add("at least one collector must be enabled")
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
