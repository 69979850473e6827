package cache

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/db"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string // file and sqlite backends
	RedisURL    string
	RedisPrefix string
	Pool        db.Pool // postgres backend
}

// Open builds the configured backend.
func Open(ctx context.Context, opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		if opts.Path == "" {
			return nil, eris.New("cache: file backend requires a path")
		}
		return OpenFile(opts.Path)
	case BackendSQLite:
		if opts.Path == "" {
			return nil, eris.New("cache: sqlite backend requires a path")
		}
		return OpenSQLite(ctx, opts.Path)
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, eris.New("cache: redis backend requires a url")
		}
		return NewRedis(opts.RedisURL, opts.RedisPrefix)
	case BackendPostgres:
		if opts.Pool == nil {
			return nil, eris.New("cache: postgres backend requires a pool")
		}
		if err := db.Migrate(ctx, opts.Pool, PostgresMigration); err != nil {
			return nil, eris.Wrap(err, "cache: migrate postgres")
		}
		return NewPostgres(opts.Pool), nil
	default:
		return nil, eris.Errorf("cache: unknown backend %q", opts.Backend)
	}
}
