package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/db"
)

// PostgresMigration creates the shared cache table.
const PostgresMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

// Postgres stores entries in a shared Postgres table so several scanner
// processes can reuse each other's results.
type Postgres struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgres wraps pool. Call db.Migrate with PostgresMigration first.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// Get implements Cache.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM cache_entries WHERE key = $1 AND expires_at > $2`,
		key, p.now().UTC(),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres cache: get")
	}
	return value, true, nil
}

// Put implements Cache.
func (p *Postgres) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, p.now().Add(effectiveTTL(ttl)).UTC(),
	)
	return eris.Wrap(err, "postgres cache: put")
}

// Sweep deletes expired rows.
func (p *Postgres) Sweep(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, p.now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres cache: sweep")
	}
	return int(tag.RowsAffected()), nil
}
