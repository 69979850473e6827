package export

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/db"
	"github.com/sells-group/lead-scanner/internal/job"
)

// LeadsMigration creates the leads table written by PostgresSink.
const LeadsMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                    BIGSERIAL PRIMARY KEY,
	job_id                TEXT NOT NULL,
	company               TEXT NOT NULL,
	milestone_kind        TEXT NOT NULL,
	location              TEXT NOT NULL DEFAULT '',
	post_date             TIMESTAMPTZ NOT NULL,
	contact_name          TEXT NOT NULL DEFAULT '',
	contact_title         TEXT NOT NULL DEFAULT '',
	seniority             TEXT NOT NULL,
	company_size_estimate INTEGER NOT NULL DEFAULT 0,
	score                 DOUBLE PRECISION NOT NULL,
	source                TEXT NOT NULL,
	source_url            TEXT NOT NULL DEFAULT '',
	original_text         TEXT NOT NULL,
	exported_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS leads_job_id_idx ON leads (job_id);
`

var leadColumns = append([]string{"job_id"}, Columns...)

// Sink receives the structured rows of a finished job.
type Sink interface {
	Name() string
	Store(ctx context.Context, s job.Snapshot) (int64, error)
}

// PostgresSink bulk-copies leads into the leads table.
type PostgresSink struct {
	pool db.Pool
}

// NewPostgresSink returns a sink over pool. Call Migrate once before use.
func NewPostgresSink(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Name implements Sink.
func (p *PostgresSink) Name() string { return "postgres" }

// Migrate creates the leads table if it does not exist.
func (p *PostgresSink) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, p.pool, LeadsMigration)
}

// Store implements Sink.
func (p *PostgresSink) Store(ctx context.Context, s job.Snapshot) (int64, error) {
	rows := make([][]any, 0, len(s.Results))
	for _, l := range s.Results {
		rows = append(rows, []any{
			s.ID,
			l.Company,
			string(l.Milestone),
			l.Location,
			l.PostDate.UTC(),
			l.ContactName,
			l.ContactTitle,
			string(l.Seniority),
			l.CompanySizeEstimate,
			l.Score,
			string(l.Source),
			l.SourceURL,
			l.OriginalText,
		})
	}
	n, err := db.CopyRows(ctx, p.pool, pgx.Identifier{"leads"}, leadColumns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "export: store job %s", s.ID)
	}
	return n, nil
}
