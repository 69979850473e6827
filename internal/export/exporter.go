package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-scanner/internal/job"
)

// Artifact is one stored export.
type Artifact struct {
	Format   Format `json:"format"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Size     int    `json:"size"`
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithUploader sets where rendered files go.
func WithUploader(u Uploader) Option {
	return func(e *Exporter) { e.uploader = u }
}

// WithSink adds a structured row sink.
func WithSink(s Sink) Option {
	return func(e *Exporter) { e.sinks = append(e.sinks, s) }
}

// WithPrefix sets the object name prefix. Default: "leads/".
func WithPrefix(p string) Option {
	return func(e *Exporter) { e.prefix = p }
}

// Exporter renders and stores finished job results.
type Exporter struct {
	formats  []Format
	uploader Uploader
	sinks    []Sink
	prefix   string
	log      *zap.Logger
}

// New creates an Exporter for formats.
func New(formats []Format, opts ...Option) *Exporter {
	e := &Exporter{
		formats: formats,
		prefix:  "leads/",
		log:     zap.L().With(zap.String("component", "export")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ObjectName is the stored name for one job and format.
func (e *Exporter) ObjectName(s job.Snapshot, f Format) string {
	ts := s.FinishedAt
	if ts.IsZero() {
		ts = s.CreatedAt
	}
	return fmt.Sprintf("%sleads_%s_%s.%s", e.prefix, ts.UTC().Format("20060102_150405"), s.ID, f)
}

// Export renders every format concurrently, uploads the files and feeds the
// sinks. Snapshots without results produce nothing.
func (e *Exporter) Export(ctx context.Context, s job.Snapshot) ([]Artifact, error) {
	if len(s.Results) == 0 {
		return nil, nil
	}

	var artifacts []Artifact
	if e.uploader != nil && len(e.formats) > 0 {
		artifacts = make([]Artifact, len(e.formats))
		g, gctx := errgroup.WithContext(ctx)
		for i, f := range e.formats {
			g.Go(func() error {
				data, err := Render(f, s)
				if err != nil {
					return err
				}
				name := e.ObjectName(s, f)
				loc, err := e.uploader.Upload(gctx, name, f.ContentType(), data)
				if err != nil {
					return eris.Wrapf(err, "export: upload %s", name)
				}
				artifacts[i] = Artifact{Format: f, Name: name, Location: loc, Size: len(data)}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for _, sink := range e.sinks {
		n, err := sink.Store(ctx, s)
		if err != nil {
			return artifacts, eris.Wrapf(err, "export: sink %s", sink.Name())
		}
		e.log.Info("export: stored rows", zap.String("job_id", s.ID), zap.String("sink", sink.Name()), zap.Int64("rows", n))
	}
	return artifacts, nil
}

// Hook returns a job finish hook that exports with a deadline and logs the
// outcome. Failures never propagate to the job.
func (e *Exporter) Hook(timeout time.Duration) func(job.Snapshot) {
	return func(s job.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		artifacts, err := e.Export(ctx, s)
		if err != nil {
			e.log.Error("export: job export failed", zap.String("job_id", s.ID), zap.Error(err))
			return
		}
		for _, a := range artifacts {
			e.log.Info("export: artifact stored",
				zap.String("job_id", s.ID),
				zap.String("format", string(a.Format)),
				zap.String("location", a.Location),
				zap.Int("bytes", a.Size),
			)
		}
	}
}
