// Package jobmanager owns the set of scan jobs in the process: submission,
// dispatch under a concurrency bound, lookup, cancellation and retention.
package jobmanager

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/analysis"
	"github.com/sells-group/lead-scanner/internal/collector"
	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/model"
)

var (
	// ErrNotFound is returned for unknown or evicted job ids.
	ErrNotFound = eris.New("jobmanager: job not found")
	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = eris.New("jobmanager: shutting down")
)

const (
	defaultRetention         = 24 * time.Hour
	defaultMaxConcurrentJobs = 4
)

// Config controls the manager.
type Config struct {
	// Retention is how long terminal jobs stay queryable. Default: 24h.
	Retention time.Duration
	// MaxConcurrentJobs bounds running jobs. Default: 4.
	MaxConcurrentJobs int
	// Job is passed to every job.
	Job job.Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithStartHook runs fn with the job id just before a job is dispatched.
func WithStartHook(fn func(id string)) Option {
	return func(m *Manager) { m.onStart = append(m.onStart, fn) }
}

// WithFinishHook runs fn with each job's final snapshot.
func WithFinishHook(fn func(job.Snapshot)) Option {
	return func(m *Manager) { m.onFinish = append(m.onFinish, fn) }
}

// WithClock overrides time.Now for jobs and eviction.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides the uuid v4 job ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

type entry struct {
	job  *job.Job
	wake chan struct{}
	once sync.Once
}

func (e *entry) signal() { e.once.Do(func() { close(e.wake) }) }

// Manager is safe for concurrent use.
type Manager struct {
	collectors []collector.Collector
	binder     analysis.Binder
	cfg        Config
	sem        chan struct{}
	onStart    []func(string)
	onFinish   []func(job.Snapshot)
	now        func() time.Time
	newID      func() string
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*entry
	closed bool
}

// New creates a Manager that runs every job against collectors, with a
// classifier bound per job from binder.
func New(collectors []collector.Collector, binder analysis.Binder, cfg Config, opts ...Option) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		collectors: slices.Clone(collectors),
		binder:     binder,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.MaxConcurrentJobs),
		now:        time.Now,
		newID:      uuid.NewString,
		log:        zap.L().With(zap.String("component", "jobmanager")),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit validates params, registers a queued job and dispatches it in the
// background. It returns the new job id.
func (m *Manager) Submit(params model.SearchParams) (string, error) {
	params = params.Clone()
	if err := params.Validate(); err != nil {
		return "", eris.Wrap(err, "jobmanager: submit")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShutdown
	}
	id := m.newID()
	jcfg := m.cfg.Job
	if jcfg.Now == nil {
		jcfg.Now = m.now
	}
	j := job.New(id, params, m.collectors, m.binder.Bind(params), jcfg)
	for _, fn := range m.onFinish {
		j.OnFinish(fn)
	}
	e := &entry{job: j, wake: make(chan struct{})}
	m.jobs[id] = e
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.Info("jobmanager: job submitted",
		zap.String("job_id", id),
		zap.Strings("locations", params.Location),
		zap.Strings("business_types", params.BusinessTypes),
		zap.Int("max_results", params.MaxResults),
	)
	go m.dispatch(e)
	return id, nil
}

// dispatch waits for a slot, or for a reason to skip waiting, then runs the
// job to completion.
func (m *Manager) dispatch(e *entry) {
	defer m.wg.Done()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-e.wake:
	case <-m.ctx.Done():
	}

	id := e.job.ID()
	for _, fn := range m.onStart {
		fn(id)
	}
	start := time.Now()
	if err := e.job.Run(m.ctx); err != nil {
		m.log.Error("jobmanager: run", zap.String("job_id", id), zap.Error(err))
		return
	}
	s := e.job.Snapshot()
	m.log.Info("jobmanager: job finished",
		zap.String("job_id", id),
		zap.String("state", string(s.State)),
		zap.Int("items", s.Progress.ItemsScanned),
		zap.Int("leads", s.Progress.LeadsFound),
		zap.Duration("duration", time.Since(start)),
	)
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return e, nil
}

// Status returns a snapshot of the job.
func (m *Manager) Status(id string) (job.Snapshot, error) {
	e, err := m.get(id)
	if err != nil {
		return job.Snapshot{}, err
	}
	return e.job.Snapshot(), nil
}

// Summary returns the job without its results and with only the last
// logTail log entries.
func (m *Manager) Summary(id string, logTail int) (job.Snapshot, error) {
	e, err := m.get(id)
	if err != nil {
		return job.Snapshot{}, err
	}
	return e.job.Summary(logTail), nil
}

// Results returns a copy of the job's accepted leads.
func (m *Manager) Results(id string) ([]model.Lead, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.job.Results(), nil
}

// Done returns a channel closed when the job is terminal.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.job.Done(), nil
}

// Cancel requests cancellation. Cancelling a terminal job is a no-op.
func (m *Manager) Cancel(id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	if e.job.Cancel() {
		m.log.Info("jobmanager: cancel requested", zap.String("job_id", id))
	}
	e.signal()
	return nil
}

// List returns summaries of every retained job, newest first. Summaries
// carry no results or log entries.
func (m *Manager) List() []job.Snapshot {
	m.mu.RLock()
	out := make([]job.Snapshot, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job.Summary(0))
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b job.Snapshot) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Active returns the newest job that has not reached a terminal state.
func (m *Manager) Active() (job.Snapshot, bool) {
	for _, s := range m.List() {
		if !s.State.Terminal() {
			return s, true
		}
	}
	return job.Snapshot{}, false
}

// EvictExpired removes terminal jobs that finished longer than the
// retention period before now. It returns the number removed.
func (m *Manager) EvictExpired(now time.Time) int {
	cutoff := now.Add(-m.cfg.Retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.jobs {
		if e.job.Terminal() && e.job.FinishedAt().Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	if n > 0 {
		m.log.Info("jobmanager: evicted expired jobs", zap.Int("count", n), zap.Int("remaining", len(m.jobs)))
	}
	return n
}

// Evict runs EvictExpired against the manager clock. It matches the
// scheduler task signature.
func (m *Manager) Evict(context.Context) error {
	m.EvictExpired(m.now())
	return nil
}

// Shutdown stops accepting jobs, cancels every running or queued job and
// waits for them to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "jobmanager: shutdown")
	}
}
