package job

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/analysis"
	"github.com/sells-group/lead-scanner/internal/collector"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/scoring"
)

// Log levels used in job log entries.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogEntry is one line of a job's user-visible log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Source  string    `json:"source,omitempty"`
	Message string    `json:"message"`
}

// SourceProgress tracks one source inside a job.
type SourceProgress struct {
	Scanned  int `json:"scanned"`
	Accepted int `json:"accepted"`
	Errors   int `json:"errors"`
}

// Progress is the job's counters. Percent never decreases.
type Progress struct {
	ItemsScanned   int                             `json:"items_scanned"`
	LeadsFound     int                             `json:"leads_found"`
	EstimatedTotal int                             `json:"estimated_total_items"`
	Percent        float64                         `json:"percent"`
	Sources        map[model.Source]SourceProgress `json:"sources,omitempty"`
}

// Snapshot is a point-in-time deep copy of a job. It shares nothing with
// the live job.
type Snapshot struct {
	ID          string             `json:"id"`
	Params      model.SearchParams `json:"params"`
	State       State              `json:"state"`
	History     []State            `json:"history"`
	Progress    Progress           `json:"progress"`
	Log         []LogEntry         `json:"log"`
	Results     []model.Lead       `json:"results"`
	ResultCount int                `json:"result_count"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   time.Time          `json:"started_at,omitzero"`
	FinishedAt  time.Time          `json:"finished_at,omitzero"`
}

// LogTail returns the last n log entries of the snapshot.
func (s Snapshot) LogTail(n int) []LogEntry {
	if n <= 0 || n >= len(s.Log) {
		return s.Log
	}
	return s.Log[len(s.Log)-n:]
}

// ItemOutcome labels what happened to one candidate.
type ItemOutcome string

const (
	OutcomeAccepted  ItemOutcome = "accepted"
	OutcomeReplaced  ItemOutcome = "replaced"
	OutcomeDuplicate ItemOutcome = "duplicate"
	OutcomeRejected  ItemOutcome = "rejected"
	OutcomeError     ItemOutcome = "error"
)

// Config tunes a job run.
type Config struct {
	// MaxConcurrentSources bounds the per-source fan-out. Default: one
	// goroutine per source.
	MaxConcurrentSources int
	// BreakerThreshold is the consecutive transient failures that fail the
	// job. Default: 5.
	BreakerThreshold int
	// OnItem is called for every candidate processed.
	OnItem func(source model.Source, outcome ItemOutcome)
	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Job is one scan. All mutation goes through its methods under mu.
type Job struct {
	id         string
	params     model.SearchParams
	cfg        Config
	collectors []collector.Collector
	classifier analysis.Classifier
	log        *zap.Logger

	mu              sync.RWMutex
	state           State
	history         []State
	progress        Progress
	pairs           map[string]int // items seen per source and query
	entries         []LogEntry
	results         *scoring.ResultSet
	errMsg          string
	createdAt       time.Time
	startedAt       time.Time
	finishedAt      time.Time
	cancel          context.CancelFunc
	cancelRequested bool
	onFinish        []func(Snapshot)

	done chan struct{}
}

// New creates a queued job. params are deep-copied.
func New(id string, params model.SearchParams, collectors []collector.Collector, classifier analysis.Classifier, cfg Config) *Job {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.MaxConcurrentSources <= 0 {
		cfg.MaxConcurrentSources = max(1, len(collectors))
	}
	params = params.Clone()

	estimate := len(collectors) * len(params.BusinessTypes) * params.MaxResults
	return &Job{
		id:         id,
		params:     params,
		cfg:        cfg,
		collectors: collectors,
		classifier: classifier,
		log:        zap.L().With(zap.String("component", "job"), zap.String("job_id", id)),
		state:      StateQueued,
		history:    []State{StateQueued},
		progress: Progress{
			EstimatedTotal: max(1, estimate),
			Sources:        make(map[model.Source]SourceProgress),
		},
		pairs:     make(map[string]int),
		results:   scoring.NewResultSet(),
		createdAt: cfg.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Params returns a copy of the search parameters.
func (j *Job) Params() model.SearchParams { return j.params.Clone() }

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Done is closed once the job is terminal and its finish hooks have run.
func (j *Job) Done() <-chan struct{} { return j.done }

// OnFinish registers fn to run with the final snapshot. Hooks added after
// the job finished are never called.
func (j *Job) OnFinish(fn func(Snapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onFinish = append(j.onFinish, fn)
}

// Cancel requests cancellation. It returns false when the job is already
// terminal. A queued job is cancelled as soon as it is dispatched.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	if !j.cancelRequested {
		j.appendLogLocked(LevelInfo, "", "cancellation requested")
	}
	j.cancelRequested = true
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// CancelRequested reports whether Cancel was called.
func (j *Job) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// Snapshot returns a deep copy of the job.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

// Summary returns a snapshot without the results and with only the last
// logTail log entries. It is the cheap form for status polling.
func (j *Job) Summary(logTail int) Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := j.headerLocked()
	start := len(j.entries)
	if logTail > 0 {
		start = max(0, len(j.entries)-logTail)
	}
	s.Log = append([]LogEntry(nil), j.entries[start:]...)
	return s
}

// Results returns a copy of the accepted leads in append order.
func (j *Job) Results() []model.Lead {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.results.Leads()
}

// Terminal reports whether the job reached a terminal state.
func (j *Job) Terminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Terminal()
}

// FinishedAt returns when the job reached a terminal state, or the zero time.
func (j *Job) FinishedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.finishedAt
}

// LogTail returns the last n log entries.
func (j *Job) LogTail(n int) []LogEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	start := 0
	if n > 0 && n < len(j.entries) {
		start = len(j.entries) - n
	}
	return append([]LogEntry(nil), j.entries[start:]...)
}

func (j *Job) snapshotLocked() Snapshot {
	s := j.headerLocked()
	s.Log = append([]LogEntry(nil), j.entries...)
	s.Results = j.results.Leads()
	return s
}

// headerLocked copies everything but the log and the results.
func (j *Job) headerLocked() Snapshot {
	p := j.progress
	p.Sources = maps.Clone(j.progress.Sources)
	return Snapshot{
		ID:          j.id,
		Params:      j.params.Clone(),
		State:       j.state,
		History:     append([]State(nil), j.history...),
		Progress:    p,
		ResultCount: j.results.Len(),
		Error:       j.errMsg,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}
}

func (j *Job) transitionLocked(to State) error {
	if !CanTransition(j.state, to) {
		return eris.Wrapf(ErrInvalidTransition, "job %s: %s -> %s", j.id, j.state, to)
	}
	j.state = to
	j.history = append(j.history, to)
	switch {
	case to == StateRunning:
		j.startedAt = j.cfg.Now()
	case to.Terminal():
		j.finishedAt = j.cfg.Now()
	}
	j.log.Info("job: state change", zap.String("state", string(to)))
	return nil
}

func (j *Job) appendLogLocked(level string, source model.Source, msg string) {
	e := LogEntry{Time: j.cfg.Now(), Level: level, Source: string(source), Message: msg}
	j.entries = append(j.entries, e)
	j.log.Debug(msg, zap.String("level", level), zap.String("source", string(source)))
}

func (j *Job) logf(level string, source model.Source, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appendLogLocked(level, source, msg)
}
