package jobmanager

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scanner/internal/analysis"
	"github.com/sells-group/lead-scanner/internal/collector"
	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/model"
)

type stubCollector struct {
	texts []string
	// gate, when set, holds the sequence open until it is closed or ctx ends.
	gate chan struct{}
}

func (s *stubCollector) Source() model.Source { return model.SourceSearch }
func (s *stubCollector) Name() string         { return "stub" }

func (s *stubCollector) Collect(ctx context.Context, _ string, _ model.SearchParams) iter.Seq2[model.CandidateItem, error] {
	return func(yield func(model.CandidateItem, error) bool) {
		for _, t := range s.texts {
			if !yield(model.CandidateItem{Source: model.SourceSearch, Text: t}, nil) {
				return
			}
		}
		if s.gate == nil {
			return
		}
		select {
		case <-s.gate:
		case <-ctx.Done():
			yield(model.CandidateItem{}, ctx.Err())
		}
	}
}

type companyClassifier struct{}

func (companyClassifier) Classify(_ context.Context, text string) (model.AnalysisResult, error) {
	return model.AnalysisResult{
		Milestone: model.MilestoneExpansion,
		Entities:  model.Entities{Company: text},
		Relevance: 0.8,
	}, nil
}

var binder = analysis.BinderFunc(func(model.SearchParams) analysis.Classifier { return companyClassifier{} })

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("job-%d", n.Add(1)) }
}

func params() model.SearchParams {
	p := model.DefaultSearchParams()
	p.Location = nil
	p.BusinessTypes = []string{"bakery"}
	return p
}

func wait(t *testing.T, m *Manager, id string) job.Snapshot {
	t.Helper()
	done, err := m.Done(id)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
	s, err := m.Status(id)
	require.NoError(t, err)
	return s
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	var started, finished atomic.Int32
	m := New([]collector.Collector{&stubCollector{texts: []string{"Acme", "Globex"}}}, binder, Config{},
		WithIDGenerator(sequentialIDs()),
		WithStartHook(func(string) { started.Add(1) }),
		WithFinishHook(func(job.Snapshot) { finished.Add(1) }),
	)

	id, err := m.Submit(params())
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	s := wait(t, m, id)
	assert.Equal(t, job.StateCompleted, s.State)
	assert.Len(t, s.Results, 2)

	leads, err := m.Results(id)
	require.NoError(t, err)
	assert.Len(t, leads, 2)
	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, 1, finished.Load())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestSubmit_DefaultIDIsUUID(t *testing.T) {
	m := New(nil, binder, Config{})
	id, err := m.Submit(params())
	require.NoError(t, err)
	assert.Len(t, id, 36)
	wait(t, m, id)
}

func TestSubmit_InvalidParams(t *testing.T) {
	m := New(nil, binder, Config{})
	p := params()
	p.MaxResults = 0

	_, err := m.Submit(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_results")
	assert.Empty(t, m.List())
}

func TestUnknownID(t *testing.T) {
	m := New(nil, binder, Config{})

	_, err := m.Status("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Results("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrNotFound)
	_, err = m.Done("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_QueuedJobSkipsTheQueue(t *testing.T) {
	gate := make(chan struct{})
	m := New([]collector.Collector{&stubCollector{texts: []string{"Acme"}, gate: gate}}, binder,
		Config{MaxConcurrentJobs: 1}, WithIDGenerator(sequentialIDs()))

	first, err := m.Submit(params())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := m.Status(first)
		return s.State == job.StateRunning
	}, time.Second, 5*time.Millisecond)

	second, err := m.Submit(params())
	require.NoError(t, err)
	s, err := m.Status(second)
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, s.State)

	require.NoError(t, m.Cancel(second))
	s = wait(t, m, second)
	assert.Equal(t, []job.State{job.StateQueued, job.StateRunning, job.StateCancelled}, s.History)

	cur, err := m.Status(first)
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, cur.State, "the running job is untouched")

	close(gate)
	assert.Equal(t, job.StateCompleted, wait(t, m, first).State)
	assert.NoError(t, m.Cancel(first), "cancelling a terminal job is a no-op")
	assert.Equal(t, job.StateCompleted, wait(t, m, first).State)
}

func TestCancel_RunningJobKeepsResults(t *testing.T) {
	gate := make(chan struct{})
	m := New([]collector.Collector{&stubCollector{texts: []string{"Acme", "Globex"}, gate: gate}}, binder, Config{})

	id, err := m.Submit(params())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := m.Status(id)
		return s.Progress.LeadsFound == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel(id))
	s := wait(t, m, id)
	assert.Equal(t, job.StateCancelled, s.State)
	assert.Len(t, s.Results, 2)
}

func TestListAndActive(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	gate := make(chan struct{})
	m := New([]collector.Collector{&stubCollector{gate: gate}}, binder, Config{},
		WithClock(clk.Now), WithIDGenerator(sequentialIDs()))

	_, ok := m.Active()
	assert.False(t, ok)

	a, err := m.Submit(params())
	require.NoError(t, err)
	clk.Advance(time.Minute)
	b, err := m.Submit(params())
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID)
	assert.Equal(t, a, list[1].ID)

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, b, active.ID)

	close(gate)
	wait(t, m, a)
	wait(t, m, b)
	_, ok = m.Active()
	assert.False(t, ok)
}

func TestSummaryAndList_CarryCountsNotResults(t *testing.T) {
	m := New([]collector.Collector{&stubCollector{texts: []string{"Acme", "Globex"}}}, binder, Config{},
		WithIDGenerator(sequentialIDs()))

	id, err := m.Submit(params())
	require.NoError(t, err)
	full := wait(t, m, id)

	sum, err := m.Summary(id, 1)
	require.NoError(t, err)
	assert.Nil(t, sum.Results)
	assert.Equal(t, 2, sum.ResultCount)
	assert.Equal(t, full.Progress.LeadsFound, sum.ResultCount)
	require.Len(t, sum.Log, 1)
	assert.Equal(t, full.Log[len(full.Log)-1], sum.Log[0])

	list := m.List()
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Results)
	assert.Empty(t, list[0].Log)
	assert.Equal(t, 2, list[0].ResultCount)

	_, err = m.Summary("nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvictExpired(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	gate := make(chan struct{})
	defer close(gate)
	m := New([]collector.Collector{&stubCollector{texts: []string{"Acme"}}}, binder, Config{}, WithClock(clk.Now))

	done, err := m.Submit(params())
	require.NoError(t, err)
	wait(t, m, done)

	slow := New([]collector.Collector{&stubCollector{gate: gate}}, binder, Config{}, WithClock(clk.Now))
	running, err := slow.Submit(params())
	require.NoError(t, err)

	assert.Zero(t, m.EvictExpired(clk.Now().Add(23*time.Hour)))
	assert.Equal(t, 1, m.EvictExpired(clk.Now().Add(25*time.Hour)))
	_, err = m.Status(done)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, slow.EvictExpired(clk.Now().Add(48*time.Hour)), "running jobs are never evicted")
	_, err = slow.Status(running)
	assert.NoError(t, err)
	require.NoError(t, slow.Shutdown(context.Background()))
}

func TestEvict_UsesClock(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	m := New(nil, binder, Config{Retention: time.Hour}, WithClock(clk.Now))
	id, err := m.Submit(params())
	require.NoError(t, err)
	wait(t, m, id)

	require.NoError(t, m.Evict(context.Background()))
	assert.Len(t, m.List(), 1)

	clk.Advance(2 * time.Hour)
	require.NoError(t, m.Evict(context.Background()))
	assert.Empty(t, m.List())
}

func TestShutdown_CancelsJobs(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	m := New([]collector.Collector{&stubCollector{texts: []string{"Acme"}, gate: gate}}, binder, Config{MaxConcurrentJobs: 1})

	running, err := m.Submit(params())
	require.NoError(t, err)
	queued, err := m.Submit(params())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	for _, id := range []string{running, queued} {
		s, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, job.StateCancelled, s.State, id)
	}

	_, err = m.Submit(params())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestSubmit_CopiesParams(t *testing.T) {
	m := New(nil, binder, Config{})
	p := params()
	id, err := m.Submit(p)
	require.NoError(t, err)
	p.BusinessTypes[0] = "changed"

	s := wait(t, m, id)
	assert.Equal(t, []string{"bakery"}, s.Params.BusinessTypes)
}
