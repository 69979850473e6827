package job

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-scanner/internal/analysis"
	"github.com/sells-group/lead-scanner/internal/collector"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/resilience"
	"github.com/sells-group/lead-scanner/internal/scoring"
)

// Run drives the job to a terminal state. It returns an error only when the
// job was not queued; the scan outcome is recorded in the job itself.
func (j *Job) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	if err := j.transitionLocked(StateRunning); err != nil {
		j.mu.Unlock()
		return err
	}
	j.cancel = cancel
	requested := j.cancelRequested
	j.appendLogLocked(LevelInfo, "", fmt.Sprintf("scan started with %d sources", len(j.collectors)))
	j.mu.Unlock()

	if requested {
		cancel()
	}

	err := j.scan(ctx)
	j.finish(ctx, err)
	return nil
}

func (j *Job) scan(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	breakers := resilience.NewSourceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: j.cfg.BreakerThreshold,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.MaxConcurrentSources)
	for _, c := range j.collectors {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return j.runSource(gctx, c, breakers.Get(string(c.Source())))
		})
	}
	return g.Wait()
}

func (j *Job) runSource(ctx context.Context, c collector.Collector, breaker *resilience.CircuitBreaker) (err error) {
	src := c.Source()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source %s: panic: %v", src, r)
		}
	}()

	j.logf(LevelInfo, src, fmt.Sprintf("collecting via %s", c.Name()))
	for _, bt := range j.params.BusinessTypes {
		pair := string(src) + "|" + bt
		for item, cerr := range c.Collect(ctx, bt, j.params) {
			if cerr != nil {
				j.countError(src)
				if ferr := j.handleError(ctx, src, breaker, cerr); ferr != nil {
					return ferr
				}
				break
			}
			if ferr := j.processItem(ctx, src, pair, item, breaker); ferr != nil {
				return ferr
			}
		}
		j.pairDone(pair)
		if ctx.Err() != nil {
			return nil
		}
	}
	j.logf(LevelInfo, src, "source finished")
	return nil
}

func (j *Job) processItem(ctx context.Context, src model.Source, pair string, item model.CandidateItem, breaker *resilience.CircuitBreaker) error {
	result, err := j.classifier.Classify(ctx, item.Text)
	if err != nil {
		j.countItem(src, pair, false, true)
		j.observe(src, OutcomeError)
		return j.handleError(ctx, src, breaker, err)
	}
	breaker.Record(nil)

	decision := scoring.Evaluate(item, result, j.params, j.cfg.Now())
	if !decision.Accepted {
		j.countItem(src, pair, false, false)
		j.observe(src, OutcomeRejected)
		return nil
	}

	switch j.addLead(src, pair, decision.Lead) {
	case scoring.Added:
		j.observe(src, OutcomeAccepted)
		j.logf(LevelInfo, src, fmt.Sprintf("lead: %s (%s) score %.2f", decision.Lead.Company, decision.Lead.Milestone, decision.Lead.Score))
	case scoring.Replaced:
		j.observe(src, OutcomeReplaced)
		j.logf(LevelInfo, src, fmt.Sprintf("lead: %s (%s) rescored to %.2f", decision.Lead.Company, decision.Lead.Milestone, decision.Lead.Score))
	default:
		j.observe(src, OutcomeDuplicate)
	}
	return nil
}

// addLead stores an accepted lead and counts it in the same critical
// section, so a snapshot never holds a lead its progress does not count.
func (j *Job) addLead(src model.Source, pair string, l model.Lead) scoring.AddOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	outcome := j.results.Add(l)
	j.countItemLocked(src, pair, outcome == scoring.Added, false)
	return outcome
}

// handleError decides whether a failure is fatal for the job. A nil return
// means the caller should skip and carry on.
func (j *Job) handleError(ctx context.Context, src model.Source, breaker *resilience.CircuitBreaker, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}

	kind, ok := analysis.KindOf(err)
	switch {
	case resilience.IsAuth(err) || (ok && kind == analysis.KindAuth):
		j.logf(LevelError, src, fmt.Sprintf("authentication failed: %v", err))
		return fmt.Errorf("source %s: authentication failed: %w", src, err)
	case resilience.IsTransient(err) || (ok && kind == analysis.KindTransient):
		if breaker.Record(resilience.NewTransientError(err, 0)) == resilience.CircuitOpen {
			j.logf(LevelError, src, fmt.Sprintf("circuit open: %v", err))
			return fmt.Errorf("source %s: circuit open after %d transient errors: %w", src, breaker.Failures(), err)
		}
		j.logf(LevelWarn, src, fmt.Sprintf("transient error, skipping: %v", err))
	default:
		j.logf(LevelWarn, src, fmt.Sprintf("skipping item: %v", err))
	}
	return nil
}

func (j *Job) observe(src model.Source, outcome ItemOutcome) {
	if j.cfg.OnItem != nil {
		j.cfg.OnItem(src, outcome)
	}
}

// countItem updates the counters for one processed candidate. The estimate
// grows when a query yields more than assumed; percent never drops.
func (j *Job) countItem(src model.Source, pair string, accepted, failed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.countItemLocked(src, pair, accepted, failed)
}

func (j *Job) countItemLocked(src model.Source, pair string, accepted, failed bool) {
	j.pairs[pair]++
	j.progress.ItemsScanned++
	sp := j.progress.Sources[src]
	sp.Scanned++
	if accepted {
		sp.Accepted++
	}
	if failed {
		sp.Errors++
	}
	j.progress.Sources[src] = sp
	j.progress.LeadsFound = j.results.Len()
	if j.pairs[pair] > j.params.MaxResults || j.progress.ItemsScanned > j.progress.EstimatedTotal {
		j.progress.EstimatedTotal = max(j.progress.EstimatedTotal+1, j.progress.ItemsScanned)
	}
	j.updatePercentLocked()
}

func (j *Job) countError(src model.Source) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sp := j.progress.Sources[src]
	sp.Errors++
	j.progress.Sources[src] = sp
}

// pairDone shrinks the estimate by the items a finished query never yielded.
func (j *Job) pairDone(pair string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if shortfall := j.params.MaxResults - j.pairs[pair]; shortfall > 0 {
		j.progress.EstimatedTotal = max(1, j.progress.ItemsScanned, j.progress.EstimatedTotal-shortfall)
	}
	j.updatePercentLocked()
}

func (j *Job) updatePercentLocked() {
	pct := 100 * float64(j.progress.ItemsScanned) / float64(j.progress.EstimatedTotal)
	pct = min(pct, 100)
	if pct > j.progress.Percent {
		j.progress.Percent = pct
	}
}

func (j *Job) finish(ctx context.Context, scanErr error) {
	j.mu.Lock()
	var to State
	switch {
	case scanErr != nil:
		to = StateFailed
		j.errMsg = scanErr.Error()
		j.appendLogLocked(LevelError, "", "scan failed: "+j.errMsg)
	case ctx.Err() != nil:
		to = StateCancelled
		j.appendLogLocked(LevelInfo, "", "scan cancelled")
	default:
		to = StateCompleted
		j.progress.Percent = 100
		j.appendLogLocked(LevelInfo, "", fmt.Sprintf("scan completed: %d leads from %d items", j.results.Len(), j.progress.ItemsScanned))
	}
	j.progress.LeadsFound = j.results.Len()
	if err := j.transitionLocked(to); err != nil {
		j.log.Error("job: finish", zap.Error(err))
	}
	snap := j.snapshotLocked()
	hooks := append([]func(Snapshot){}, j.onFinish...)
	j.mu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
	close(j.done)
}
