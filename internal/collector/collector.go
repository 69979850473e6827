// Package collector fetches raw candidate items from external sources behind
// a uniform, lazily evaluated interface.
package collector

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/cache"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/ratelimit"
	"github.com/sells-group/lead-scanner/internal/resilience"
)

// ErrExhausted is yielded when a sequence returned by Collect is iterated a
// second time.
var ErrExhausted = eris.New("collector: sequence already consumed")

// Collector pulls candidate items for one source.
type Collector interface {
	// Source is the origin the items are tagged with.
	Source() model.Source
	// Name identifies the implementation. It doubles as the rate limiter
	// and cache identity, so a primary and a fallback for the same source
	// never share a budget against different hosts.
	Name() string
	// Collect returns a finite, single-use sequence. Errors are yielded
	// inline; a non-nil error ends the sequence.
	Collect(ctx context.Context, query string, params model.SearchParams) iter.Seq2[model.CandidateItem, error]
}

// Deps are the shared collaborators every collector goes through.
type Deps struct {
	Limits   ratelimit.Acquirer
	Cache    cache.Cache // nil disables memoization
	CacheTTL time.Duration
	Retry    resilience.RetryConfig
}

// singleUse wraps seq so a second range over it yields ErrExhausted.
func singleUse(seq iter.Seq2[model.CandidateItem, error]) iter.Seq2[model.CandidateItem, error] {
	var used atomic.Bool
	return func(yield func(model.CandidateItem, error) bool) {
		if used.Swap(true) {
			yield(model.CandidateItem{}, ErrExhausted)
			return
		}
		seq(yield)
	}
}

// limitSeq stops seq after n items. Errors do not count toward n.
func limitSeq(seq iter.Seq2[model.CandidateItem, error], n int) iter.Seq2[model.CandidateItem, error] {
	return func(yield func(model.CandidateItem, error) bool) {
		if n <= 0 {
			return
		}
		count := 0
		for item, err := range seq {
			if !yield(item, err) || err != nil {
				return
			}
			count++
			if count >= n {
				return
			}
		}
	}
}

// locations returns the params locations, or a single empty string so
// queries still run when no location filter was given.
func locations(params model.SearchParams) []string {
	if len(params.Location) == 0 {
		return []string{""}
	}
	return params.Location
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
